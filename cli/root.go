// Package cli provides the optrack command-line interface: the HTTP server,
// one-shot recovery sweeps and schema migration.
//
// Configuration precedence (highest to lowest):
//  1. Command-line flags
//  2. Environment variables (OPTRACK_ prefix)
//  3. Configuration file values
//  4. Default values
package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"optrack.evalgo.org/common"
	"optrack.evalgo.org/config"
)

var (
	cfgFile string
	v       = viper.New()
)

// RootCmd is the optrack entry point
var RootCmd = &cobra.Command{
	Use:   "optrack",
	Short: "operation lifecycle tracking service",
	Long: `optrack tracks long-running operations through PENDING, RUNNING, SUCCESS and FAILED.

Status changes are serialized per operation with a Redis lease and a PostgreSQL
row lock, replayed safely through idempotency keys, executed by a bounded
worker pool and recovered by a periodic sweeper when a worker disappears.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, ~/.optrack, /etc/optrack)")

	RootCmd.PersistentFlags().String("database-dsn", "", "PostgreSQL connection string")
	RootCmd.PersistentFlags().String("redis-url", "", "Redis URL for locks and cache")
	RootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	RootCmd.PersistentFlags().String("log-format", "", "log format (json, text)")
	RootCmd.PersistentFlags().Duration("stuck-threshold", 0, "reclaim operations RUNNING longer than this")

	bindFlags(RootCmd.PersistentFlags(), map[string]string{
		"database.dsn":              "database-dsn",
		"redis.url":                 "redis-url",
		"logging.level":             "log-level",
		"logging.format":            "log-format",
		"lifecycle.stuck_threshold": "stuck-threshold",
	})
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// loadConfig resolves configuration and applies the logging section to the
// process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWith(config.NewLoaderWithViper(v, config.EnvPrefix), cfgFile)
	if err != nil {
		return nil, err
	}

	common.Configure(common.Logger, common.LoggerConfig{
		Level:   common.LogLevel(cfg.Logging.Level),
		Format:  cfg.Logging.Format,
		Service: cfg.Service.Name,
		Version: cfg.Service.Version,
	})
	if used := v.ConfigFileUsed(); used != "" {
		common.Logger.WithField("file", used).Debug("Using config file")
	}
	return cfg, nil
}

func serviceLogger(cfg *config.Config) *logrus.Entry {
	return common.ServiceLogger(common.Logger, common.LoggerConfig{
		Service: cfg.Service.Name,
		Version: cfg.Service.Version,
	})
}

// bindFlags binds viper keys to flag names in fs
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}
