package common

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents standard logging levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// LoggerConfig contains configuration for creating a logger
type LoggerConfig struct {
	Level      LogLevel // Minimum log level
	Format     string   // "json" or "text"
	Service    string   // Service name for all logs
	Version    string   // Service version
	AddCaller  bool     // Add caller information
	TimeFormat string   // Time format for logs
}

// DefaultLoggerConfig returns a logger config with sensible defaults
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:      LogLevelInfo,
		Format:     "json",
		Service:    "optrack",
		TimeFormat: time.RFC3339Nano,
	}
}

// ParseLevel maps a configured level name to a logrus level. Unknown names
// fall back to info.
func ParseLevel(level LogLevel) logrus.Level {
	switch LogLevel(strings.ToLower(string(level))) {
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelWarn, "warning":
		return logrus.WarnLevel
	case LogLevelError:
		return logrus.ErrorLevel
	case LogLevelFatal:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// Configure applies config to an existing logger
func Configure(logger *logrus.Logger, config LoggerConfig) {
	logger.SetLevel(ParseLevel(config.Level))

	if config.TimeFormat == "" {
		config.TimeFormat = time.RFC3339Nano
	}
	if config.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: config.TimeFormat,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: config.TimeFormat,
		})
	}

	logger.SetReportCaller(config.AddCaller)
}

// NewLogger creates a new configured logger instance
func NewLogger(config LoggerConfig) *logrus.Logger {
	logger := logrus.New()
	Configure(logger, config)
	logger.SetOutput(&OutputSplitter{})
	return logger
}

// ServiceLogger returns an entry carrying the service metadata fields
func ServiceLogger(logger *logrus.Logger, config LoggerConfig) *logrus.Entry {
	if logger == nil {
		logger = Logger
	}
	fields := logrus.Fields{"service": config.Service}
	if config.Version != "" {
		fields["version"] = config.Version
	}
	return logger.WithFields(fields)
}
