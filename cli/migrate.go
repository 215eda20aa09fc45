package cli

import (
	"github.com/spf13/cobra"

	"optrack.evalgo.org/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := serviceLogger(cfg)

		b, err := openBackends(cfg, log, false)
		if err != nil {
			return err
		}
		defer b.Close()

		if err := db.Migrate(b.gdb); err != nil {
			return err
		}
		log.Info("Schema is up to date")
		return nil
	},
}

func init() {
	RootCmd.AddCommand(migrateCmd)
}
