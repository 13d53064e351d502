package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/syncbridge/internal/db"
	"github.com/marcus/syncbridge/internal/output"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the syncbridge database",
	Long:  `Creates the SQLite database and schema at the configured path.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfg.DBPath); err == nil {
			output.Warning("%s already exists", cfg.DBPath)
			return nil
		}

		database, err := db.Initialize(cfg.DBPath)
		if err != nil {
			output.Error("initialize database: %v", err)
			return err
		}
		defer database.Close()

		output.Success("initialized %s", cfg.DBPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
