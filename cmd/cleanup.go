package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/syncbridge/internal/output"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired logs and messages",
	Long: `Removes run logs, contract logs and event messages whose retention
window has passed. The worker does this periodically; cleanup runs it
once, on demand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		res, err := database.DeleteExpired(time.Now().UTC())
		if err != nil {
			return err
		}
		if res.Total() == 0 {
			fmt.Println("nothing to clean up")
			return nil
		}
		output.Success("removed %d run log(s), %d contract log(s), %d message(s)",
			res.RunLogs, res.ContractLogs, res.Messages)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
