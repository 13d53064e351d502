package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/syncbridge/internal/models"
	"github.com/marcus/syncbridge/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show synchronizations and delivery state",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		syncs, err := database.ListSynchronizations()
		if err != nil {
			return err
		}

		output.Header("synchronizations")
		if len(syncs) == 0 {
			fmt.Println("  none configured")
		}
		for _, s := range syncs {
			state := "enabled"
			if !s.Enabled {
				state = "disabled"
			}
			lastRun := "never"
			if s.LastRunAt != nil {
				lastRun = s.LastRunAt.Local().Format(time.RFC3339)
			}
			interval := s.Interval
			if interval == "" {
				interval = "manual"
			}
			contracts, err := database.ListContracts(s.ID)
			if err != nil {
				return err
			}
			fmt.Printf("  %-24s %s  interval=%s  contracts=%d  last run %s\n",
				s.ID, output.Status(state), interval, len(contracts), lastRun)
		}

		subs, err := database.ListSubscriptions()
		if err != nil {
			return err
		}

		fmt.Println()
		output.Header("subscriptions")
		if len(subs) == 0 {
			fmt.Println("  none configured")
		}
		for _, sub := range subs {
			counts, err := database.CountMessagesByStatus(sub.ID)
			if err != nil {
				return err
			}
			fmt.Printf("  %-24s %-4s  pending=%d delivered=%d failed=%d\n",
				sub.Reference, sub.Style,
				counts[models.MessagePending], counts[models.MessageDelivered], counts[models.MessageFailed])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
