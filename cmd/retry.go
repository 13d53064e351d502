package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/syncbridge/internal/delivery"
	"github.com/marcus/syncbridge/internal/output"
)

var (
	retryLimit        int
	retrySubscription string
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Attempt due push deliveries once",
	Long: `Runs one delivery sweep: every pending push message whose next
attempt time has arrived is tried, oldest first. Failures reschedule
with exponential backoff until the retry budget is spent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		del := newDelivery(database)
		var res delivery.SweepResult
		if retrySubscription != "" {
			res, err = del.SweepSubscription(cmd.Context(), retrySubscription, retryLimit)
		} else {
			res, err = del.Sweep(cmd.Context(), retryLimit)
		}
		if err != nil {
			return err
		}

		if res.Attempted == 0 {
			fmt.Println("no deliveries due")
			return nil
		}
		output.Success("%d attempted: %d delivered, %d retrying, %d rejected",
			res.Attempted, res.Delivered, res.Retried, res.Terminal)
		return nil
	},
}

func init() {
	retryCmd.Flags().IntVar(&retryLimit, "limit", 100, "max messages to attempt")
	retryCmd.Flags().StringVar(&retrySubscription, "subscription", "", "sweep only this subscription reference")
	rootCmd.AddCommand(retryCmd)
}
