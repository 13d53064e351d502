package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/syncbridge/internal/scheduler"
)

var workerInterval time.Duration

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background worker",
	Long: `Runs the scheduler loop until interrupted: due synchronizations are
reconciled on their intervals, pending push deliveries are swept, and
expired logs and messages are reaped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		interval := cfg.WorkerInterval
		if workerInterval > 0 {
			interval = workerInterval
		}

		sched := scheduler.New(scheduler.Scheduler{
			Runner:     newReconciler(database),
			Due:        database,
			Delivery:   newDelivery(database),
			Reaper:     database,
			Interval:   interval,
			SweepBatch: cfg.SweepBatch,
			Logger:     logger,
		})
		sched.Run(ctx)
		return nil
	},
}

func init() {
	workerCmd.Flags().DurationVar(&workerInterval, "interval", 0, "scheduler tick (default $SYNCBRIDGE_WORKER_INTERVAL or 30s)")
	rootCmd.AddCommand(workerCmd)
}
