package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/syncbridge/internal/engine"
	"github.com/marcus/syncbridge/internal/output"
)

var (
	runForce      bool
	runTest       bool
	runNoDelivery bool
)

var runCmd = &cobra.Command{
	Use:   "run <synchronization>",
	Short: "Run one synchronization now",
	Long: `Enumerates the origin, reconciles every record against the contract
ledger, and writes the minimal necessary changes to the target. Change
outcomes are emitted to event subscriptions and pushed immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		rec := newReconciler(database)
		summary, err := rec.Run(cmd.Context(), args[0], engine.RunOptions{
			Force: runForce,
			Test:  runTest,
		})
		if err != nil {
			return err
		}

		printSummary(summary)

		if runTest || runNoDelivery {
			return nil
		}

		del := newDelivery(database)
		n, err := del.EmitRun(summary)
		if err != nil {
			return fmt.Errorf("emit events: %w", err)
		}
		if n > 0 {
			res, err := del.Sweep(cmd.Context(), n)
			if err != nil {
				return fmt.Errorf("deliver events: %w", err)
			}
			fmt.Printf("events: %d emitted, %d delivered, %d retrying, %d rejected\n",
				n, res.Delivered, res.Retried, res.Terminal)
		}
		return nil
	},
}

func printSummary(s *engine.Summary) {
	mode := ""
	if s.Test {
		mode = " (dry run)"
	}
	output.Header("run %s%s", s.RunUUID, mode)
	fmt.Printf("  %d created, %d updated, %d deleted, %d skipped\n",
		s.Created, s.Updated, s.Deleted, s.Skipped)
	if s.Vetoed > 0 {
		fmt.Printf("  %d vetoed by rules\n", s.Vetoed)
	}
	if s.Superseded > 0 {
		fmt.Printf("  %d superseded by a concurrent run\n", s.Superseded)
	}
	if s.Failed > 0 {
		output.Warning("%d record(s) failed", s.Failed)
		for _, o := range s.Outcomes {
			if o.Kind == engine.OutcomeFailed {
				fmt.Printf("    %s: %s\n", o.OriginID, o.Message)
			}
		}
	}
	fmt.Printf("  took %s\n", s.Duration.Round(time.Millisecond))
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "bypass change detection and re-apply every record")
	runCmd.Flags().BoolVar(&runTest, "test", false, "dry run: decide but do not write")
	runCmd.Flags().BoolVar(&runNoDelivery, "no-delivery", false, "skip event emission and push delivery")
	rootCmd.AddCommand(runCmd)
}
