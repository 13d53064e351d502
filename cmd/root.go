// Package cmd implements the syncbridge CLI commands.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/syncbridge/internal/collab"
	"github.com/marcus/syncbridge/internal/config"
	"github.com/marcus/syncbridge/internal/db"
	"github.com/marcus/syncbridge/internal/delivery"
	"github.com/marcus/syncbridge/internal/engine"
	"github.com/marcus/syncbridge/internal/restapi"
)

var (
	appVersion string
	cfg     config.Config
	logger  *slog.Logger

	dbPath string
)

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	appVersion = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "syncbridge",
	Short: "Synchronization bridge between external systems",
	Long: `syncbridge reconciles records between origin and target systems.

Each synchronization enumerates its origin, detects per-record changes
through content hashing, applies mappings and rules, writes the minimal
necessary changes to the target, and keeps a contract ledger tying
origin objects to target objects. Run outcomes fan out to event
subscriptions with retried push delivery.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default $SYNCBRIDGE_DB_PATH or ./syncbridge.db)")
}

func initConfig() {
	cfg = config.Load()
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	logger = cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
}

// openDB opens the existing database for a command.
func openDB() (*db.DB, error) {
	return db.Open(cfg.DBPath)
}

// newReconciler assembles the engine with the default collaborators.
func newReconciler(database *db.DB) *engine.Reconciler {
	rest := restapi.NewClient()
	return engine.NewReconciler(engine.Reconciler{
		Syncs:        database,
		Contracts:    database,
		Logs:         database,
		Mapper:       &collab.FieldMapper{Store: database},
		Rules:        collab.BasicRules{},
		Target:       rest,
		Origin:       rest,
		Logger:       logger,
		LogRetention: cfg.LogRetention,
	})
}

// newDelivery assembles the delivery engine from configuration.
func newDelivery(database *db.DB) *delivery.Engine {
	return delivery.NewEngine(delivery.Engine{
		Messages: database,
		Subs:     database,
		Backoff: delivery.Backoff{
			Base:       cfg.RetryBase,
			Cap:        cfg.RetryCap,
			MaxRetries: cfg.MaxRetries,
		},
		Retention: cfg.MessageRetention,
		Logger:    logger,
	})
}
