// Package scheduler drives the background worker: due synchronizations
// are run on their configured intervals, pending deliveries are swept,
// and expired logs and messages are reaped.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/marcus/syncbridge/internal/db"
	"github.com/marcus/syncbridge/internal/delivery"
	"github.com/marcus/syncbridge/internal/engine"
	"github.com/marcus/syncbridge/internal/models"
)

// SyncRunner runs one reconciliation, the scheduler does not care how.
type SyncRunner interface {
	Run(ctx context.Context, syncID string, opts engine.RunOptions) (*engine.Summary, error)
}

// DueLister finds synchronizations whose interval has elapsed.
type DueLister interface {
	ListDueSynchronizations(now time.Time) ([]models.Synchronization, error)
}

// Reaper deletes expired rows.
type Reaper interface {
	DeleteExpired(now time.Time) (db.RetentionResult, error)
}

// Scheduler owns the worker loop. One tick runs every due
// synchronization, emits and sweeps deliveries, and periodically reaps
// expired rows.
type Scheduler struct {
	Runner   SyncRunner
	Due      DueLister
	Delivery *delivery.Engine
	Reaper   Reaper

	Interval   time.Duration
	SweepBatch int
	// ReapEvery sets how many ticks pass between retention reaps.
	ReapEvery int
	Logger    *slog.Logger

	now func() time.Time
}

// New wires a scheduler with defaults filled in.
func New(s Scheduler) *Scheduler {
	if s.Interval <= 0 {
		s.Interval = 30 * time.Second
	}
	if s.SweepBatch <= 0 {
		s.SweepBatch = 100
	}
	if s.ReapEvery <= 0 {
		s.ReapEvery = 120
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return &s
}

// Run blocks until ctx is canceled. A tick that fails is logged and the
// loop carries on; only cancellation stops the worker.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Logger.Info("worker started", "interval", s.Interval, "sweep_batch", s.SweepBatch)

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("worker stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			ticks++
			s.Tick(ctx)
			if ticks%s.ReapEvery == 0 {
				s.reap()
			}
		}
	}
}

// Tick performs one scheduler pass: due runs, then a delivery sweep.
func (s *Scheduler) Tick(ctx context.Context) {
	s.runDue(ctx)
	s.sweep(ctx)
}

func (s *Scheduler) runDue(ctx context.Context) {
	due, err := s.Due.ListDueSynchronizations(s.now().UTC())
	if err != nil {
		s.Logger.Error("list due synchronizations", "err", err)
		return
	}

	for _, sync := range due {
		if ctx.Err() != nil {
			return
		}
		summary, err := s.Runner.Run(ctx, sync.ID, engine.RunOptions{})
		if err != nil {
			if errors.Is(err, engine.ErrConfiguration) {
				s.Logger.Error("synchronization misconfigured", "sync", sync.ID, "err", err)
			} else {
				s.Logger.Error("scheduled run failed", "sync", sync.ID, "err", err)
			}
			continue
		}

		if s.Delivery != nil {
			if n, err := s.Delivery.EmitRun(summary); err != nil {
				s.Logger.Error("emit run events", "sync", sync.ID, "run", summary.RunUUID, "err", err)
			} else if n > 0 {
				s.Logger.Debug("events emitted", "sync", sync.ID, "run", summary.RunUUID, "count", n)
			}
		}

		// Follow-up synchronizations requested by rules run in the same
		// tick, without hints, so their own scheduling stays untouched.
		for _, followUp := range summary.FollowUps {
			if followUp == sync.ID {
				continue
			}
			if _, err := s.Runner.Run(ctx, followUp, engine.RunOptions{}); err != nil {
				s.Logger.Error("follow-up run failed", "sync", followUp, "requested_by", sync.ID, "err", err)
			}
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if s.Delivery == nil {
		return
	}
	res, err := s.Delivery.Sweep(ctx, s.SweepBatch)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.Logger.Error("delivery sweep", "err", err)
	}
	if res.Attempted > 0 {
		s.Logger.Info("delivery sweep complete",
			"attempted", res.Attempted, "delivered", res.Delivered,
			"retried", res.Retried, "terminal", res.Terminal)
	}
}

func (s *Scheduler) reap() {
	if s.Reaper == nil {
		return
	}
	res, err := s.Reaper.DeleteExpired(s.now().UTC())
	if err != nil {
		s.Logger.Error("retention reap", "err", err)
		return
	}
	if res.Total() > 0 {
		s.Logger.Info("retention reap complete",
			"run_logs", res.RunLogs, "contract_logs", res.ContractLogs, "messages", res.Messages)
	}
}
