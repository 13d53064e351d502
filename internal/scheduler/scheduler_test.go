package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/syncbridge/internal/engine"
	"github.com/marcus/syncbridge/internal/models"
)

type fakeRunner struct {
	runs      []string
	summaries map[string]*engine.Summary
	errs      map[string]error
}

func (r *fakeRunner) Run(ctx context.Context, syncID string, opts engine.RunOptions) (*engine.Summary, error) {
	r.runs = append(r.runs, syncID)
	if err := r.errs[syncID]; err != nil {
		return nil, err
	}
	if s := r.summaries[syncID]; s != nil {
		return s, nil
	}
	return &engine.Summary{SynchronizationID: syncID}, nil
}

type fakeDue struct {
	due []models.Synchronization
}

func (d *fakeDue) ListDueSynchronizations(now time.Time) ([]models.Synchronization, error) {
	return d.due, nil
}

func dueSyncs(ids ...string) []models.Synchronization {
	out := make([]models.Synchronization, len(ids))
	for i, id := range ids {
		out[i] = models.Synchronization{ID: id, Name: id, Enabled: true}
	}
	return out
}

func TestTickRunsEveryDueSynchronization(t *testing.T) {
	runner := &fakeRunner{}
	s := New(Scheduler{
		Runner: runner,
		Due:    &fakeDue{due: dueSyncs("a", "b")},
	})

	s.Tick(context.Background())
	assert.Equal(t, []string{"a", "b"}, runner.runs)
}

func TestTickContinuesPastFailedRun(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{
		"bad":    errors.New("boom"),
		"broken": engine.ErrConfiguration,
	}}
	s := New(Scheduler{
		Runner: runner,
		Due:    &fakeDue{due: dueSyncs("bad", "broken", "good")},
	})

	s.Tick(context.Background())
	assert.Equal(t, []string{"bad", "broken", "good"}, runner.runs)
}

func TestTickRunsFollowUpsSameTick(t *testing.T) {
	runner := &fakeRunner{summaries: map[string]*engine.Summary{
		"a": {SynchronizationID: "a", FollowUps: []string{"b", "a"}},
	}}
	s := New(Scheduler{
		Runner: runner,
		Due:    &fakeDue{due: dueSyncs("a")},
	})

	s.Tick(context.Background())
	// The self-reference is skipped; only the other follow-up runs.
	assert.Equal(t, []string{"a", "b"}, runner.runs)
}

func TestTickStopsOnCanceledContext(t *testing.T) {
	runner := &fakeRunner{}
	s := New(Scheduler{
		Runner: runner,
		Due:    &fakeDue{due: dueSyncs("a", "b")},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Tick(ctx)
	assert.Empty(t, runner.runs)
}

func TestNewFillsDefaults(t *testing.T) {
	s := New(Scheduler{Runner: &fakeRunner{}, Due: &fakeDue{}})
	require.NotNil(t, s.Logger)
	assert.Equal(t, 30*time.Second, s.Interval)
	assert.Equal(t, 100, s.SweepBatch)
	assert.Equal(t, 120, s.ReapEvery)
}
