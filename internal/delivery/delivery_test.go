package delivery_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/syncbridge/internal/db"
	"github.com/marcus/syncbridge/internal/delivery"
	"github.com/marcus/syncbridge/internal/engine"
	"github.com/marcus/syncbridge/internal/models"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	database, err := db.NewFromConn(conn)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func seedSubscription(t *testing.T, database *db.DB, ref, sink string, mutate func(*models.EventSubscription)) *models.EventSubscription {
	t.Helper()
	sub := &models.EventSubscription{
		Reference: ref,
		Style:     models.StylePush,
		Sink:      sink,
		Enabled:   true,
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, database.UpsertSubscription(sub))
	return sub
}

func newEngine(database *db.DB, backoff delivery.Backoff) *delivery.Engine {
	return delivery.NewEngine(delivery.Engine{
		Messages: database,
		Subs:     database,
		Backoff:  backoff,
	})
}

func summaryWith(outcomes ...engine.Outcome) *engine.Summary {
	return &engine.Summary{
		SynchronizationID: "crm",
		RunUUID:           "run-1",
		Outcomes:          outcomes,
	}
}

func TestEmitRunFansOutChangeOutcomes(t *testing.T) {
	database := newTestDB(t)
	all := seedSubscription(t, database, "all", "https://sink.example/a", nil)
	seedSubscription(t, database, "deletes-only", "https://sink.example/b", func(s *models.EventSubscription) {
		s.Filter.Actions = []string{"delete"}
	})
	seedSubscription(t, database, "other-sync", "https://sink.example/c", func(s *models.EventSubscription) {
		s.Filter.Synchronizations = []string{"billing"}
	})

	eng := newEngine(database, delivery.DefaultBackoff)
	n, err := eng.EmitRun(summaryWith(
		engine.Outcome{OriginID: "o1", Kind: engine.OutcomeCreated, Data: map[string]any{"name": "alice"}},
		engine.Outcome{OriginID: "o2", Kind: engine.OutcomeSkipped},
		engine.Outcome{OriginID: "o3", Kind: engine.OutcomeVetoed},
	))
	require.NoError(t, err)
	// Only the unfiltered subscription matches the create; skips and
	// vetoes emit nothing at all.
	assert.Equal(t, 1, n)

	msgs, err := database.ListMessagesAfter(all.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessagePending, msgs[0].Status)
	assert.Equal(t, "create", msgs[0].Action)
	assert.Contains(t, string(msgs[0].Payload), `"origin_id":"o1"`)
	assert.Contains(t, string(msgs[0].Payload), `"synchronization":"crm"`)
	assert.Nil(t, msgs[0].NextAttempt)
}

func TestSweepDeliversAndSigns(t *testing.T) {
	database := newTestDB(t)

	var gotSig, gotTS string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-SyncBridge-Signature")
		gotTS = r.Header.Get("X-SyncBridge-Timestamp")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sub := seedSubscription(t, database, "signed", srv.URL, func(s *models.EventSubscription) {
		s.Secret = "tok"
	})
	eng := newEngine(database, delivery.DefaultBackoff)
	_, err := eng.EmitRun(summaryWith(engine.Outcome{OriginID: "o1", Kind: engine.OutcomeCreated}))
	require.NoError(t, err)

	sr, err := eng.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, delivery.SweepResult{Attempted: 1, Delivered: 1}, sr)

	require.True(t, strings.HasPrefix(gotSig, "sha256="))
	mac := hmac.New(sha256.New, []byte("tok"))
	mac.Write([]byte(gotTS))
	mac.Write([]byte("."))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSig)

	msgs, err := database.ListMessagesAfter(sub.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageDelivered, msgs[0].Status)

	// Delivered messages are not picked up again.
	sr, err = eng.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, sr.Attempted)
}

func TestSweepSchedulesRetryOnServerError(t *testing.T) {
	database := newTestDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sub := seedSubscription(t, database, "flaky", srv.URL, nil)
	eng := newEngine(database, delivery.DefaultBackoff)
	_, err := eng.EmitRun(summaryWith(engine.Outcome{OriginID: "o1", Kind: engine.OutcomeUpdated}))
	require.NoError(t, err)

	before := time.Now().UTC()
	sr, err := eng.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, delivery.SweepResult{Attempted: 1, Retried: 1}, sr)

	msgs, err := database.ListMessagesAfter(sub.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, models.MessagePending, m.Status)
	assert.Equal(t, 1, m.RetryCount)
	assert.Contains(t, m.LastResponse, "status 500")
	require.NotNil(t, m.NextAttempt)
	// First retry waits one base interval.
	assert.WithinDuration(t, before.Add(time.Minute), *m.NextAttempt, 5*time.Second)

	// Not due yet, so an immediate re-sweep leaves it alone.
	sr, err = eng.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, sr.Attempted)
}

func TestSweepTerminalOnGoneSink(t *testing.T) {
	database := newTestDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	sub := seedSubscription(t, database, "gone", srv.URL, nil)
	eng := newEngine(database, delivery.DefaultBackoff)
	_, err := eng.EmitRun(summaryWith(engine.Outcome{OriginID: "o1", Kind: engine.OutcomeCreated}))
	require.NoError(t, err)

	sr, err := eng.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, delivery.SweepResult{Attempted: 1, Terminal: 1}, sr)

	msgs, _ := database.ListMessagesAfter(sub.ID, 0, 10)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageFailed, msgs[0].Status)
	// Terminal failures keep their retry count; no budget was spent.
	assert.Zero(t, msgs[0].RetryCount)
}

func TestSweepExhaustsRetryBudget(t *testing.T) {
	database := newTestDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sub := seedSubscription(t, database, "doomed", srv.URL, nil)
	// Zero backoff so every failure is immediately due again.
	eng := newEngine(database, delivery.Backoff{Base: 0, Cap: 0, MaxRetries: 3})
	_, err := eng.EmitRun(summaryWith(engine.Outcome{OriginID: "o1", Kind: engine.OutcomeCreated}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		sr, err := eng.Sweep(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, sr.Attempted, "sweep %d", i)
	}

	msgs, _ := database.ListMessagesAfter(sub.ID, 0, 10)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageFailed, msgs[0].Status)
	assert.Equal(t, 3, msgs[0].RetryCount)

	// The budget is spent; nothing remains to attempt.
	sr, err := eng.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, sr.Attempted)
}

func TestSweepSubscriptionNarrowsToOneSink(t *testing.T) {
	database := newTestDB(t)
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	seedSubscription(t, database, "wanted", srv.URL, nil)
	other := seedSubscription(t, database, "other", srv.URL, nil)

	eng := newEngine(database, delivery.DefaultBackoff)
	_, err := eng.EmitRun(summaryWith(engine.Outcome{OriginID: "o1", Kind: engine.OutcomeCreated}))
	require.NoError(t, err)

	sr, err := eng.SweepSubscription(context.Background(), "wanted", 10)
	require.NoError(t, err)
	assert.Equal(t, delivery.SweepResult{Attempted: 1, Delivered: 1}, sr)
	assert.Equal(t, 1, hits)

	// The other subscription's message is still pending.
	msgs, err := database.ListMessagesAfter(other.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessagePending, msgs[0].Status)
}

func TestSweepSubscriptionRejectsPullStyle(t *testing.T) {
	database := newTestDB(t)
	seedSubscription(t, database, "reader", "", func(s *models.EventSubscription) {
		s.Style = models.StylePull
	})

	eng := newEngine(database, delivery.DefaultBackoff)
	_, err := eng.SweepSubscription(context.Background(), "reader", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not push")
}

func TestSweepDeliversAfterTransientFailures(t *testing.T) {
	database := newTestDB(t)
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sub := seedSubscription(t, database, "recovering", srv.URL, nil)
	eng := newEngine(database, delivery.Backoff{Base: 0, Cap: 0, MaxRetries: 10})
	_, err := eng.EmitRun(summaryWith(engine.Outcome{OriginID: "o1", Kind: engine.OutcomeCreated}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		sr, err := eng.Sweep(context.Background(), 10)
		require.NoError(t, err)
		require.Equal(t, 1, sr.Attempted, "sweep %d", i)
	}

	msgs, _ := database.ListMessagesAfter(sub.ID, 0, 10)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageDelivered, msgs[0].Status)
	assert.Equal(t, 2, msgs[0].RetryCount, "two failures preceded the delivery")
}

func TestSweepIgnoresPullMessages(t *testing.T) {
	database := newTestDB(t)
	seedSubscription(t, database, "reader", "", func(s *models.EventSubscription) {
		s.Style = models.StylePull
	})

	eng := newEngine(database, delivery.DefaultBackoff)
	n, err := eng.EmitRun(summaryWith(engine.Outcome{OriginID: "o1", Kind: engine.OutcomeCreated}))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	sr, err := eng.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, sr.Attempted, "pull messages must wait for their reader")
}

func TestPullCursorIsNonConsuming(t *testing.T) {
	database := newTestDB(t)
	seedSubscription(t, database, "reader", "", func(s *models.EventSubscription) {
		s.Style = models.StylePull
	})

	eng := newEngine(database, delivery.DefaultBackoff)
	_, err := eng.EmitRun(summaryWith(
		engine.Outcome{OriginID: "o1", Kind: engine.OutcomeCreated},
		engine.Outcome{OriginID: "o2", Kind: engine.OutcomeUpdated},
	))
	require.NoError(t, err)

	first, err := eng.Pull("reader", 0, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Same cursor, same answer.
	again, err := eng.Pull("reader", 0, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].ID, again[0].ID)

	rest, err := eng.Pull("reader", first[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Contains(t, string(rest[0].Payload), `"origin_id":"o2"`)
}

func TestPullRejectsPushSubscriptions(t *testing.T) {
	database := newTestDB(t)
	seedSubscription(t, database, "pusher", "https://sink.example", nil)

	eng := newEngine(database, delivery.DefaultBackoff)
	_, err := eng.Pull("pusher", 0, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not pull")
}

func TestPullUnknownSubscription(t *testing.T) {
	database := newTestDB(t)
	eng := newEngine(database, delivery.DefaultBackoff)
	_, err := eng.Pull("ghost", 0, 10)
	assert.ErrorIs(t, err, db.ErrNotFound)
}
