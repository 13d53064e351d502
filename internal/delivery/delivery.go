// Package delivery implements the event fan-out and retry subsystem:
// run outcomes become per-subscription messages, push messages are
// POSTed to sinks with deterministic backoff on failure, and pull
// subscribers read messages through a cursor.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/syncbridge/internal/engine"
	"github.com/marcus/syncbridge/internal/models"
)

// DefaultMessageRetention is how long messages are kept after creation,
// delivered or not. Pull subscribers must consume within this window.
const DefaultMessageRetention = 7 * 24 * time.Hour

// MessageStore is the outbox persistence the delivery engine needs.
type MessageStore interface {
	InsertMessage(m *models.EventMessage) error
	FindPendingRetries(subscriptionID int64, maxRetries, limit int, now time.Time) ([]models.EventMessage, error)
	MarkDelivered(id int64, response string, at time.Time) error
	MarkFailed(id int64, response string, at, nextAttempt time.Time, maxRetries int) error
	MarkFailedTerminal(id int64, response string, at time.Time) error
	ListMessagesAfter(subscriptionID, afterID int64, limit int) ([]models.EventMessage, error)
}

// SubscriptionStore resolves subscriptions.
type SubscriptionStore interface {
	ListSubscriptions() ([]models.EventSubscription, error)
	GetSubscription(reference string) (*models.EventSubscription, error)
	GetSubscriptionByID(id int64) (*models.EventSubscription, error)
}

// Event is the wire payload of one change notification.
type Event struct {
	Synchronization string         `json:"synchronization"`
	RunUUID         string         `json:"run_uuid,omitempty"`
	ContractUUID    string         `json:"contract_uuid,omitempty"`
	Action          string         `json:"action"`
	OriginID        string         `json:"origin_id,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	EmittedAt       time.Time      `json:"emitted_at"`
}

// Engine fans run outcomes out to subscriptions and drives push
// delivery with retries.
type Engine struct {
	Messages  MessageStore
	Subs      SubscriptionStore
	Transport Transport
	Backoff   Backoff
	Retention time.Duration
	Logger    *slog.Logger

	now func() time.Time
}

// NewEngine wires a delivery engine with defaults filled in.
func NewEngine(e Engine) *Engine {
	if e.Transport == nil {
		e.Transport = NewHTTPTransport()
	}
	if e.Backoff == (Backoff{}) {
		e.Backoff = DefaultBackoff
	}
	if e.Retention <= 0 {
		e.Retention = DefaultMessageRetention
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return &e
}

// EmitRun creates one pending message per (change outcome, matching
// subscription) pair. Skips, vetoes and superseded outcomes caused no
// target change and emit nothing. Messages start pending with no next
// attempt time, so the next sweep picks push messages up immediately.
func (e *Engine) EmitRun(summary *engine.Summary) (int, error) {
	subs, err := e.Subs.ListSubscriptions()
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	now := e.now().UTC()
	emitted := 0
	for _, out := range summary.Outcomes {
		action, ok := changeAction(out)
		if !ok {
			continue
		}

		payload, err := json.Marshal(Event{
			Synchronization: summary.SynchronizationID,
			RunUUID:         summary.RunUUID,
			ContractUUID:    out.ContractUUID,
			Action:          string(action),
			OriginID:        out.OriginID,
			Data:            out.Data,
			EmittedAt:       now,
		})
		if err != nil {
			return emitted, fmt.Errorf("marshal event for %s: %w", out.OriginID, err)
		}

		for i := range subs {
			sub := &subs[i]
			if !sub.Filter.Matches(summary.SynchronizationID, string(action)) {
				continue
			}
			msg := &models.EventMessage{
				SubscriptionID: sub.ID,
				RunUUID:        summary.RunUUID,
				ContractUUID:   out.ContractUUID,
				Action:         string(action),
				Payload:        payload,
				Created:        now,
				Expires:        now.Add(e.Retention),
			}
			if err := e.Messages.InsertMessage(msg); err != nil {
				return emitted, fmt.Errorf("enqueue message for %s: %w", sub.Reference, err)
			}
			emitted++
		}
	}
	return emitted, nil
}

// Attempt delivers one message and records the result. Transient
// failures schedule the next retry; terminal failures and exhausted
// budgets end the message's life.
func (e *Engine) Attempt(ctx context.Context, sub *models.EventSubscription, msg *models.EventMessage) (Result, error) {
	res := e.Transport.Push(ctx, sub, msg)
	now := e.now().UTC()

	switch res.Disposition {
	case DispositionDelivered:
		if err := e.Messages.MarkDelivered(msg.ID, res.Response, now); err != nil {
			return res, fmt.Errorf("mark delivered %s: %w", msg.UUID, err)
		}
		e.Logger.Debug("message delivered", "message", msg.UUID, "subscription", sub.Reference, "retries", msg.RetryCount)
	case DispositionTerminal:
		if err := e.Messages.MarkFailedTerminal(msg.ID, res.Response, now); err != nil {
			return res, fmt.Errorf("mark failed %s: %w", msg.UUID, err)
		}
		e.Logger.Warn("message rejected permanently", "message", msg.UUID, "subscription", sub.Reference, "response", res.Response)
	case DispositionRetry:
		next := e.Backoff.NextAttempt(now, msg.RetryCount+1)
		if err := e.Messages.MarkFailed(msg.ID, res.Response, now, next, e.Backoff.MaxRetries); err != nil {
			return res, fmt.Errorf("mark failed %s: %w", msg.UUID, err)
		}
		if e.Backoff.Exhausted(msg.RetryCount + 1) {
			e.Logger.Warn("message retries exhausted", "message", msg.UUID, "subscription", sub.Reference, "retries", msg.RetryCount+1)
		} else {
			e.Logger.Debug("message retry scheduled", "message", msg.UUID, "subscription", sub.Reference, "next", next)
		}
	}
	return res, nil
}

// SweepResult reports what one retry sweep did.
type SweepResult struct {
	Attempted int
	Delivered int
	Retried   int
	Terminal  int
}

// Sweep attempts every due push message, oldest first, up to limit.
// Only messages of enabled push subscriptions are selected; pull
// messages sit until their subscriber reads them.
func (e *Engine) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	return e.sweep(ctx, 0, limit)
}

// SweepSubscription runs one sweep narrowed to a single push
// subscription, addressed by reference.
func (e *Engine) SweepSubscription(ctx context.Context, reference string, limit int) (SweepResult, error) {
	sub, err := e.Subs.GetSubscription(reference)
	if err != nil {
		return SweepResult{}, fmt.Errorf("subscription %s: %w", reference, err)
	}
	if sub.Style != models.StylePush {
		return SweepResult{}, fmt.Errorf("subscription %s is %s, not push", reference, sub.Style)
	}
	return e.sweep(ctx, sub.ID, limit)
}

func (e *Engine) sweep(ctx context.Context, subscriptionID int64, limit int) (SweepResult, error) {
	var sr SweepResult
	due, err := e.Messages.FindPendingRetries(subscriptionID, e.Backoff.MaxRetries, limit, e.now().UTC())
	if err != nil {
		return sr, fmt.Errorf("find due messages: %w", err)
	}

	for i := range due {
		if err := ctx.Err(); err != nil {
			return sr, err
		}
		msg := &due[i]
		sub, err := e.Subs.GetSubscriptionByID(msg.SubscriptionID)
		if err != nil {
			// Subscription vanished between selection and attempt.
			if markErr := e.Messages.MarkFailedTerminal(msg.ID, "subscription gone", e.now().UTC()); markErr != nil {
				return sr, fmt.Errorf("mark orphaned message %s: %w", msg.UUID, markErr)
			}
			sr.Attempted++
			sr.Terminal++
			continue
		}

		res, err := e.Attempt(ctx, sub, msg)
		if err != nil {
			return sr, err
		}
		sr.Attempted++
		switch res.Disposition {
		case DispositionDelivered:
			sr.Delivered++
		case DispositionTerminal:
			sr.Terminal++
		case DispositionRetry:
			sr.Retried++
		}
	}
	return sr, nil
}

// Pull returns up to limit messages after the caller's cursor for a
// pull subscription. The cursor is caller-owned; re-reading the same
// cursor returns the same messages.
func (e *Engine) Pull(reference string, afterID int64, limit int) ([]models.EventMessage, error) {
	sub, err := e.Subs.GetSubscription(reference)
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", reference, err)
	}
	if sub.Style != models.StylePull {
		return nil, fmt.Errorf("subscription %s is %s, not pull", reference, sub.Style)
	}
	return e.Messages.ListMessagesAfter(sub.ID, afterID, limit)
}

// changeAction maps an outcome to the action subscribers see. Only
// outcomes that changed the target emit events.
func changeAction(out engine.Outcome) (models.Action, bool) {
	switch out.Kind {
	case engine.OutcomeCreated:
		return models.ActionCreate, true
	case engine.OutcomeUpdated:
		return models.ActionUpdate, true
	case engine.OutcomeDeleted:
		return models.ActionDelete, true
	}
	return "", false
}
