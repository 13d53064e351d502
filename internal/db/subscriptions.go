package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/syncbridge/internal/models"
)

// UpsertSubscription creates or replaces a subscriber registration by
// reference.
func (db *DB) UpsertSubscription(sub *models.EventSubscription) error {
	filter, err := json.Marshal(sub.Filter)
	if err != nil {
		return fmt.Errorf("marshal filter: %w", err)
	}
	if sub.UUID == "" {
		sub.UUID = newUUID()
	}
	now := time.Now().UTC()

	_, err = db.conn.Exec(`
		INSERT INTO event_subscriptions (uuid, reference, style, sink, secret, filter, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(reference) DO UPDATE SET
			style = excluded.style,
			sink = excluded.sink,
			secret = excluded.secret,
			filter = excluded.filter,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, sub.UUID, sub.Reference, string(sub.Style), sub.Sink, sub.Secret, string(filter),
		boolInt(sub.Enabled), now, now)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.Reference, err)
	}

	stored, err := db.GetSubscription(sub.Reference)
	if err != nil {
		return fmt.Errorf("re-read subscription: %w", err)
	}
	sub.ID = stored.ID
	sub.UUID = stored.UUID
	return nil
}

// GetSubscription retrieves a subscription by its reference.
func (db *DB) GetSubscription(reference string) (*models.EventSubscription, error) {
	row := db.conn.QueryRow(subscriptionSelect+` WHERE reference = ?`, reference)
	return scanSubscription(row)
}

// GetSubscriptionByID retrieves a subscription by row id.
func (db *DB) GetSubscriptionByID(id int64) (*models.EventSubscription, error) {
	row := db.conn.QueryRow(subscriptionSelect+` WHERE id = ?`, id)
	return scanSubscription(row)
}

// ListSubscriptions returns all enabled subscriptions.
func (db *DB) ListSubscriptions() ([]models.EventSubscription, error) {
	rows, err := db.conn.Query(subscriptionSelect + ` WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EventSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

// DeleteSubscription removes a subscription and its messages.
func (db *DB) DeleteSubscription(reference string) error {
	sub, err := db.GetSubscription(reference)
	if err != nil {
		return err
	}
	if _, err := db.conn.Exec(`DELETE FROM event_messages WHERE subscription_id = ?`, sub.ID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	_, err = db.conn.Exec(`DELETE FROM event_subscriptions WHERE id = ?`, sub.ID)
	return err
}

const subscriptionSelect = `SELECT id, uuid, reference, style, sink, secret, filter, enabled, created_at, updated_at FROM event_subscriptions`

func scanSubscription(row rowScanner) (*models.EventSubscription, error) {
	var sub models.EventSubscription
	var style, filter string
	var enabled int

	err := row.Scan(&sub.ID, &sub.UUID, &sub.Reference, &style, &sub.Sink, &sub.Secret,
		&filter, &enabled, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sub.Style = models.SubscriptionStyle(style)
	sub.Enabled = enabled != 0
	if filter != "" {
		if err := json.Unmarshal([]byte(filter), &sub.Filter); err != nil {
			return nil, fmt.Errorf("unmarshal filter for %s: %w", sub.Reference, err)
		}
	}
	return &sub, nil
}
