package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/syncbridge/internal/models"
)

// InsertMessage enqueues a new event message in pending state. Only the
// delivery engine mutates the row afterwards.
func (db *DB) InsertMessage(m *models.EventMessage) error {
	if m.UUID == "" {
		m.UUID = newUUID()
	}
	if m.Status == "" {
		m.Status = models.MessagePending
	}
	if m.Created.IsZero() {
		m.Created = time.Now().UTC()
	}
	if m.Expires.IsZero() {
		return fmt.Errorf("event message requires an expiry")
	}

	res, err := db.conn.Exec(`
		INSERT INTO event_messages (uuid, subscription_id, run_uuid, contract_uuid, action, payload, status, retry_count, created, expires)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, m.UUID, m.SubscriptionID, m.RunUUID, m.ContractUUID, m.Action, string(m.Payload),
		string(m.Status), m.Created, m.Expires)
	if err != nil {
		return fmt.Errorf("insert event message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

// GetMessage retrieves a message by id.
func (db *DB) GetMessage(id int64) (*models.EventMessage, error) {
	row := db.conn.QueryRow(messageSelect+` WHERE m.id = ?`, id)
	return scanMessage(row)
}

// FindPendingRetries returns pending push-subscription messages that are
// due: retry_count below maxRetries and next_attempt unset or elapsed.
// A non-zero subscriptionID narrows the sweep to one subscription.
// Ordered by creation so older messages go first; bounded by limit. The
// partial index on status='pending' keeps this off delivered rows.
func (db *DB) FindPendingRetries(subscriptionID int64, maxRetries, limit int, now time.Time) ([]models.EventMessage, error) {
	rows, err := db.conn.Query(messageSelect+`
		JOIN event_subscriptions s ON s.id = m.subscription_id
		WHERE m.status = 'pending'
		  AND m.retry_count < ?
		  AND (m.next_attempt IS NULL OR m.next_attempt <= ?)
		  AND s.style = 'push'
		  AND s.enabled = 1
		  AND (? = 0 OR m.subscription_id = ?)
		ORDER BY m.id
		LIMIT ?
	`, maxRetries, now.UTC(), subscriptionID, subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// MarkDelivered transitions a message to its terminal success state.
func (db *DB) MarkDelivered(id int64, response string, at time.Time) error {
	res, err := db.conn.Exec(`
		UPDATE event_messages
		SET status = 'delivered', last_response = ?, last_attempt = ?, next_attempt = NULL
		WHERE id = ?
	`, response, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark delivered %d: %w", id, err)
	}
	return requireRow(res)
}

// MarkFailed records a failed attempt: bumps retry_count, stamps the
// attempt, and schedules next_attempt. The message stays pending while
// retries remain and becomes terminally failed once the budget is spent.
func (db *DB) MarkFailed(id int64, response string, at, nextAttempt time.Time, maxRetries int) error {
	res, err := db.conn.Exec(`
		UPDATE event_messages
		SET retry_count = retry_count + 1,
		    last_response = ?,
		    last_attempt = ?,
		    next_attempt = ?,
		    status = CASE WHEN retry_count + 1 >= ? THEN 'failed' ELSE 'pending' END
		WHERE id = ?
	`, response, at.UTC(), nextAttempt.UTC(), maxRetries, id)
	if err != nil {
		return fmt.Errorf("mark failed %d: %w", id, err)
	}
	return requireRow(res)
}

// MarkFailedTerminal fails a message immediately with no further
// retries, e.g. when the subscriber reports itself gone.
func (db *DB) MarkFailedTerminal(id int64, response string, at time.Time) error {
	res, err := db.conn.Exec(`
		UPDATE event_messages
		SET status = 'failed', last_response = ?, last_attempt = ?, next_attempt = NULL
		WHERE id = ?
	`, response, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark terminally failed %d: %w", id, err)
	}
	return requireRow(res)
}

// ListMessagesAfter returns messages for a subscription with id greater
// than the cursor, in creation order, bounded by limit. Advancing the
// cursor is the subscriber's responsibility.
func (db *DB) ListMessagesAfter(subscriptionID, afterID int64, limit int) ([]models.EventMessage, error) {
	rows, err := db.conn.Query(messageSelect+`
		WHERE m.subscription_id = ? AND m.id > ?
		ORDER BY m.id
		LIMIT ?
	`, subscriptionID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// CountMessagesByStatus returns message counts per status for a
// subscription; subscriptionID 0 covers all subscriptions.
func (db *DB) CountMessagesByStatus(subscriptionID int64) (map[models.MessageStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM event_messages`
	var args []any
	if subscriptionID != 0 {
		query += ` WHERE subscription_id = ?`
		args = append(args, subscriptionID)
	}
	query += ` GROUP BY status`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.MessageStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.MessageStatus(status)] = n
	}
	return counts, rows.Err()
}

const messageSelect = `SELECT m.id, m.uuid, m.subscription_id, m.run_uuid, m.contract_uuid, m.action, m.payload, m.status, m.retry_count, m.last_attempt, m.next_attempt, m.last_response, m.created, m.expires FROM event_messages m`

func scanMessage(row rowScanner) (*models.EventMessage, error) {
	var m models.EventMessage
	var payload, status string
	var lastAttempt, nextAttempt sql.NullTime

	err := row.Scan(&m.ID, &m.UUID, &m.SubscriptionID, &m.RunUUID, &m.ContractUUID, &m.Action,
		&payload, &status, &m.RetryCount, &lastAttempt, &nextAttempt, &m.LastResponse, &m.Created, &m.Expires)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.Payload = []byte(payload)
	m.Status = models.MessageStatus(status)
	if lastAttempt.Valid {
		t := lastAttempt.Time
		m.LastAttempt = &t
	}
	if nextAttempt.Valid {
		t := nextAttempt.Time
		m.NextAttempt = &t
	}
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]models.EventMessage, error) {
	var out []models.EventMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
