package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/syncbridge/internal/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// UpsertSynchronization creates or replaces a synchronization
// configuration by id. The uuid and created_at of an existing row are
// preserved.
func (db *DB) UpsertSynchronization(s *models.Synchronization) error {
	source, err := json.Marshal(s.Source)
	if err != nil {
		return fmt.Errorf("marshal source: %w", err)
	}
	target, err := json.Marshal(s.Target)
	if err != nil {
		return fmt.Errorf("marshal target: %w", err)
	}

	if s.UUID == "" {
		s.UUID = newUUID()
	}
	now := time.Now().UTC()

	_, err = db.conn.Exec(`
		INSERT INTO synchronizations (id, uuid, name, description, source, target, mapping_ref, interval, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			source = excluded.source,
			target = excluded.target,
			mapping_ref = excluded.mapping_ref,
			interval = excluded.interval,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, s.ID, s.UUID, s.Name, s.Description, string(source), string(target),
		s.MappingRef, s.Interval, boolInt(s.Enabled), now, now)
	if err != nil {
		return fmt.Errorf("upsert synchronization %s: %w", s.ID, err)
	}
	return nil
}

// GetSynchronization retrieves a synchronization by id.
func (db *DB) GetSynchronization(id string) (*models.Synchronization, error) {
	row := db.conn.QueryRow(`
		SELECT id, uuid, name, description, source, target, mapping_ref, interval, enabled, created_at, updated_at, last_run_at
		FROM synchronizations WHERE id = ?
	`, id)
	return scanSynchronization(row)
}

// ListSynchronizations returns all synchronizations ordered by id.
func (db *DB) ListSynchronizations() ([]models.Synchronization, error) {
	rows, err := db.conn.Query(`
		SELECT id, uuid, name, description, source, target, mapping_ref, interval, enabled, created_at, updated_at, last_run_at
		FROM synchronizations ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Synchronization
	for rows.Next() {
		s, err := scanSynchronization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListDueSynchronizations returns enabled, scheduled synchronizations
// whose interval has elapsed since their last run.
func (db *DB) ListDueSynchronizations(now time.Time) ([]models.Synchronization, error) {
	all, err := db.ListSynchronizations()
	if err != nil {
		return nil, err
	}

	var due []models.Synchronization
	for _, s := range all {
		if !s.Enabled {
			continue
		}
		interval, err := s.IntervalDuration()
		if err != nil || interval == 0 {
			continue
		}
		if s.LastRunAt == nil || now.Sub(*s.LastRunAt) >= interval {
			due = append(due, s)
		}
	}
	return due, nil
}

// MarkSynchronizationRan stamps the last run time.
func (db *DB) MarkSynchronizationRan(id string, at time.Time) error {
	_, err := db.conn.Exec(`UPDATE synchronizations SET last_run_at = ? WHERE id = ?`, at.UTC(), id)
	return err
}

// DeleteSynchronization removes a synchronization and its rules and
// contracts.
func (db *DB) DeleteSynchronization(id string) error {
	if _, err := db.conn.Exec(`DELETE FROM rules WHERE synchronization_id = ?`, id); err != nil {
		return fmt.Errorf("delete rules: %w", err)
	}
	if _, err := db.conn.Exec(`DELETE FROM contracts WHERE synchronization_id = ?`, id); err != nil {
		return fmt.Errorf("delete contracts: %w", err)
	}
	_, err := db.conn.Exec(`DELETE FROM synchronizations WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSynchronization(row rowScanner) (*models.Synchronization, error) {
	var s models.Synchronization
	var source, target string
	var enabled int
	var lastRun sql.NullTime

	err := row.Scan(&s.ID, &s.UUID, &s.Name, &s.Description, &source, &target,
		&s.MappingRef, &s.Interval, &enabled, &s.CreatedAt, &s.UpdatedAt, &lastRun)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(source), &s.Source); err != nil {
		return nil, fmt.Errorf("unmarshal source for %s: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(target), &s.Target); err != nil {
		return nil, fmt.Errorf("unmarshal target for %s: %w", s.ID, err)
	}
	s.Enabled = enabled != 0
	if lastRun.Valid {
		t := lastRun.Time
		s.LastRunAt = &t
	}
	return &s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
