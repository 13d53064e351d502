package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/syncbridge/internal/models"
)

// UpsertMapping creates or replaces a named field mapping.
func (db *DB) UpsertMapping(m *models.Mapping) error {
	fields, err := json.Marshal(m.Fields)
	if err != nil {
		return fmt.Errorf("marshal mapping fields: %w", err)
	}
	now := time.Now().UTC()

	_, err = db.conn.Exec(`
		INSERT INTO mappings (name, fields, passthrough, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			fields = excluded.fields,
			passthrough = excluded.passthrough,
			updated_at = excluded.updated_at
	`, m.Name, string(fields), boolInt(m.Passthrough), now, now)
	if err != nil {
		return fmt.Errorf("upsert mapping %s: %w", m.Name, err)
	}
	return nil
}

// GetMapping retrieves a mapping by name.
func (db *DB) GetMapping(name string) (*models.Mapping, error) {
	var m models.Mapping
	var fields string
	var passthrough int

	err := db.conn.QueryRow(`
		SELECT name, fields, passthrough, created_at, updated_at FROM mappings WHERE name = ?
	`, name).Scan(&m.Name, &fields, &passthrough, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(fields), &m.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal mapping fields for %s: %w", name, err)
	}
	m.Passthrough = passthrough != 0
	return &m, nil
}

// AddRule attaches a rule hook to a synchronization.
func (db *DB) AddRule(r *models.Rule) error {
	config, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("marshal rule config: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	var conditions any
	if r.Conditions != nil {
		conditions = string(r.Conditions)
	}

	res, err := db.conn.Exec(`
		INSERT INTO rules (synchronization_id, name, timing, action, conditions, config, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.SynchronizationID, r.Name, string(r.Timing), string(r.Action), conditions,
		string(config), boolInt(r.Enabled), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert rule %s: %w", r.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

// ListRules returns the rules of a synchronization in creation order.
func (db *DB) ListRules(syncID string) ([]models.Rule, error) {
	rows, err := db.conn.Query(`
		SELECT id, synchronization_id, name, timing, action, conditions, config, enabled, created_at
		FROM rules WHERE synchronization_id = ? ORDER BY id
	`, syncID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Rule
	for rows.Next() {
		var r models.Rule
		var timing, action, config string
		var conditions sql.NullString
		var enabled int
		if err := rows.Scan(&r.ID, &r.SynchronizationID, &r.Name, &timing, &action,
			&conditions, &config, &enabled, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Timing = models.RuleTiming(timing)
		r.Action = models.Action(action)
		if conditions.Valid {
			r.Conditions = json.RawMessage(conditions.String)
		}
		if err := json.Unmarshal([]byte(config), &r.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config for rule %d: %w", r.ID, err)
		}
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRule removes a rule.
func (db *DB) DeleteRule(id int64) error {
	_, err := db.conn.Exec(`DELETE FROM rules WHERE id = ?`, id)
	return err
}

// ReplaceRules swaps the full rule set of a synchronization. Applied
// configuration is declarative, so rules absent from the new set are
// dropped rather than kept around disabled.
func (db *DB) ReplaceRules(syncID string, rules []models.Rule) error {
	if _, err := db.conn.Exec(`DELETE FROM rules WHERE synchronization_id = ?`, syncID); err != nil {
		return fmt.Errorf("clear rules for %s: %w", syncID, err)
	}
	for i := range rules {
		rules[i].SynchronizationID = syncID
		if err := db.AddRule(&rules[i]); err != nil {
			return err
		}
	}
	return nil
}
