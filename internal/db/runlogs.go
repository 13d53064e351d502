package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/syncbridge/internal/models"
)

// maxContractLogBytes caps the size of stored source/target snapshots so
// one oversized record cannot bloat the log table.
const maxContractLogBytes = 64 * 1024

// CreateRunLog opens a run log row for a reconciliation run. The result
// is attached later via AttachRunResult.
func (db *DB) CreateRunLog(rl *models.RunLog) error {
	if rl.UUID == "" {
		rl.UUID = newUUID()
	}
	if rl.Created.IsZero() {
		rl.Created = time.Now().UTC()
	}
	if rl.Expires.IsZero() {
		return fmt.Errorf("run log requires an expiry")
	}

	res, err := db.conn.Exec(`
		INSERT INTO run_logs (uuid, synchronization_id, test, force, created, expires)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rl.UUID, rl.SynchronizationID, boolInt(rl.Test), boolInt(rl.Force), rl.Created, rl.Expires)
	if err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rl.ID = id
	return nil
}

// AttachRunResult stores the final structured result on a completed run.
// This is the only mutation run logs ever receive.
func (db *DB) AttachRunResult(runID int64, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal run result: %w", err)
	}
	res, err := db.conn.Exec(`UPDATE run_logs SET result = ? WHERE id = ?`, string(data), runID)
	if err != nil {
		return fmt.Errorf("attach run result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRunLog retrieves a run log by id.
func (db *DB) GetRunLog(id int64) (*models.RunLog, error) {
	var rl models.RunLog
	var test, force int
	var result sql.NullString

	err := db.conn.QueryRow(`
		SELECT id, uuid, synchronization_id, test, force, result, created, expires
		FROM run_logs WHERE id = ?
	`, id).Scan(&rl.ID, &rl.UUID, &rl.SynchronizationID, &test, &force, &result, &rl.Created, &rl.Expires)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rl.Test = test != 0
	rl.Force = force != 0
	if result.Valid {
		rl.Result = json.RawMessage(result.String)
	}
	return &rl, nil
}

// AddContractLog appends one per-object outcome row. Oversized
// source/target snapshots are truncated to a marker rather than stored.
func (db *DB) AddContractLog(cl *models.ContractLog) error {
	if cl.UUID == "" {
		cl.UUID = newUUID()
	}
	if cl.Created.IsZero() {
		cl.Created = time.Now().UTC()
	}
	if cl.Expires.IsZero() {
		return fmt.Errorf("contract log requires an expiry")
	}

	source := capSnapshot(cl.Source)
	target := capSnapshot(cl.Target)

	res, err := db.conn.Exec(`
		INSERT INTO contract_logs (uuid, contract_uuid, run_id, source, target, target_result, message, created, expires)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cl.UUID, cl.ContractUUID, cl.RunID, source, target, cl.TargetResult, cl.Message, cl.Created, cl.Expires)
	if err != nil {
		return fmt.Errorf("insert contract log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	cl.ID = id
	return nil
}

// ListContractLogs returns the per-object outcomes of one run in
// insertion order.
func (db *DB) ListContractLogs(runID int64) ([]models.ContractLog, error) {
	rows, err := db.conn.Query(`
		SELECT id, uuid, contract_uuid, run_id, source, target, target_result, message, created, expires
		FROM contract_logs WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ContractLog
	for rows.Next() {
		var cl models.ContractLog
		var source, target sql.NullString
		if err := rows.Scan(&cl.ID, &cl.UUID, &cl.ContractUUID, &cl.RunID, &source, &target,
			&cl.TargetResult, &cl.Message, &cl.Created, &cl.Expires); err != nil {
			return nil, err
		}
		if source.Valid {
			cl.Source = json.RawMessage(source.String)
		}
		if target.Valid {
			cl.Target = json.RawMessage(target.String)
		}
		out = append(out, cl)
	}
	return out, rows.Err()
}

func capSnapshot(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	if len(raw) > maxContractLogBytes {
		return fmt.Sprintf(`{"truncated":true,"bytes":%d}`, len(raw))
	}
	return string(raw)
}
