package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/syncbridge/internal/models"
)

// GetContractByOrigin looks up the contract keyed by
// (synchronization_id, origin_id). Returns (nil, nil) when no contract
// exists yet; first sighting of an origin record is a normal case, not
// an error.
func (db *DB) GetContractByOrigin(syncID, originID string) (*models.Contract, error) {
	row := db.conn.QueryRow(contractSelect+` WHERE synchronization_id = ? AND origin_id = ? AND origin_id != ''`,
		syncID, originID)
	c, err := scanContract(row)
	if err == ErrNotFound {
		return nil, nil
	}
	return c, err
}

// GetContractByTarget looks up a contract by its target side. Returns
// (nil, nil) when absent.
func (db *DB) GetContractByTarget(syncID, targetID string) (*models.Contract, error) {
	row := db.conn.QueryRow(contractSelect+` WHERE synchronization_id = ? AND target_id = ? AND target_id != ''`,
		syncID, targetID)
	c, err := scanContract(row)
	if err == ErrNotFound {
		return nil, nil
	}
	return c, err
}

// FindContractsByObject returns every contract where the identifier
// appears on either side, across all synchronizations. Used by orphan
// handling when an upstream object is removed.
func (db *DB) FindContractsByObject(objectID string) ([]models.Contract, error) {
	if objectID == "" {
		return nil, nil
	}
	rows, err := db.conn.Query(contractSelect+` WHERE origin_id = ? OR target_id = ?`, objectID, objectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContracts(rows)
}

// ListContracts returns all contracts for a synchronization.
func (db *DB) ListContracts(syncID string) ([]models.Contract, error) {
	rows, err := db.conn.Query(contractSelect+` WHERE synchronization_id = ? ORDER BY id`, syncID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContracts(rows)
}

// ListContractOriginIDs returns the non-empty origin ids of all
// contracts for a synchronization. Drives orphan detection after a full
// origin enumeration.
func (db *DB) ListContractOriginIDs(syncID string) ([]string, error) {
	rows, err := db.conn.Query(
		`SELECT origin_id FROM contracts WHERE synchronization_id = ? AND origin_id != ''`, syncID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertContract inserts the contract, or updates the existing row for
// the same (synchronization_id, origin_id). The unique partial index
// makes a concurrent double-create collapse into a single row.
func (db *DB) UpsertContract(c *models.Contract) error {
	if c.Empty() {
		return fmt.Errorf("refusing to store contract with both sides empty")
	}
	if c.UUID == "" {
		c.UUID = newUUID()
	}
	now := time.Now().UTC()
	c.UpdatedAt = now
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}

	if c.ID != 0 {
		return db.updateContract(c)
	}

	res, err := db.conn.Exec(`
		INSERT INTO contracts (uuid, synchronization_id, origin_id, origin_hash, target_id, target_hash, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(synchronization_id, origin_id) WHERE origin_id != '' DO UPDATE SET
			origin_hash = excluded.origin_hash,
			target_id = excluded.target_id,
			target_hash = excluded.target_hash,
			version = contracts.version + 1,
			updated_at = excluded.updated_at
	`, c.UUID, c.SynchronizationID, c.OriginID, c.OriginHash, c.TargetID, c.TargetHash, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert contract: %w", err)
	}

	// The conflict path keeps the existing row's id and uuid; re-read so
	// the caller sees the stored identity.
	if c.OriginID != "" {
		stored, err := db.GetContractByOrigin(c.SynchronizationID, c.OriginID)
		if err != nil {
			return fmt.Errorf("re-read contract: %w", err)
		}
		c.ID = stored.ID
		c.UUID = stored.UUID
		c.Version = stored.Version
		return nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	c.ID = id
	return nil
}

func (db *DB) updateContract(c *models.Contract) error {
	res, err := db.conn.Exec(`
		UPDATE contracts
		SET origin_id = ?, origin_hash = ?, target_id = ?, target_hash = ?, version = version + 1, updated_at = ?
		WHERE id = ?
	`, c.OriginID, c.OriginHash, c.TargetID, c.TargetHash, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update contract %d: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	c.Version++
	return nil
}

// UpdateContractIfOriginHash performs the conditional write used as the
// idempotency guard: the update only lands when the stored origin hash
// still matches expect. Returns false when another writer got there
// first.
func (db *DB) UpdateContractIfOriginHash(c *models.Contract, expect string) (bool, error) {
	now := time.Now().UTC()
	res, err := db.conn.Exec(`
		UPDATE contracts
		SET origin_hash = ?, target_id = ?, target_hash = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND origin_hash = ?
	`, c.OriginHash, c.TargetID, c.TargetHash, now, c.ID, expect)
	if err != nil {
		return false, fmt.Errorf("conditional update contract %d: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	c.Version++
	c.UpdatedAt = now
	return true, nil
}

// DeleteContract removes a contract row.
func (db *DB) DeleteContract(id int64) error {
	_, err := db.conn.Exec(`DELETE FROM contracts WHERE id = ?`, id)
	return err
}

const contractSelect = `SELECT id, uuid, synchronization_id, origin_id, origin_hash, target_id, target_hash, version, created_at, updated_at FROM contracts`

func scanContract(row rowScanner) (*models.Contract, error) {
	var c models.Contract
	err := row.Scan(&c.ID, &c.UUID, &c.SynchronizationID, &c.OriginID, &c.OriginHash,
		&c.TargetID, &c.TargetHash, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectContracts(rows *sql.Rows) ([]models.Contract, error) {
	var out []models.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
