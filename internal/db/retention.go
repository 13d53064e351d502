package db

import (
	"fmt"
	"time"
)

// RetentionResult reports how many expired rows a sweep removed.
type RetentionResult struct {
	RunLogs      int64
	ContractLogs int64
	Messages     int64
}

// Total returns the overall number of rows removed.
func (r RetentionResult) Total() int64 {
	return r.RunLogs + r.ContractLogs + r.Messages
}

// DeleteExpired removes log and message rows whose expiry has passed.
// Contract logs go first so run logs never leave dangling children.
func (db *DB) DeleteExpired(now time.Time) (RetentionResult, error) {
	var result RetentionResult
	ts := now.UTC()

	res, err := db.conn.Exec(`DELETE FROM contract_logs WHERE expires < ?`, ts)
	if err != nil {
		return result, fmt.Errorf("expire contract logs: %w", err)
	}
	result.ContractLogs, _ = res.RowsAffected()

	res, err = db.conn.Exec(`DELETE FROM run_logs WHERE expires < ?`, ts)
	if err != nil {
		return result, fmt.Errorf("expire run logs: %w", err)
	}
	result.RunLogs, _ = res.RowsAffected()

	res, err = db.conn.Exec(`DELETE FROM event_messages WHERE expires < ?`, ts)
	if err != nil {
		return result, fmt.Errorf("expire event messages: %w", err)
	}
	result.Messages, _ = res.RowsAffected()

	return result, nil
}
