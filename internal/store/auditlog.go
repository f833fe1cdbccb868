package store

import (
	"context"
	"fmt"
	"time"
)

// AuditLog provides append-only audit operations on top of a LibSQLStore.
// Entries carry a monotonically increasing per-execution sequence so that
// a trace can be replayed in order and gaps can be detected.
type AuditLog struct {
	store *LibSQLStore
}

// NewAuditLog wraps a LibSQLStore to provide audit-trail operations.
func NewAuditLog(s *LibSQLStore) *AuditLog {
	return &AuditLog{store: s}
}

// AppendAudit appends an audit event with the next per-execution sequence.
// The write lock is acquired up front so concurrent appenders cannot
// interleave the sequence read and the insert.
func (al *AuditLog) AppendAudit(ctx context.Context, event *AuditEvent) error {
	db := al.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx alone starts a deferred transaction; force an
	// immediate write lock with a write-intent noop.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM audit_events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next audit sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_events (execution_id, workflow_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullStr(event.ExecutionID), nullStr(event.WorkflowID), nullStr(event.NodeID),
		event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit event: %w", err)
	}
	return nil
}

// AppendAudit on the store delegates to an AuditLog so that the Store
// interface can be satisfied by LibSQLStore alone.
func (s *LibSQLStore) AppendAudit(ctx context.Context, event *AuditEvent) error {
	return NewAuditLog(s).AppendAudit(ctx, event)
}
