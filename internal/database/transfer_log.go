package database

import (
	"context"
	"fmt"

	"github.com/voxgate/voxgate/internal/database/models"
)

// transferLogRepo implements TransferLogRepository on SQLite.
type transferLogRepo struct {
	db *DB
}

// NewTransferLogRepository creates a new TransferLogRepository.
func NewTransferLogRepository(db *DB) TransferLogRepository {
	return &transferLogRepo{db: db}
}

// Append inserts a transition record, assigning the next sequence number
// for the (tenant_id, call_sid) pair. The subselect and the UNIQUE
// constraint together keep the per-call sequence gap-free even with
// concurrent appends (SQLite serializes writers).
func (r *transferLogRepo) Append(ctx context.Context, entry *models.TransferLogEntry) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO transfer_log (tenant_id, call_sid, seq, timestamp, from_state, to_state, detail)
		 VALUES (?, ?,
		   (SELECT COALESCE(MAX(seq), 0) + 1 FROM transfer_log WHERE tenant_id = ? AND call_sid = ?),
		   ?, ?, ?, ?)`,
		entry.TenantID, entry.CallSid, entry.TenantID, entry.CallSid,
		entry.Timestamp, entry.FromState, entry.ToState, entry.Detail,
	)
	if err != nil {
		return fmt.Errorf("inserting transfer log entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	entry.ID = id

	if err := r.db.QueryRowContext(ctx,
		`SELECT seq FROM transfer_log WHERE id = ?`, id,
	).Scan(&entry.Seq); err != nil {
		return fmt.Errorf("reading assigned seq: %w", err)
	}
	return nil
}

// CountByToState returns transition counts grouped by destination state,
// across all tenants. Used by the metrics collector.
func (r *transferLogRepo) CountByToState(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT to_state, COUNT(*) FROM transfer_log GROUP BY to_state`,
	)
	if err != nil {
		return nil, fmt.Errorf("counting transfer log by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scanning transfer log count row: %w", err)
		}
		counts[state] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transfer log count rows: %w", err)
	}

	return counts, nil
}

// ListByCall returns all transition records for a call in append order.
func (r *transferLogRepo) ListByCall(ctx context.Context, tenantID, callSid string) ([]models.TransferLogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, call_sid, seq, timestamp, from_state, to_state, detail
		 FROM transfer_log WHERE tenant_id = ? AND call_sid = ?
		 ORDER BY seq ASC`,
		tenantID, callSid,
	)
	if err != nil {
		return nil, fmt.Errorf("listing transfer log: %w", err)
	}
	defer rows.Close()

	var entries []models.TransferLogEntry
	for rows.Next() {
		var e models.TransferLogEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.CallSid, &e.Seq,
			&e.Timestamp, &e.FromState, &e.ToState, &e.Detail); err != nil {
			return nil, fmt.Errorf("scanning transfer log row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transfer log rows: %w", err)
	}

	return entries, nil
}
