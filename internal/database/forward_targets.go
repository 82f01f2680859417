package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voxgate/voxgate/internal/database/models"
)

// forwardTargetsRepo implements ForwardTargetsRepository.
type forwardTargetsRepo struct {
	db *DB
}

// NewForwardTargetsRepository creates a new ForwardTargetsRepository.
func NewForwardTargetsRepository(db *DB) ForwardTargetsRepository {
	return &forwardTargetsRepo{db: db}
}

// GetByNumber returns the forwarding policy for a tenant's phone number,
// or nil if none is configured.
func (r *forwardTargetsRepo) GetByNumber(ctx context.Context, tenantID, phoneNumber string) (*models.ForwardTargets, error) {
	var ft models.ForwardTargets
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, phone_number, targets, ring_strategy,
		 timeout_seconds, fallback, created_at, updated_at
		 FROM forward_targets WHERE tenant_id = ? AND phone_number = ?`,
		tenantID, phoneNumber,
	).Scan(&ft.ID, &ft.TenantID, &ft.PhoneNumber, &ft.Targets, &ft.RingStrategy,
		&ft.TimeoutSeconds, &ft.Fallback, &ft.CreatedAt, &ft.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning forward targets: %w", err)
	}
	return &ft, nil
}
