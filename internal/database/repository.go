package database

import (
	"context"

	"github.com/voxgate/voxgate/internal/database/models"
)

// RoutingConfigRepository reads per-number routing schedules. The engine
// never writes routing configs; the tenant settings service owns the
// write path.
type RoutingConfigRepository interface {
	GetByNumber(ctx context.Context, tenantID, phoneNumber string) (*models.RoutingConfig, error)
	FindByNumber(ctx context.Context, phoneNumber string) (*models.RoutingConfig, error)
	List(ctx context.Context, tenantID string) ([]models.RoutingConfig, error)
}

// ForwardTargetsRepository reads per-number forwarding policies.
type ForwardTargetsRepository interface {
	GetByNumber(ctx context.Context, tenantID, phoneNumber string) (*models.ForwardTargets, error)
}

// TransferLogRepository stores immutable call transition records.
// Append assigns the next per-call sequence number; entries are never
// updated or deleted.
type TransferLogRepository interface {
	Append(ctx context.Context, entry *models.TransferLogEntry) error
	ListByCall(ctx context.Context, tenantID, callSid string) ([]models.TransferLogEntry, error)
}
