package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voxgate/voxgate/internal/database/models"
)

// routingConfigRepo implements RoutingConfigRepository.
type routingConfigRepo struct {
	db *DB
}

// NewRoutingConfigRepository creates a new RoutingConfigRepository.
func NewRoutingConfigRepository(db *DB) RoutingConfigRepository {
	return &routingConfigRepo{db: db}
}

// GetByNumber returns the routing config for a tenant's phone number, or
// nil if none is configured.
func (r *routingConfigRepo) GetByNumber(ctx context.Context, tenantID, phoneNumber string) (*models.RoutingConfig, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, phone_number, country, timezone, enabled, rules,
		 created_at, updated_at
		 FROM routing_configs WHERE tenant_id = ? AND phone_number = ?`,
		tenantID, phoneNumber,
	))
}

// FindByNumber resolves a routing config by dialed number alone. Inbound
// webhooks carry only the E.164 number; numbers are globally unique
// across tenants.
func (r *routingConfigRepo) FindByNumber(ctx context.Context, phoneNumber string) (*models.RoutingConfig, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, phone_number, country, timezone, enabled, rules,
		 created_at, updated_at
		 FROM routing_configs WHERE phone_number = ?`,
		phoneNumber,
	))
}

// List returns all routing configs for a tenant.
func (r *routingConfigRepo) List(ctx context.Context, tenantID string) ([]models.RoutingConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, phone_number, country, timezone, enabled, rules,
		 created_at, updated_at
		 FROM routing_configs WHERE tenant_id = ? ORDER BY phone_number`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing routing configs: %w", err)
	}
	defer rows.Close()

	var configs []models.RoutingConfig
	for rows.Next() {
		var c models.RoutingConfig
		if err := rows.Scan(&c.ID, &c.TenantID, &c.PhoneNumber, &c.Country,
			&c.Timezone, &c.Enabled, &c.Rules, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning routing config row: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating routing config rows: %w", err)
	}

	return configs, nil
}

func (r *routingConfigRepo) scanOne(row *sql.Row) (*models.RoutingConfig, error) {
	var c models.RoutingConfig
	err := row.Scan(&c.ID, &c.TenantID, &c.PhoneNumber, &c.Country,
		&c.Timezone, &c.Enabled, &c.Rules, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning routing config: %w", err)
	}
	return &c, nil
}
