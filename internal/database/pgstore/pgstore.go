// Package pgstore provides a PostgreSQL-backed transfer log store for
// hosted deployments where multiple engine instances share one audit
// trail. The embedded SQLite store remains the default for single-node
// installs.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/voxgate/voxgate/internal/database/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements database.TransferLogRepository using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL connection and runs pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("postgresql transfer log store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending SQL migration files in order.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

// Append inserts a transition record, assigning the next per-call sequence
// number atomically.
func (s *Store) Append(ctx context.Context, entry *models.TransferLogEntry) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO transfer_log (tenant_id, call_sid, seq, timestamp, from_state, to_state, detail)
		 VALUES ($1, $2,
		   (SELECT COALESCE(MAX(seq), 0) + 1 FROM transfer_log WHERE tenant_id = $1 AND call_sid = $2),
		   $3, $4, $5, $6)
		 RETURNING id, seq`,
		entry.TenantID, entry.CallSid,
		entry.Timestamp, entry.FromState, entry.ToState, entry.Detail,
	).Scan(&entry.ID, &entry.Seq)
	if err != nil {
		return fmt.Errorf("inserting transfer log entry: %w", err)
	}
	return nil
}

// CountByToState returns transition counts grouped by destination state,
// across all tenants. Used by the metrics collector.
func (s *Store) CountByToState(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
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
func (s *Store) ListByCall(ctx context.Context, tenantID, callSid string) ([]models.TransferLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, call_sid, seq, timestamp, from_state, to_state, detail
		 FROM transfer_log WHERE tenant_id = $1 AND call_sid = $2
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
