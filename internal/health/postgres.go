package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// ErrNotMigrated means the database is reachable but the ledger schema is missing
var ErrNotMigrated = errors.New("ledger schema not migrated")

// PostgresCheck verifies PostgreSQL connectivity and that migrations were applied.
// It keeps its own small database/sql pool so readiness does not compete with ledger writes.
type PostgresCheck struct {
	db *sql.DB
}

// NewPostgresCheck opens a lazy connection to dsn
func NewPostgresCheck(dsn string) (*PostgresCheck, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &PostgresCheck{db: db}, nil
}

// HealthCheck pings the server and looks for the applied migrations
func (p *PostgresCheck) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	var applied int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_migrations`,
	).Scan(&applied)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotMigrated, err)
	}
	if applied == 0 {
		return ErrNotMigrated
	}

	return nil
}

// Close closes the connection pool
func (p *PostgresCheck) Close() error {
	return p.db.Close()
}
