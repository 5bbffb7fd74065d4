package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/commitment-engine/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// --- Commitments ---

// CreateCommitment creates a new commitment record
func (r *PostgresRepository) CreateCommitment(ctx context.Context, c *models.Commitment) error {
	query := `
		INSERT INTO commitments (id, name, description, timeframe, image_id, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		c.ID,
		c.Name,
		c.Description,
		c.Timeframe,
		c.ImageID,
		string(c.Status),
		c.CreatedAt,
		nullTime(c.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create commitment: %w", err)
	}

	return nil
}

const commitmentColumns = `id, name, description, timeframe, image_id, status, created_at, completed_at`

// GetCommitment retrieves a commitment by ID. Returns nil, nil when not found.
func (r *PostgresRepository) GetCommitment(ctx context.Context, id string) (*models.Commitment, error) {
	query := `SELECT ` + commitmentColumns + ` FROM commitments WHERE id = $1`

	c, err := scanCommitment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get commitment: %w", err)
	}

	return c, nil
}

// ListCommitments returns commitments matching filters, newest first
func (r *PostgresRepository) ListCommitments(ctx context.Context, filters models.CommitmentFilters) ([]*models.Commitment, error) {
	query := `SELECT ` + commitmentColumns + ` FROM commitments WHERE 1=1`
	args := make([]interface{}, 0)
	argNum := 1

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(filters.Status))
		argNum++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list commitments: %w", err)
	}
	defer rows.Close()

	var commitments []*models.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commitment: %w", err)
		}
		commitments = append(commitments, c)
	}

	return commitments, rows.Err()
}

func scanCommitment(row pgx.Row) (*models.Commitment, error) {
	var c models.Commitment
	var statusStr string
	var completedAt sql.NullTime

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Description,
		&c.Timeframe,
		&c.ImageID,
		&statusStr,
		&c.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = models.CommitmentStatus(statusStr)
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}

	return &c, nil
}

// --- Progress entries ---

// ListEntries returns a commitment's entries ordered by day, then insertion order
func (r *PostgresRepository) ListEntries(ctx context.Context, commitmentID string) ([]*models.ProgressEntry, error) {
	query := `
		SELECT e.id, e.commitment_id, e.image_id, e.day, e.region_id, e.color, d.completed_on::text, e.created_at
		FROM progress_entries e
		JOIN completion_days d ON d.commitment_id = e.commitment_id AND d.day = e.day
		WHERE e.commitment_id = $1
		ORDER BY e.day ASC, e.seq ASC
	`

	rows, err := r.pool.Query(ctx, query, commitmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.ProgressEntry, 0)
	for rows.Next() {
		var e models.ProgressEntry
		if err := rows.Scan(
			&e.ID,
			&e.CommitmentID,
			&e.ImageID,
			&e.Day,
			&e.RegionID,
			&e.Color,
			&e.CompletedOn,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan progress entry: %w", err)
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// CountEntries returns the number of regions completed for a commitment
func (r *PostgresRepository) CountEntries(ctx context.Context, commitmentID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM progress_entries WHERE commitment_id = $1`, commitmentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count progress entries: %w", err)
	}
	return n, nil
}

// LastDay returns the highest committed day, 0 if none
func (r *PostgresRepository) LastDay(ctx context.Context, commitmentID string) (int, error) {
	return lastDay(ctx, r.pool, commitmentID)
}

// HasCompletionOn reports whether an allocation event was committed on date (YYYY-MM-DD)
func (r *PostgresRepository) HasCompletionOn(ctx context.Context, commitmentID, date string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM completion_days WHERE commitment_id = $1 AND completed_on = $2::text::date
		)
	`, commitmentID, date).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check completion date: %w", err)
	}
	return exists, nil
}

// AppendEntries stores one allocation event in a single transaction
func (r *PostgresRepository) AppendEntries(ctx context.Context, batch *models.AppendBatch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize writers of the same commitment on its row lock
	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM commitments WHERE id = $1 FOR UPDATE`, batch.CommitmentID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCommitmentNotFound
		}
		return fmt.Errorf("failed to lock commitment: %w", err)
	}

	var committed bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM completion_days WHERE commitment_id = $1 AND completed_on = $2::text::date
		)
	`, batch.CommitmentID, batch.CompletedOn).Scan(&committed); err != nil {
		return fmt.Errorf("failed to check completion date: %w", err)
	}
	if committed {
		return ErrDayCommitted
	}

	last, err := lastDay(ctx, tx, batch.CommitmentID)
	if err != nil {
		return err
	}
	if batch.Day != last+1 {
		return fmt.Errorf("%w: got day %d after day %d", ErrDayConflict, batch.Day, last)
	}

	regionIDs := make([]int32, 0, len(batch.Entries))
	for _, e := range batch.Entries {
		regionIDs = append(regionIDs, int32(e.RegionID))
	}

	var dupes int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM progress_entries WHERE commitment_id = $1 AND region_id = ANY($2)
	`, batch.CommitmentID, regionIDs).Scan(&dupes); err != nil {
		return fmt.Errorf("failed to check regions: %w", err)
	}
	if dupes > 0 {
		return ErrDuplicateRegion
	}

	now := time.Now().UTC()

	if _, err := tx.Exec(ctx, `
		INSERT INTO completion_days (commitment_id, day, completed_on, created_at)
		VALUES ($1, $2, $3::text::date, $4)
	`, batch.CommitmentID, batch.Day, batch.CompletedOn, now); err != nil {
		return mapPgError(err)
	}

	for _, e := range batch.Entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO progress_entries (id, commitment_id, image_id, day, region_id, color, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, e.ID, batch.CommitmentID, e.ImageID, batch.Day, e.RegionID, e.Color, e.CreatedAt); err != nil {
			return mapPgError(err)
		}
	}

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM progress_entries WHERE commitment_id = $1`, batch.CommitmentID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count progress entries: %w", err)
	}

	if count >= batch.TotalRegions {
		_, err = tx.Exec(ctx,
			`UPDATE commitments SET status = $2, completed_at = $3 WHERE id = $1`,
			batch.CommitmentID, string(models.CommitmentCompleted), now)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE commitments SET status = $2 WHERE id = $1`,
			batch.CommitmentID, string(models.CommitmentInProgress))
	}
	if err != nil {
		return fmt.Errorf("failed to update commitment status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit progress: %w", err)
	}

	return nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lastDay(ctx context.Context, q queryRower, commitmentID string) (int, error) {
	var day int
	err := q.QueryRow(ctx,
		`SELECT COALESCE(MAX(day), 0) FROM completion_days WHERE commitment_id = $1`, commitmentID).Scan(&day)
	if err != nil {
		return 0, fmt.Errorf("failed to get last day: %w", err)
	}
	return day, nil
}

// mapPgError translates unique violations raised by the ledger constraints
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "progress_entries_region_key":
			return ErrDuplicateRegion
		case "completion_days_date_key":
			return ErrDayCommitted
		case "completion_days_pkey":
			return ErrDayConflict
		}
	}
	return fmt.Errorf("failed to append progress: %w", err)
}

// Helper functions for nullable values

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
