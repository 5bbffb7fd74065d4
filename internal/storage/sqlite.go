package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/terra-clan/commitment-engine/internal/models"
)

// SQLiteRepository implements Repository on a local SQLite file
type SQLiteRepository struct {
	path string
	db   *sql.DB
}

// NewSQLiteRepository opens (creating if needed) the database at path and migrates it
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection turns every transaction into a serialized writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runSQLMigrations(ctx, db, SQLiteMigrations()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteRepository{path: path, db: db}, nil
}

// Ping checks database connectivity
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// --- Commitments ---

// CreateCommitment creates a new commitment record
func (r *SQLiteRepository) CreateCommitment(ctx context.Context, c *models.Commitment) error {
	var completedAt *string
	if c.CompletedAt != nil {
		s := formatTime(*c.CompletedAt)
		completedAt = &s
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO commitments (id, name, description, timeframe, image_id, status, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.Name, c.Description, c.Timeframe, c.ImageID,
		string(c.Status), formatTime(c.CreatedAt), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create commitment: %w", err)
	}

	return nil
}

// GetCommitment retrieves a commitment by ID. Returns nil, nil when not found.
func (r *SQLiteRepository) GetCommitment(ctx context.Context, id string) (*models.Commitment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE id = ?`, id)

	c, err := scanSQLiteCommitment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get commitment: %w", err)
	}

	return c, nil
}

// ListCommitments returns commitments matching filters, newest first
func (r *SQLiteRepository) ListCommitments(ctx context.Context, filters models.CommitmentFilters) ([]*models.Commitment, error) {
	query := `SELECT ` + commitmentColumns + ` FROM commitments WHERE 1=1`
	args := make([]interface{}, 0)

	if filters.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filters.Status))
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
		if filters.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filters.Offset)
		}
	} else if filters.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filters.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list commitments: %w", err)
	}
	defer rows.Close()

	var commitments []*models.Commitment
	for rows.Next() {
		c, err := scanSQLiteCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commitment: %w", err)
		}
		commitments = append(commitments, c)
	}

	return commitments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCommitment(row rowScanner) (*models.Commitment, error) {
	var c models.Commitment
	var statusStr, createdAt string
	var completedAt sql.NullString

	if err := row.Scan(
		&c.ID, &c.Name, &c.Description, &c.Timeframe, &c.ImageID,
		&statusStr, &createdAt, &completedAt,
	); err != nil {
		return nil, err
	}

	c.Status = models.CommitmentStatus(statusStr)

	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = t

	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		c.CompletedAt = &t
	}

	return &c, nil
}

// --- Progress entries ---

// ListEntries returns a commitment's entries ordered by day, then insertion order
func (r *SQLiteRepository) ListEntries(ctx context.Context, commitmentID string) ([]*models.ProgressEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.commitment_id, e.image_id, e.day, e.region_id, e.color, d.completed_on, e.created_at
		FROM progress_entries e
		JOIN completion_days d ON d.commitment_id = e.commitment_id AND d.day = e.day
		WHERE e.commitment_id = ?
		ORDER BY e.day ASC, e.seq ASC
	`, commitmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.ProgressEntry, 0)
	for rows.Next() {
		var e models.ProgressEntry
		var createdAt string
		if err := rows.Scan(
			&e.ID, &e.CommitmentID, &e.ImageID, &e.Day,
			&e.RegionID, &e.Color, &e.CompletedOn, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan progress entry: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// CountEntries returns the number of regions completed for a commitment
func (r *SQLiteRepository) CountEntries(ctx context.Context, commitmentID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM progress_entries WHERE commitment_id = ?`, commitmentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count progress entries: %w", err)
	}
	return n, nil
}

// LastDay returns the highest committed day, 0 if none
func (r *SQLiteRepository) LastDay(ctx context.Context, commitmentID string) (int, error) {
	var day int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(day), 0) FROM completion_days WHERE commitment_id = ?`, commitmentID).Scan(&day)
	if err != nil {
		return 0, fmt.Errorf("failed to get last day: %w", err)
	}
	return day, nil
}

// HasCompletionOn reports whether an allocation event was committed on date (YYYY-MM-DD)
func (r *SQLiteRepository) HasCompletionOn(ctx context.Context, commitmentID, date string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM completion_days WHERE commitment_id = ? AND completed_on = ?`,
		commitmentID, date).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check completion date: %w", err)
	}
	return n > 0, nil
}

// AppendEntries stores one allocation event in a single transaction
func (r *SQLiteRepository) AppendEntries(ctx context.Context, batch *models.AppendBatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM commitments WHERE id = ?`, batch.CommitmentID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCommitmentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load commitment: %w", err)
	}

	var committed int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM completion_days WHERE commitment_id = ? AND completed_on = ?`,
		batch.CommitmentID, batch.CompletedOn).Scan(&committed); err != nil {
		return fmt.Errorf("failed to check completion date: %w", err)
	}
	if committed > 0 {
		return ErrDayCommitted
	}

	var last int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(day), 0) FROM completion_days WHERE commitment_id = ?`,
		batch.CommitmentID).Scan(&last); err != nil {
		return fmt.Errorf("failed to get last day: %w", err)
	}
	if batch.Day != last+1 {
		return fmt.Errorf("%w: got day %d after day %d", ErrDayConflict, batch.Day, last)
	}

	for _, e := range batch.Entries {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM progress_entries WHERE commitment_id = ? AND region_id = ?`,
			batch.CommitmentID, e.RegionID).Scan(&n); err != nil {
			return fmt.Errorf("failed to check region: %w", err)
		}
		if n > 0 {
			return ErrDuplicateRegion
		}
	}

	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO completion_days (commitment_id, day, completed_on, created_at)
		VALUES (?, ?, ?, ?)
	`, batch.CommitmentID, batch.Day, batch.CompletedOn, formatTime(now)); err != nil {
		return mapSQLiteError(err)
	}

	for _, e := range batch.Entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO progress_entries (id, commitment_id, image_id, day, region_id, color, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, e.ID, batch.CommitmentID, e.ImageID, batch.Day, e.RegionID, e.Color, formatTime(e.CreatedAt)); err != nil {
			return mapSQLiteError(err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM progress_entries WHERE commitment_id = ?`, batch.CommitmentID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count progress entries: %w", err)
	}

	if count >= batch.TotalRegions {
		_, err = tx.ExecContext(ctx, `UPDATE commitments SET status = ?, completed_at = ? WHERE id = ?`,
			string(models.CommitmentCompleted), formatTime(now), batch.CommitmentID)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE commitments SET status = ? WHERE id = ?`,
			string(models.CommitmentInProgress), batch.CommitmentID)
	}
	if err != nil {
		return fmt.Errorf("failed to update commitment status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit progress: %w", err)
	}

	return nil
}

// mapSQLiteError translates unique violations raised by the ledger constraints
func mapSQLiteError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		switch {
		case strings.Contains(msg, "progress_entries.region_id"):
			return ErrDuplicateRegion
		case strings.Contains(msg, "completion_days.completed_on"):
			return ErrDayCommitted
		case strings.Contains(msg, "completion_days.day"):
			return ErrDayConflict
		}
	}
	return fmt.Errorf("failed to append progress: %w", err)
}

// sqliteTimeLayout is fixed-width so that text ordering matches time ordering
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
