package storage

import (
	"context"
	"errors"

	"github.com/terra-clan/commitment-engine/internal/models"
)

// Ledger integrity errors raised inside AppendEntries. The whole batch is rolled back.
var (
	ErrCommitmentNotFound = errors.New("commitment not found")
	ErrDuplicateRegion    = errors.New("region already completed for commitment")
	ErrDayCommitted       = errors.New("progress already committed for this date")
	ErrDayConflict        = errors.New("day does not follow the last committed day")
)

// Repository defines the interface for commitment and progress persistence
type Repository interface {
	// Commitments
	CreateCommitment(ctx context.Context, c *models.Commitment) error
	GetCommitment(ctx context.Context, id string) (*models.Commitment, error)
	ListCommitments(ctx context.Context, filters models.CommitmentFilters) ([]*models.Commitment, error)

	// Progress entries
	ListEntries(ctx context.Context, commitmentID string) ([]*models.ProgressEntry, error)
	CountEntries(ctx context.Context, commitmentID string) (int, error)
	LastDay(ctx context.Context, commitmentID string) (int, error)
	HasCompletionOn(ctx context.Context, commitmentID, date string) (bool, error)

	// AppendEntries stores one allocation event atomically. It re-checks the
	// date guard, the day sequence and region uniqueness under the
	// commitment's write lock, and marks the commitment completed once the
	// stored count reaches batch.TotalRegions.
	AppendEntries(ctx context.Context, batch *models.AppendBatch) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}
