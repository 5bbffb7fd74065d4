// Package ledger is the durable, append-only record of completed regions.
// It layers catalog validation over a storage.Repository; the repository's
// transactional append is the commit point for every allocation event.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/commitment-engine/internal/catalog"
	"github.com/terra-clan/commitment-engine/internal/models"
	"github.com/terra-clan/commitment-engine/internal/storage"
)

var (
	// ErrDuplicateRegion means a region is already recorded for the commitment
	ErrDuplicateRegion = storage.ErrDuplicateRegion
	// ErrUnknownRegion means a region is not part of the commitment's image
	ErrUnknownRegion = errors.New("region does not belong to image")
)

// Draft is one region chosen for completion, before it is stored
type Draft struct {
	RegionID int
	Color    string
}

// Ledger records progress entries for commitments
type Ledger struct {
	repo    storage.Repository
	catalog catalog.Catalog
	now     func() time.Time
}

// New creates a ledger over repo, validating regions against cat
func New(repo storage.Repository, cat catalog.Catalog) *Ledger {
	return &Ledger{
		repo:    repo,
		catalog: cat,
		now:     time.Now,
	}
}

// Entries returns the commitment's entries ordered by day
func (l *Ledger) Entries(ctx context.Context, commitmentID string) ([]*models.ProgressEntry, error) {
	return l.repo.ListEntries(ctx, commitmentID)
}

// CompletedRegions returns the set of region ids already recorded
func (l *Ledger) CompletedRegions(ctx context.Context, commitmentID string) (map[int]struct{}, error) {
	entries, err := l.repo.ListEntries(ctx, commitmentID)
	if err != nil {
		return nil, err
	}

	done := make(map[int]struct{}, len(entries))
	for _, e := range entries {
		done[e.RegionID] = struct{}{}
	}
	return done, nil
}

// LastDay returns the day number of the latest allocation event, 0 if none
func (l *Ledger) LastDay(ctx context.Context, commitmentID string) (int, error) {
	return l.repo.LastDay(ctx, commitmentID)
}

// CompletedOn reports whether an allocation event was committed on the given UTC date
func (l *Ledger) CompletedOn(ctx context.Context, commitmentID, date string) (bool, error) {
	return l.repo.HasCompletionOn(ctx, commitmentID, date)
}

// IsCompleted reports whether every region of the commitment's image is recorded
func (l *Ledger) IsCompleted(ctx context.Context, c *models.Commitment) (bool, error) {
	img, err := l.catalog.RegionsOf(c.ImageID)
	if err != nil {
		return false, err
	}

	n, err := l.repo.CountEntries(ctx, c.ID)
	if err != nil {
		return false, err
	}

	return n >= img.TotalRegions(), nil
}

// Append records drafts as day `day` of commitment c, completed on date.
// Either every draft is stored or none is. An empty draft list is a no-op.
func (l *Ledger) Append(ctx context.Context, c *models.Commitment, day int, date string, drafts []Draft) ([]*models.ProgressEntry, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	img, err := l.catalog.RegionsOf(c.ImageID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]struct{}, len(drafts))
	for _, d := range drafts {
		if !img.HasRegion(d.RegionID) {
			return nil, fmt.Errorf("%w: region %d of image %s", ErrUnknownRegion, d.RegionID, img.ID)
		}
		if _, dup := seen[d.RegionID]; dup {
			return nil, fmt.Errorf("%w: region %d appears twice", ErrDuplicateRegion, d.RegionID)
		}
		seen[d.RegionID] = struct{}{}
	}

	now := l.now().UTC()
	batch := &models.AppendBatch{
		CommitmentID: c.ID,
		Day:          day,
		CompletedOn:  date,
		TotalRegions: img.TotalRegions(),
		Entries:      make([]*models.ProgressEntry, 0, len(drafts)),
	}

	for _, d := range drafts {
		batch.Entries = append(batch.Entries, &models.ProgressEntry{
			ID:           uuid.NewString(),
			CommitmentID: c.ID,
			ImageID:      img.ID,
			Day:          day,
			RegionID:     d.RegionID,
			Color:        d.Color,
			CompletedOn:  date,
			CreatedAt:    now,
		})
	}

	if err := l.repo.AppendEntries(ctx, batch); err != nil {
		return nil, err
	}

	return batch.Entries, nil
}
