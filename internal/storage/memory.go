package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/terra-clan/commitment-engine/internal/models"
)

// MemoryRepository is a process-local Repository. Data is lost on restart.
type MemoryRepository struct {
	mu          sync.RWMutex
	commitments map[string]*models.Commitment
	order       []string
	entries     map[string][]*models.ProgressEntry
	days        map[string]map[string]int // commitment -> date -> day
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		commitments: make(map[string]*models.Commitment),
		entries:     make(map[string][]*models.ProgressEntry),
		days:        make(map[string]map[string]int),
	}
}

// Ping always succeeds
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (r *MemoryRepository) Close() error {
	return nil
}

// CreateCommitment stores a copy of c
func (r *MemoryRepository) CreateCommitment(ctx context.Context, c *models.Commitment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commitments[c.ID]; exists {
		return fmt.Errorf("failed to create commitment: duplicate id %s", c.ID)
	}

	cp := *c
	r.commitments[c.ID] = &cp
	r.order = append(r.order, c.ID)
	return nil
}

// GetCommitment returns a copy of the commitment, nil, nil when not found
func (r *MemoryRepository) GetCommitment(ctx context.Context, id string) (*models.Commitment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.commitments[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// ListCommitments returns commitments matching filters, newest first
func (r *MemoryRepository) ListCommitments(ctx context.Context, filters models.CommitmentFilters) ([]*models.Commitment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Commitment
	for i := len(r.order) - 1; i >= 0; i-- {
		c := r.commitments[r.order[i]]
		if filters.Status != "" && c.Status != filters.Status {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}

	sort.SliceStable(result, func(a, b int) bool {
		return result[a].CreatedAt.After(result[b].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return nil, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}

	return result, nil
}

// ListEntries returns copies of a commitment's entries in insertion order
func (r *MemoryRepository) ListEntries(ctx context.Context, commitmentID string) ([]*models.ProgressEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.entries[commitmentID]
	out := make([]*models.ProgressEntry, 0, len(stored))
	for _, e := range stored {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// CountEntries returns the number of regions completed for a commitment
func (r *MemoryRepository) CountEntries(ctx context.Context, commitmentID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[commitmentID]), nil
}

// LastDay returns the highest committed day, 0 if none
func (r *MemoryRepository) LastDay(ctx context.Context, commitmentID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastDayLocked(commitmentID), nil
}

func (r *MemoryRepository) lastDayLocked(commitmentID string) int {
	last := 0
	for _, day := range r.days[commitmentID] {
		if day > last {
			last = day
		}
	}
	return last
}

// HasCompletionOn reports whether an allocation event was committed on date
func (r *MemoryRepository) HasCompletionOn(ctx context.Context, commitmentID, date string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.days[commitmentID][date]
	return ok, nil
}

// AppendEntries applies the batch atomically under the write lock
func (r *MemoryRepository) AppendEntries(ctx context.Context, batch *models.AppendBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.commitments[batch.CommitmentID]
	if !ok {
		return ErrCommitmentNotFound
	}

	if _, done := r.days[batch.CommitmentID][batch.CompletedOn]; done {
		return ErrDayCommitted
	}

	last := r.lastDayLocked(batch.CommitmentID)
	if batch.Day != last+1 {
		return fmt.Errorf("%w: got day %d after day %d", ErrDayConflict, batch.Day, last)
	}

	existing := make(map[int]struct{}, len(r.entries[batch.CommitmentID]))
	for _, e := range r.entries[batch.CommitmentID] {
		existing[e.RegionID] = struct{}{}
	}
	for _, e := range batch.Entries {
		if _, dup := existing[e.RegionID]; dup {
			return ErrDuplicateRegion
		}
		existing[e.RegionID] = struct{}{}
	}

	// All checks passed; nothing below can fail
	if r.days[batch.CommitmentID] == nil {
		r.days[batch.CommitmentID] = make(map[string]int)
	}
	r.days[batch.CommitmentID][batch.CompletedOn] = batch.Day

	for _, e := range batch.Entries {
		cp := *e
		cp.CommitmentID = batch.CommitmentID
		cp.Day = batch.Day
		cp.CompletedOn = batch.CompletedOn
		r.entries[batch.CommitmentID] = append(r.entries[batch.CommitmentID], &cp)
	}

	if len(r.entries[batch.CommitmentID]) >= batch.TotalRegions {
		now := time.Now().UTC()
		c.Status = models.CommitmentCompleted
		c.CompletedAt = &now
	} else {
		c.Status = models.CommitmentInProgress
	}

	return nil
}
