package allocation

import (
	"sync"

	"github.com/terra-clan/commitment-engine/internal/models"
)

// DayState is the per-commitment, per-UTC-day state of the complete-today workflow
type DayState string

const (
	StateIdle       DayState = "idle"
	StateAllocating DayState = "allocating"
	StateCommitted  DayState = "committed"
	StateRejected   DayState = "rejected"
)

// IsTerminal returns true once the day can no longer change
func (s DayState) IsTerminal() bool {
	return s == StateCommitted || s == StateRejected
}

// CanTransition reports whether the workflow may move from s to next
func (s DayState) CanTransition(next DayState) bool {
	switch s {
	case StateIdle:
		return next == StateAllocating || next == StateRejected
	case StateAllocating:
		return next == StateCommitted || next == StateRejected || next == StateIdle
	}
	return false
}

// Completion is the result of one successful complete-today call. State is
// committed when entries were recorded and idle when the quota was zero.
type Completion struct {
	CommitmentID string                  `json:"commitment_id"`
	State        DayState                `json:"state"`
	Day          int                     `json:"day"`
	Date         string                  `json:"date"`
	Entries      []*models.ProgressEntry `json:"entries"`
	Completed    bool                    `json:"completed"`
	Remaining    int                     `json:"remaining"`
}

// inflight tracks commitments with an allocation running in this process
type inflight struct {
	mu     sync.Mutex
	active map[string]string // commitment -> date
}

func newInflight() *inflight {
	return &inflight{active: make(map[string]string)}
}

func (f *inflight) begin(commitmentID, date string) {
	f.mu.Lock()
	f.active[commitmentID] = date
	f.mu.Unlock()
}

func (f *inflight) end(commitmentID string) {
	f.mu.Lock()
	delete(f.active, commitmentID)
	f.mu.Unlock()
}

func (f *inflight) allocating(commitmentID, date string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.active[commitmentID]
	return ok && d == date
}
