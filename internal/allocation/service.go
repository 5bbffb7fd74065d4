// Package allocation decides which regions of a commitment's image are
// completed each day and records them through the ledger.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/commitment-engine/internal/catalog"
	"github.com/terra-clan/commitment-engine/internal/ledger"
	"github.com/terra-clan/commitment-engine/internal/lock"
	"github.com/terra-clan/commitment-engine/internal/metrics"
	"github.com/terra-clan/commitment-engine/internal/models"
	"github.com/terra-clan/commitment-engine/internal/storage"
)

var (
	ErrCommitmentNotFound    = errors.New("commitment not found")
	ErrImageNotFound         = errors.New("image not found")
	ErrAlreadyComplete       = errors.New("commitment already complete")
	ErrAlreadyCompletedToday = errors.New("progress already recorded today")
	ErrInvalidCommitment     = errors.New("invalid commitment")
	ErrInternal              = errors.New("internal allocation error")

	errLock = errors.New("failed to lock commitment")
)

const (
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = 50 * time.Millisecond
)

// Manager is the commitment API consumed by the HTTP layer
type Manager interface {
	CreateCommitment(ctx context.Context, req *models.CreateCommitmentRequest) (*models.Commitment, error)
	GetCommitment(ctx context.Context, id string) (*models.Commitment, error)
	ListCommitments(ctx context.Context, filters models.CommitmentFilters) ([]*models.Commitment, error)
	Entries(ctx context.Context, commitmentID string) ([]*models.ProgressEntry, error)
	Progress(ctx context.Context, commitmentID string) (*models.ProgressSummary, error)
	CompleteToday(ctx context.Context, commitmentID string) (*Completion, error)
	Today(ctx context.Context, commitmentID string) (DayState, error)
}

// Service implements Manager
type Service struct {
	repo     storage.Repository
	catalog  catalog.Catalog
	ledger   *ledger.Ledger
	selector Selector
	locker   lock.Locker
	now      func() time.Time
	inflight *inflight

	maxAttempts  int
	retryBackoff time.Duration
}

// Option configures a Service
type Option func(*Service)

// WithSelector overrides the random region selector
func WithSelector(sel Selector) Option {
	return func(s *Service) {
		s.selector = sel
	}
}

// WithLocker sets the per-commitment locker
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// WithClock sets the time source used to derive the current UTC day
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRetry sets the attempt limit and the initial backoff between attempts
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			s.retryBackoff = backoff
		}
	}
}

// NewService creates an allocation service
func NewService(repo storage.Repository, cat catalog.Catalog, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		catalog:      cat,
		ledger:       ledger.New(repo, cat),
		selector:     NewRandomSelector(nil),
		locker:       lock.NewLocal(),
		now:          time.Now,
		inflight:     newInflight(),
		maxAttempts:  DefaultMaxAttempts,
		retryBackoff: DefaultRetryBackoff,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateCommitment validates req against the catalog and stores a new commitment
func (s *Service) CreateCommitment(ctx context.Context, req *models.CreateCommitmentRequest) (*models.Commitment, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommitment, err)
	}

	if _, err := s.image(req.ImageID); err != nil {
		return nil, err
	}

	c := &models.Commitment{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Timeframe:   req.Timeframe,
		ImageID:     req.ImageID,
		Status:      models.CommitmentCreated,
		CreatedAt:   s.now().UTC(),
	}

	if err := s.repo.CreateCommitment(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create commitment: %w", err)
	}

	slog.Info("commitment created",
		"commitment_id", c.ID,
		"image_id", c.ImageID,
		"timeframe", c.Timeframe,
	)

	return c, nil
}

// GetCommitment returns the commitment or ErrCommitmentNotFound
func (s *Service) GetCommitment(ctx context.Context, id string) (*models.Commitment, error) {
	c, err := s.repo.GetCommitment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get commitment: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCommitmentNotFound, id)
	}
	return c, nil
}

// ListCommitments returns commitments newest first
func (s *Service) ListCommitments(ctx context.Context, filters models.CommitmentFilters) ([]*models.Commitment, error) {
	return s.repo.ListCommitments(ctx, filters)
}

// Entries returns the commitment's progress entries ordered by day
func (s *Service) Entries(ctx context.Context, commitmentID string) ([]*models.ProgressEntry, error) {
	if _, err := s.GetCommitment(ctx, commitmentID); err != nil {
		return nil, err
	}
	return s.ledger.Entries(ctx, commitmentID)
}

// Progress summarizes the commitment: counts, last day and the planned schedule
func (s *Service) Progress(ctx context.Context, commitmentID string) (*models.ProgressSummary, error) {
	c, err := s.GetCommitment(ctx, commitmentID)
	if err != nil {
		return nil, err
	}

	img, err := s.image(c.ImageID)
	if err != nil {
		return nil, err
	}

	done, err := s.repo.CountEntries(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	last, err := s.ledger.LastDay(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read last day: %w", err)
	}

	state, err := s.today(ctx, c, img)
	if err != nil {
		return nil, err
	}

	next := last + 1
	if done >= img.TotalRegions() {
		next = 0
	}

	return &models.ProgressSummary{
		CommitmentID: c.ID,
		Status:       c.Status,
		Completed:    done,
		Total:        img.TotalRegions(),
		LastDay:      last,
		NextDay:      next,
		Today:        string(state),
		Schedule:     Schedule(img.TotalRegions(), c.Timeframe),
	}, nil
}

// Today reports the state of the current UTC day for the commitment
func (s *Service) Today(ctx context.Context, commitmentID string) (DayState, error) {
	c, err := s.GetCommitment(ctx, commitmentID)
	if err != nil {
		return "", err
	}

	img, err := s.image(c.ImageID)
	if err != nil {
		return "", err
	}

	return s.today(ctx, c, img)
}

func (s *Service) today(ctx context.Context, c *models.Commitment, img *models.Image) (DayState, error) {
	date := models.DateOf(s.now())

	if s.inflight.allocating(c.ID, date) {
		return StateAllocating, nil
	}

	committed, err := s.ledger.CompletedOn(ctx, c.ID, date)
	if err != nil {
		return "", fmt.Errorf("failed to check today's progress: %w", err)
	}
	if committed {
		return StateCommitted, nil
	}

	done, err := s.repo.CountEntries(ctx, c.ID)
	if err != nil {
		return "", fmt.Errorf("failed to count entries: %w", err)
	}
	if done >= img.TotalRegions() {
		return StateRejected, nil
	}

	return StateIdle, nil
}

// CompleteToday allocates and records today's regions for the commitment.
// At most one allocation event is committed per commitment per UTC day.
// Lock failures and aborted appends are retried with exponential backoff.
func (s *Service) CompleteToday(ctx context.Context, commitmentID string) (*Completion, error) {
	start := time.Now()
	defer func() {
		metrics.AllocationDuration.Observe(time.Since(start).Seconds())
	}()

	backoff := s.retryBackoff
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		completion, err := s.lockedAttempt(ctx, commitmentID)
		if err == nil {
			outcome := "committed"
			if len(completion.Entries) == 0 {
				outcome = "noop"
			}
			metrics.AllocationsTotal.WithLabelValues(outcome).Inc()
			metrics.RegionsAllocated.Add(float64(len(completion.Entries)))
			return completion, nil
		}

		if ctx.Err() != nil {
			metrics.AllocationsTotal.WithLabelValues("failed").Inc()
			return nil, ctx.Err()
		}

		if !retriable(err) {
			metrics.AllocationsTotal.WithLabelValues(outcomeOf(err)).Inc()
			return nil, err
		}

		lastErr = err
		metrics.AllocationRetries.WithLabelValues(reasonOf(err)).Inc()
		slog.Warn("allocation attempt aborted",
			"commitment_id", commitmentID,
			"attempt", attempt,
			"error", err,
		)

		if attempt == s.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			metrics.AllocationsTotal.WithLabelValues("failed").Inc()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	metrics.AllocationsTotal.WithLabelValues("failed").Inc()
	slog.Error("allocation failed",
		"commitment_id", commitmentID,
		"attempts", s.maxAttempts,
		"error", lastErr,
	)
	return nil, fmt.Errorf("%w: gave up after %d attempts: %w", ErrInternal, s.maxAttempts, lastErr)
}

// lockedAttempt runs one allocation pass while holding the commitment lock
func (s *Service) lockedAttempt(ctx context.Context, commitmentID string) (*Completion, error) {
	unlock, err := s.locker.Lock(ctx, "commitment:"+commitmentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errLock, err)
	}
	defer unlock()

	return s.attempt(ctx, commitmentID)
}

// attempt runs one allocation pass. The caller holds the commitment lock.
func (s *Service) attempt(ctx context.Context, commitmentID string) (*Completion, error) {
	c, err := s.GetCommitment(ctx, commitmentID)
	if err != nil {
		return nil, err
	}

	img, err := s.image(c.ImageID)
	if err != nil {
		return nil, err
	}

	date := models.DateOf(s.now())

	s.inflight.begin(c.ID, date)
	defer s.inflight.end(c.ID)
	state := s.transition(c.ID, StateIdle, StateAllocating)

	completion, err := s.allocate(ctx, c, img, date)
	switch {
	case errors.Is(err, ErrAlreadyCompletedToday):
		s.transition(c.ID, state, StateCommitted)
		return nil, err
	case err != nil && retriable(err):
		s.transition(c.ID, state, StateIdle)
		return nil, err
	case err != nil:
		s.transition(c.ID, state, StateRejected)
		return nil, err
	}

	// A zero quota records nothing, so the day stays open
	if len(completion.Entries) == 0 {
		completion.State = s.transition(c.ID, state, StateIdle)
	} else {
		completion.State = s.transition(c.ID, state, StateCommitted)
	}
	return completion, nil
}

func (s *Service) allocate(ctx context.Context, c *models.Commitment, img *models.Image, date string) (*Completion, error) {
	if c.IsCompleted() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyComplete, c.ID)
	}

	complete, err := s.ledger.IsCompleted(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to check completion: %w", err)
	}
	if complete {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyComplete, c.ID)
	}

	committed, err := s.ledger.CompletedOn(ctx, c.ID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to check today's progress: %w", err)
	}
	if committed {
		return nil, fmt.Errorf("%w: %s on %s", ErrAlreadyCompletedToday, c.ID, date)
	}

	done, err := s.ledger.CompletedRegions(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed regions: %w", err)
	}

	last, err := s.ledger.LastDay(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read last day: %w", err)
	}

	uncompleted := img.Uncompleted(done)
	if len(uncompleted) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyComplete, c.ID)
	}

	quota := ClampQuota(DailyQuota(img.TotalRegions(), c.Timeframe, last == 0), len(uncompleted))
	if quota == 0 {
		slog.Info("zero quota, nothing to record",
			"commitment_id", c.ID,
			"date", date,
		)
		return &Completion{
			CommitmentID: c.ID,
			Day:          last,
			Date:         date,
			Entries:      []*models.ProgressEntry{},
			Remaining:    len(uncompleted),
		}, nil
	}

	chosen := s.selector.Select(uncompleted, quota)
	drafts := make([]ledger.Draft, 0, len(chosen))
	for _, id := range chosen {
		color, _ := img.ColorOf(id)
		drafts = append(drafts, ledger.Draft{RegionID: id, Color: color})
	}

	day := last + 1
	entries, err := s.ledger.Append(ctx, c, day, date, drafts)
	if err != nil {
		if errors.Is(err, storage.ErrDayCommitted) {
			return nil, fmt.Errorf("%w: %s on %s", ErrAlreadyCompletedToday, c.ID, date)
		}
		if errors.Is(err, storage.ErrCommitmentNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCommitmentNotFound, c.ID)
		}
		return nil, fmt.Errorf("failed to append progress: %w", err)
	}

	remaining := len(uncompleted) - len(entries)

	slog.Info("progress recorded",
		"commitment_id", c.ID,
		"day", day,
		"date", date,
		"regions", len(entries),
		"remaining", remaining,
	)

	return &Completion{
		CommitmentID: c.ID,
		Day:          day,
		Date:         date,
		Entries:      entries,
		Completed:    remaining == 0,
		Remaining:    remaining,
	}, nil
}

func (s *Service) image(imageID string) (*models.Image, error) {
	img, err := s.catalog.RegionsOf(imageID)
	if err != nil {
		if errors.Is(err, catalog.ErrImageNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrImageNotFound, err)
		}
		return nil, fmt.Errorf("failed to load image %s: %w", imageID, err)
	}
	return img, nil
}

func (s *Service) transition(commitmentID string, from, to DayState) DayState {
	if !from.CanTransition(to) {
		slog.Error("invalid day state transition",
			"commitment_id", commitmentID,
			"from", from,
			"to", to,
		)
		return from
	}
	slog.Debug("day state", "commitment_id", commitmentID, "from", from, "to", to)
	return to
}

func retriable(err error) bool {
	switch {
	case errors.Is(err, ErrCommitmentNotFound),
		errors.Is(err, ErrImageNotFound),
		errors.Is(err, ErrAlreadyComplete),
		errors.Is(err, ErrAlreadyCompletedToday),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrCommitmentNotFound), errors.Is(err, ErrImageNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyComplete):
		return "already_complete"
	case errors.Is(err, ErrAlreadyCompletedToday):
		return "already_completed_today"
	}
	return "failed"
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, ledger.ErrDuplicateRegion):
		return "duplicate_region"
	case errors.Is(err, ledger.ErrUnknownRegion):
		return "unknown_region"
	case errors.Is(err, storage.ErrDayConflict):
		return "day_conflict"
	case errors.Is(err, errLock):
		return "lock"
	}
	return "storage"
}
