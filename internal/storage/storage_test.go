package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/commitment-engine/internal/models"
)

// repositories returns every engine that can run without external services.
// PostgreSQL joins the set when TEST_DATABASE_DSN is set.
func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	ctx := context.Background()

	sqlite, err := NewSQLiteRepository(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	repos := map[string]Repository{
		"memory": NewMemoryRepository(),
		"sqlite": sqlite,
	}

	if dsn := os.Getenv("TEST_DATABASE_DSN"); dsn != "" {
		if err := MigrateFromDSN(ctx, dsn, ""); err != nil {
			t.Fatalf("MigrateFromDSN: %v", err)
		}
		pg, err := NewPostgresRepository(ctx, PostgresConfig{DSN: dsn})
		if err != nil {
			t.Fatalf("NewPostgresRepository: %v", err)
		}
		t.Cleanup(func() { pg.Close() })
		repos["postgres"] = pg
	}

	return repos
}

func newCommitment(t *testing.T, repo Repository, timeframe int) *models.Commitment {
	t.Helper()
	c := &models.Commitment{
		ID:        uuid.NewString(),
		Name:      "Fill the fox",
		Timeframe: timeframe,
		ImageID:   "fox",
		Status:    models.CommitmentCreated,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.CreateCommitment(context.Background(), c); err != nil {
		t.Fatalf("CreateCommitment: %v", err)
	}
	return c
}

func batch(c *models.Commitment, day int, date string, total int, regions ...int) *models.AppendBatch {
	b := &models.AppendBatch{
		CommitmentID: c.ID,
		Day:          day,
		CompletedOn:  date,
		TotalRegions: total,
	}
	for _, r := range regions {
		b.Entries = append(b.Entries, &models.ProgressEntry{
			ID:           uuid.NewString(),
			CommitmentID: c.ID,
			ImageID:      c.ImageID,
			Day:          day,
			RegionID:     r,
			Color:        "#abcdef",
			CompletedOn:  date,
			CreatedAt:    time.Now().UTC(),
		})
	}
	return b
}

func TestCommitmentCRUD(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			missing, err := repo.GetCommitment(ctx, "does-not-exist")
			if err != nil {
				t.Fatalf("GetCommitment: %v", err)
			}
			if missing != nil {
				t.Fatal("expected nil for unknown commitment")
			}

			first := newCommitment(t, repo, 5)
			time.Sleep(2 * time.Millisecond)
			second := newCommitment(t, repo, 7)

			got, err := repo.GetCommitment(ctx, first.ID)
			if err != nil || got == nil {
				t.Fatalf("GetCommitment: %v %v", got, err)
			}
			if got.Timeframe != 5 || got.ImageID != "fox" || got.Status != models.CommitmentCreated {
				t.Errorf("unexpected commitment %+v", got)
			}

			list, err := repo.ListCommitments(ctx, models.CommitmentFilters{Limit: 1})
			if err != nil {
				t.Fatalf("ListCommitments: %v", err)
			}
			if len(list) != 1 || list[0].ID != second.ID {
				t.Errorf("expected newest commitment first, got %v", list)
			}
		})
	}
}

func TestAppendEntries(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := newCommitment(t, repo, 2)

			if err := repo.AppendEntries(ctx, batch(c, 1, "2026-10-01", 4, 3, 1)); err != nil {
				t.Fatalf("AppendEntries day 1: %v", err)
			}

			got, _ := repo.GetCommitment(ctx, c.ID)
			if got.Status != models.CommitmentInProgress {
				t.Errorf("expected in_progress, got %s", got.Status)
			}

			last, err := repo.LastDay(ctx, c.ID)
			if err != nil || last != 1 {
				t.Fatalf("LastDay = %d, %v", last, err)
			}

			ok, err := repo.HasCompletionOn(ctx, c.ID, "2026-10-01")
			if err != nil || !ok {
				t.Fatalf("HasCompletionOn = %v, %v", ok, err)
			}
			ok, _ = repo.HasCompletionOn(ctx, c.ID, "2026-10-02")
			if ok {
				t.Fatal("no completion expected on 2026-10-02")
			}

			if err := repo.AppendEntries(ctx, batch(c, 2, "2026-10-02", 4, 2, 4)); err != nil {
				t.Fatalf("AppendEntries day 2: %v", err)
			}

			entries, err := repo.ListEntries(ctx, c.ID)
			if err != nil {
				t.Fatalf("ListEntries: %v", err)
			}
			want := []struct{ day, region int }{{1, 3}, {1, 1}, {2, 2}, {2, 4}}
			if len(entries) != len(want) {
				t.Fatalf("expected %d entries, got %d", len(want), len(entries))
			}
			for i, w := range want {
				if entries[i].Day != w.day || entries[i].RegionID != w.region {
					t.Errorf("entry %d: got day %d region %d, want day %d region %d",
						i, entries[i].Day, entries[i].RegionID, w.day, w.region)
				}
			}
			if entries[2].CompletedOn != "2026-10-02" {
				t.Errorf("unexpected completed_on %q", entries[2].CompletedOn)
			}

			got, _ = repo.GetCommitment(ctx, c.ID)
			if got.Status != models.CommitmentCompleted || got.CompletedAt == nil {
				t.Errorf("expected completed commitment, got %+v", got)
			}
		})
	}
}

func TestAppendEntriesGuards(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := newCommitment(t, repo, 5)

			if err := repo.AppendEntries(ctx, batch(c, 1, "2026-10-01", 10, 1, 2)); err != nil {
				t.Fatalf("AppendEntries: %v", err)
			}

			tests := []struct {
				name  string
				batch *models.AppendBatch
				want  error
			}{
				{"same date", batch(c, 2, "2026-10-01", 10, 3), ErrDayCommitted},
				{"skipped day", batch(c, 3, "2026-10-02", 10, 3), ErrDayConflict},
				{"replayed day", batch(c, 1, "2026-10-02", 10, 3), ErrDayConflict},
				{"stored region", batch(c, 2, "2026-10-02", 10, 3, 2), ErrDuplicateRegion},
				{"region twice in batch", batch(c, 2, "2026-10-02", 10, 5, 5), ErrDuplicateRegion},
				{"unknown commitment", &models.AppendBatch{CommitmentID: "nope", Day: 1, CompletedOn: "2026-10-02"}, ErrCommitmentNotFound},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					err := repo.AppendEntries(ctx, tt.batch)
					if !errors.Is(err, tt.want) {
						t.Fatalf("expected %v, got %v", tt.want, err)
					}
				})
			}

			// Nothing from the rejected batches is visible
			n, err := repo.CountEntries(ctx, c.ID)
			if err != nil || n != 2 {
				t.Fatalf("CountEntries = %d, %v; want 2", n, err)
			}
			last, _ := repo.LastDay(ctx, c.ID)
			if last != 1 {
				t.Fatalf("LastDay = %d, want 1", last)
			}
			ok, _ := repo.HasCompletionOn(ctx, c.ID, "2026-10-02")
			if ok {
				t.Fatal("rejected batch must not consume the date")
			}
		})
	}
}
