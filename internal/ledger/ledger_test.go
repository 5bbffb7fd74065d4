package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/terra-clan/commitment-engine/internal/catalog"
	"github.com/terra-clan/commitment-engine/internal/models"
	"github.com/terra-clan/commitment-engine/internal/storage"
)

func setup(t *testing.T) (*Ledger, *models.Commitment) {
	t.Helper()

	img, err := models.NewImage("dots", "Dots", "", []models.Region{
		{ID: 1, Color: "#111"},
		{ID: 2, Color: "#222"},
		{ID: 3, Color: "#333"},
	})
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	cat := catalog.NewLoader()
	cat.Add(img)

	repo := storage.NewMemoryRepository()
	c := &models.Commitment{
		ID:        "c1",
		Name:      "dots",
		Timeframe: 2,
		ImageID:   "dots",
		Status:    models.CommitmentCreated,
		CreatedAt: time.Now(),
	}
	if err := repo.CreateCommitment(context.Background(), c); err != nil {
		t.Fatalf("CreateCommitment: %v", err)
	}

	return New(repo, cat), c
}

func TestAppendAndRead(t *testing.T) {
	l, c := setup(t)
	ctx := context.Background()

	stored, err := l.Append(ctx, c, 1, "2026-10-01", []Draft{{RegionID: 2, Color: "#222"}, {RegionID: 3, Color: "#333"}})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(stored) != 2 || stored[0].ID == "" || stored[0].Day != 1 || stored[0].ImageID != "dots" {
		t.Fatalf("unexpected stored entries %+v", stored)
	}

	done, err := l.CompletedRegions(ctx, c.ID)
	if err != nil {
		t.Fatalf("CompletedRegions: %v", err)
	}
	if _, ok := done[2]; !ok || len(done) != 2 {
		t.Errorf("unexpected completed set %v", done)
	}

	last, _ := l.LastDay(ctx, c.ID)
	if last != 1 {
		t.Errorf("LastDay = %d, want 1", last)
	}

	complete, err := l.IsCompleted(ctx, c)
	if err != nil || complete {
		t.Fatalf("IsCompleted = %v, %v; want false", complete, err)
	}

	if _, err := l.Append(ctx, c, 2, "2026-10-02", []Draft{{RegionID: 1, Color: "#111"}}); err != nil {
		t.Fatalf("Append day 2: %v", err)
	}

	complete, _ = l.IsCompleted(ctx, c)
	if !complete {
		t.Fatal("commitment should be complete after all regions are recorded")
	}
}

func TestAppendRejects(t *testing.T) {
	l, c := setup(t)
	ctx := context.Background()

	if _, err := l.Append(ctx, c, 1, "2026-10-01", []Draft{{RegionID: 1, Color: "#111"}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	tests := []struct {
		name   string
		drafts []Draft
		want   error
	}{
		{"unknown region", []Draft{{RegionID: 99, Color: "#000"}}, ErrUnknownRegion},
		{"duplicate in batch", []Draft{{RegionID: 2}, {RegionID: 2}}, ErrDuplicateRegion},
		{"already stored", []Draft{{RegionID: 3}, {RegionID: 1}}, ErrDuplicateRegion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Append(ctx, c, 2, "2026-10-02", tt.drafts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	done, _ := l.CompletedRegions(ctx, c.ID)
	if len(done) != 1 {
		t.Fatalf("rejected appends must not store anything, have %v", done)
	}
}

func TestAppendEmptyIsNoop(t *testing.T) {
	l, c := setup(t)

	stored, err := l.Append(context.Background(), c, 1, "2026-10-01", nil)
	if err != nil || stored != nil {
		t.Fatalf("Append(nil) = %v, %v", stored, err)
	}

	done, _ := l.CompletedOn(context.Background(), c.ID, "2026-10-01")
	if done {
		t.Fatal("empty append must not consume the date")
	}
}
