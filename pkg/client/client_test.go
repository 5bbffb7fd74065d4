package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/terra-clan/commitment-engine/internal/allocation"
	"github.com/terra-clan/commitment-engine/internal/api"
	"github.com/terra-clan/commitment-engine/internal/catalog"
	"github.com/terra-clan/commitment-engine/internal/config"
	"github.com/terra-clan/commitment-engine/internal/models"
	"github.com/terra-clan/commitment-engine/internal/storage"
)

var owlColors = map[int]string{
	1: "#a0522d",
	2: "#deb887",
	3: "#000000",
}

func newTestClient(t *testing.T) *Client {
	t.Helper()

	regions := make([]models.Region, 0, len(owlColors))
	for id := 1; id <= len(owlColors); id++ {
		regions = append(regions, models.Region{ID: id, Color: owlColors[id]})
	}
	img, err := models.NewImage("owl", "Owl", "", regions)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	cat := catalog.NewLoader()
	cat.Add(img)

	svc := allocation.NewService(storage.NewMemoryRepository(), cat)
	srv := api.NewServer(config.ServerConfig{}, svc, cat, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return NewClient(ts.URL+"/", WithTimeout(5*time.Second))
}

func TestClientLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	created, err := c.CreateCommitment(ctx, CreateCommitmentRequest{Name: "Owl", Timeframe: 2, ImageID: "owl"})
	if err != nil {
		t.Fatalf("CreateCommitment: %v", err)
	}

	got, err := c.GetCommitment(ctx, created.ID)
	if err != nil || got.Name != "Owl" {
		t.Fatalf("GetCommitment = %+v, %v", got, err)
	}

	list, err := c.ListCommitments(ctx, ListOptions{Limit: 10})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListCommitments = %v, %v", list, err)
	}

	done, err := c.CompleteToday(ctx, created.ID)
	if err != nil {
		t.Fatalf("CompleteToday: %v", err)
	}
	// 3 regions over 2 days: 2 on day one
	if done.Day != 1 || len(done.Entries) != 2 || done.Remaining != 1 {
		t.Fatalf("unexpected completion %+v", done)
	}

	_, err = c.CompleteToday(ctx, created.ID)
	if !HasCode(err, CodeAlreadyCompletedToday) {
		t.Fatalf("expected %s, got %v", CodeAlreadyCompletedToday, err)
	}

	entries, err := c.ListEntries(ctx, created.ID)
	if err != nil || len(entries) != 2 {
		t.Fatalf("ListEntries = %v, %v", entries, err)
	}

	returned := make(map[int]*models.ProgressEntry, len(done.Entries))
	for _, e := range done.Entries {
		returned[e.RegionID] = e
	}
	for _, e := range entries {
		r, ok := returned[e.RegionID]
		if !ok || r.Day != e.Day || r.Color != e.Color {
			t.Fatalf("listed entry %+v does not match completion entry %+v", e, r)
		}
		if want := owlColors[e.RegionID]; e.Color != want {
			t.Fatalf("region %d stored color %s, catalog has %s", e.RegionID, e.Color, want)
		}
	}

	progress, err := c.Progress(ctx, created.ID)
	if err != nil || progress.Completed != 2 || progress.Total != 3 {
		t.Fatalf("Progress = %+v, %v", progress, err)
	}
}

func TestClientErrors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if _, err := c.GetCommitment(ctx, "missing"); !HasCode(err, CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}

	_, err := c.CreateCommitment(ctx, CreateCommitmentRequest{Name: "x", Timeframe: 0, ImageID: "owl"})
	if !HasCode(err, CodeValidation) {
		t.Fatalf("expected validation_error, got %v", err)
	}
}

func TestClientImages(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	images, err := c.ListImages(ctx)
	if err != nil || len(images) != 1 {
		t.Fatalf("ListImages = %v, %v", images, err)
	}

	img, err := c.GetImage(ctx, "owl")
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	if img.TotalRegions != 3 || img.RegionColorMapping["2"] != "#deb887" {
		t.Fatalf("unexpected image %+v", img)
	}
}
