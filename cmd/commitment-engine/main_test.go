package main

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/terra-clan/commitment-engine/internal/config"
	"github.com/terra-clan/commitment-engine/internal/health"
)

func TestOpenRepositorySQLiteCloses(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{Driver: config.StorageSQLite},
		SQLite:  config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "data", "ledger.db")},
	}
	ctx := context.Background()

	repo, closeRepo, err := openRepository(ctx, cfg, health.NewRegistry())
	if err != nil {
		t.Fatalf("openRepository: %v", err)
	}
	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("Ping before close: %v", err)
	}

	closeRepo()

	if err := repo.Ping(ctx); err == nil {
		t.Fatal("expected Ping to fail after close")
	}
}

func TestOpenRepositoryPostgresClosesCheck(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	cfg := &config.Config{
		Storage:  config.StorageConfig{Driver: config.StoragePostgres},
		Database: config.DatabaseConfig{DSN: dsn, AutoMigrate: true},
	}
	ctx := context.Background()
	checks := health.NewRegistry()

	repo, closeRepo, err := openRepository(ctx, cfg, checks)
	if err != nil {
		t.Fatalf("openRepository: %v", err)
	}
	if !slices.Contains(checks.List(), "postgres") {
		t.Fatalf("postgres check not registered: %v", checks.List())
	}

	closeRepo()

	if slices.Contains(checks.List(), "postgres") {
		t.Fatal("postgres check still registered after close")
	}
	if err := repo.Ping(ctx); err == nil {
		t.Fatal("expected Ping to fail after close")
	}
}

func TestOpenRepositoryUnknownDriver(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Driver: "etcd"}}

	if _, _, err := openRepository(context.Background(), cfg, health.NewRegistry()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
