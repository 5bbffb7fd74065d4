package config

import (
	"slices"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Driver != StorageSQLite || cfg.Lock.Backend != LockLocal {
		t.Errorf("unexpected backends %q / %q", cfg.Storage.Driver, cfg.Lock.Backend)
	}
	if cfg.Allocation.MaxAttempts != 3 || cfg.Allocation.RetryBackoff != 50*time.Millisecond {
		t.Errorf("unexpected allocation defaults %+v", cfg.Allocation)
	}
	if cfg.Server.Address() != "0.0.0.0:8080" {
		t.Errorf("Address = %s", cfg.Server.Address())
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("LOCK_TTL", "10s")
	t.Setenv("ALLOC_MAX_ATTEMPTS", "5")
	t.Setenv("ALLOC_RETRY_BACKOFF", "200ms")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("DATABASE_AUTO_MIGRATE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Storage.Driver != StorageMemory || cfg.Lock.TTL != 10*time.Second {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Allocation.MaxAttempts != 5 || cfg.Allocation.RetryBackoff != 200*time.Millisecond {
		t.Errorf("unexpected allocation config %+v", cfg.Allocation)
	}
	if !slices.Equal(cfg.Server.CORSAllowedOrigins, []string{"https://a.example", "https://b.example"}) {
		t.Errorf("unexpected origins %v", cfg.Server.CORSAllowedOrigins)
	}
	if cfg.Database.AutoMigrate {
		t.Error("DATABASE_AUTO_MIGRATE=false was ignored")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"SERVER_PORT": "70000"}},
		{"unknown driver", map[string]string{"STORAGE_DRIVER": "mongo"}},
		{"postgres without dsn", map[string]string{"STORAGE_DRIVER": "postgres", "DATABASE_DSN": ""}},
		{"unknown lock", map[string]string{"LOCK_BACKEND": "zookeeper"}},
		{"zero attempts", map[string]string{"ALLOC_MAX_ATTEMPTS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
