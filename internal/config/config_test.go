package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATABASE_URL", "DATA_DIR", "REMOTE_ENDPOINT", "SYNC_TIMEOUT_SECONDS", "DELETE_CONFIRM_PHRASE", "RESYNC_ON_START"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if cfg.SyncTimeout() != 15*time.Second {
		t.Fatalf("expected 15s sync timeout, got %s", cfg.SyncTimeout())
	}
	if cfg.DeleteConfirmPhrase != "DELETE" {
		t.Fatalf("expected DELETE confirm phrase, got %q", cfg.DeleteConfirmPhrase)
	}
	if cfg.DataDir != "" || cfg.RemoteEndpoint != "" || cfg.ResyncOnStart {
		t.Fatalf("expected optional features off by default: %+v", cfg)
	}
}

func TestLoadFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("SYNC_INTERVAL_SECONDS", "-5")
	t.Setenv("SYNC_BATCH_SIZE", "many")
	t.Setenv("SUMMARY_CACHE_TTL_SECONDS", "60")
	t.Setenv("RESYNC_ON_START", "true")

	cfg := Load()
	if cfg.SyncIntervalSeconds != 30 || cfg.SyncBatchSize != 50 {
		t.Fatalf("expected fallbacks, got interval=%d batch=%d", cfg.SyncIntervalSeconds, cfg.SyncBatchSize)
	}
	if cfg.SummaryCacheTTL() != time.Minute || !cfg.ResyncOnStart {
		t.Fatalf("unexpected parsed values: %+v", cfg)
	}
}
