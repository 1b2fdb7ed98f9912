package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/gridsync/internal/configstore"
	"github.com/agentworkforce/gridsync/internal/grid"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("GRIDSYNC_TEST_INT", "42")
	got := intEnv("GRIDSYNC_TEST_INT", 7)
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("GRIDSYNC_TEST_INT_BAD", "not-a-number")
	got := intEnv("GRIDSYNC_TEST_INT_BAD", 7)
	if got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("GRIDSYNC_TEST_DURATION", "150ms")
	got := durationEnv("GRIDSYNC_TEST_DURATION", time.Second)
	if got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
}

func TestDurationEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("GRIDSYNC_TEST_DURATION_BAD", "soon")
	got := durationEnv("GRIDSYNC_TEST_DURATION_BAD", 2*time.Second)
	if got != 2*time.Second {
		t.Fatalf("expected fallback 2s, got %s", got)
	}
}

func TestEnvHelpersUseFallbackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("GRIDSYNC_TEST_INT_UNSET")
	_ = os.Unsetenv("GRIDSYNC_TEST_DURATION_UNSET")

	if got := intEnv("GRIDSYNC_TEST_INT_UNSET", 9); got != 9 {
		t.Fatalf("expected fallback 9, got %d", got)
	}
	if got := durationEnv("GRIDSYNC_TEST_DURATION_UNSET", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback 3s, got %s", got)
	}
	if got := envOrDefault("GRIDSYNC_TEST_STRING_UNSET", "x"); got != "x" {
		t.Fatalf("expected fallback x, got %q", got)
	}
}

func TestStoreProfiles(t *testing.T) {
	t.Setenv("GRIDSYNC_STORE_DSN", "")
	t.Setenv("GRIDSYNC_BACKEND_PROFILE", "durable-local")
	t.Setenv("GRIDSYNC_DATA_DIR", t.TempDir())
	store, err := buildStoreFromEnv()
	if err != nil {
		t.Fatalf("build durable-local store: %v", err)
	}
	if _, ok := store.(*configstore.JSONFileStore); !ok {
		t.Fatalf("expected JSON file store, got %T", store)
	}

	t.Setenv("GRIDSYNC_DATA_DIR", ".gridsync")
	store, err = buildStoreFromEnv()
	if err != nil {
		t.Fatalf("build relative durable-local store: %v", err)
	}
	if fileStore, ok := store.(*configstore.JSONFileStore); !ok || fileStore.Path != filepath.Join(".gridsync", "config.json") {
		t.Fatalf("expected store under the relative data dir, got %#v", store)
	}

	t.Setenv("GRIDSYNC_BACKEND_PROFILE", "production")
	t.Setenv("GRIDSYNC_POSTGRES_DSN", "")
	if _, err := buildStoreFromEnv(); err == nil || !strings.Contains(err.Error(), "GRIDSYNC_POSTGRES_DSN") {
		t.Fatalf("expected missing DSN error, got %v", err)
	}

	t.Setenv("GRIDSYNC_BACKEND_PROFILE", "floppy")
	if _, err := buildStoreFromEnv(); err == nil {
		t.Fatalf("expected unsupported profile error")
	}

	t.Setenv("GRIDSYNC_STORE_DSN", "memory://")
	store, err = buildStoreFromEnv()
	if err != nil {
		t.Fatalf("explicit DSN should win over profile: %v", err)
	}
	if _, ok := store.(*configstore.InMemoryStore); !ok {
		t.Fatalf("expected in-memory store, got %T", store)
	}
}

func TestProviderFromEnv(t *testing.T) {
	t.Setenv("GRIDSYNC_GRID_DIR", "")
	if _, ok := buildProviderFromEnv().(*grid.MemoryProvider); !ok {
		t.Fatalf("expected memory provider by default")
	}
	dir := t.TempDir()
	t.Setenv("GRIDSYNC_GRID_DIR", dir)
	provider, ok := buildProviderFromEnv().(*grid.Directory)
	if !ok || filepath.Clean(provider.Root) != filepath.Clean(dir) {
		t.Fatalf("expected directory provider rooted at %s, got %#v", dir, provider)
	}
}
