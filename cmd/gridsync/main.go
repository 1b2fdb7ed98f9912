package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/gridsync/internal/catalog"
	"github.com/agentworkforce/gridsync/internal/configstore"
	"github.com/agentworkforce/gridsync/internal/crm"
	"github.com/agentworkforce/gridsync/internal/grid"
	"github.com/agentworkforce/gridsync/internal/httpapi"
	"github.com/agentworkforce/gridsync/internal/reconcile"
)

func main() {
	addr := os.Getenv("GRIDSYNC_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	store, err := buildStoreFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize config store: %v", err)
	}
	defer configstore.Close(store)

	client := buildClientFromEnv()
	logger := log.Default()
	engine, err := reconcile.NewEngine(reconcile.EngineOptions{
		Store:  store,
		Client: client,
		Catalog: catalog.New(client, catalog.Options{
			Store:  store,
			TTL:    durationEnv("GRIDSYNC_FIELD_CACHE_TTL", catalog.DefaultTTL),
			Logger: logger,
		}),
		BoolLabels: reconcile.BoolLabels{
			Yes: envOrDefault("GRIDSYNC_BOOL_YES", "Yes"),
			No:  envOrDefault("GRIDSYNC_BOOL_NO", "No"),
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("failed to initialize engine: %v", err)
	}

	server := httpapi.NewServerWithConfig(engine, buildProviderFromEnv(), httpapi.ServerConfig{
		JWTSecret:        os.Getenv("GRIDSYNC_JWT_SECRET"),
		RateLimitMax:     intEnv("GRIDSYNC_RATE_LIMIT_MAX", 0),
		RateLimitWindow:  durationEnv("GRIDSYNC_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:     int64Env("GRIDSYNC_MAX_BODY_BYTES", 0),
		OperationTimeout: durationEnv("GRIDSYNC_OPERATION_TIMEOUT", 5*time.Minute),
		Logger:           logger,
	})

	log.Printf("gridsync listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func buildStoreFromEnv() (configstore.Store, error) {
	if dsn := strings.TrimSpace(os.Getenv("GRIDSYNC_STORE_DSN")); dsn != "" {
		return configstore.BuildFromDSN(dsn)
	}
	dsn, err := storeProfileDSNFromEnv()
	if err != nil {
		return nil, err
	}
	return configstore.BuildFromDSN(dsn)
}

func storeProfileDSNFromEnv() (string, error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("GRIDSYNC_BACKEND_PROFILE")))
	dataDir := envOrDefault("GRIDSYNC_DATA_DIR", ".gridsync")
	switch profile {
	case "", "memory", "inmemory":
		return "memory://", nil
	case "production", "prod":
		dsn := strings.TrimSpace(os.Getenv("GRIDSYNC_POSTGRES_DSN"))
		if dsn == "" {
			return "", fmt.Errorf("GRIDSYNC_POSTGRES_DSN is required when GRIDSYNC_BACKEND_PROFILE=%s", profile)
		}
		return dsn, nil
	case "durable-local", "local-durable":
		return "file://" + filepath.Join(dataDir, "config.json"), nil
	default:
		return "", fmt.Errorf("unsupported GRIDSYNC_BACKEND_PROFILE: %s", profile)
	}
}

// buildProviderFromEnv serves file-backed sheets from GRIDSYNC_GRID_DIR, or
// in-memory sheets when it is unset.
func buildProviderFromEnv() grid.Provider {
	if dir := strings.TrimSpace(os.Getenv("GRIDSYNC_GRID_DIR")); dir != "" {
		return grid.NewDirectory(dir)
	}
	return grid.NewMemoryProvider()
}

func buildClientFromEnv() *crm.HTTPClient {
	baseURL := strings.TrimSpace(os.Getenv("GRIDSYNC_CRM_BASE_URL"))
	if baseURL == "" {
		if subdomain := strings.TrimSpace(os.Getenv("GRIDSYNC_CRM_SUBDOMAIN")); subdomain != "" {
			baseURL = crm.BaseURLForSubdomain(subdomain)
		}
	}
	client := crm.NewHTTPClient(baseURL, os.Getenv("GRIDSYNC_CRM_TOKEN"), &http.Client{
		Timeout: durationEnv("GRIDSYNC_CRM_TIMEOUT", 30*time.Second),
	})
	client.SetPageSize(intEnv("GRIDSYNC_CRM_PAGE_SIZE", 0))
	return client
}
