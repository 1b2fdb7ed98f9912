package configstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationStoreRoundTrip(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	pg, ok := store.(*PostgresStore)
	if !ok {
		t.Fatalf("expected *PostgresStore, got %T", store)
	}
	pg.tableName = postgresIntegrationTableName("gridsync_config_it")
	t.Cleanup(func() {
		_ = pg.Close()
		postgresIntegrationDropTable(t, dsn, pg.tableName)
	})

	if _, ok, err := store.Get(ScopeDocument, TrackingColumnKey("Deals")); err != nil || ok {
		t.Fatalf("expected missing key on fresh table, ok=%v err=%v", ok, err)
	}
	if err := store.Set(ScopeDocument, TrackingColumnKey("Deals"), "F"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ScopeDocument, TrackingColumnKey("Deals"), "G"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	value, ok, err := store.Get(ScopeDocument, TrackingColumnKey("Deals"))
	if err != nil || !ok || value != "G" {
		t.Fatalf("expected G after upsert, got %q ok=%v err=%v", value, ok, err)
	}
	if _, ok, _ := store.Get(ScopeScript, TrackingColumnKey("Deals")); ok {
		t.Fatalf("expected scopes to be isolated")
	}
	if err := store.Delete(ScopeDocument, TrackingColumnKey("Deals")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, _ := store.Get(ScopeDocument, TrackingColumnKey("Deals")); ok {
		t.Fatalf("expected key removed")
	}
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("GRIDSYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set GRIDSYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", postgresQuoteIdentifier(tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		t.Fatalf("drop cleanup table %q failed: %v", tableName, err)
	}
}
