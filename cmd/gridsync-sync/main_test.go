package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentworkforce/gridsync/internal/configstore"
	"github.com/agentworkforce/gridsync/internal/mapping"
)

func TestFloatEnvParsesValue(t *testing.T) {
	t.Setenv("GRIDSYNC_TEST_FLOAT", "0.35")
	got := floatEnv("GRIDSYNC_TEST_FLOAT", 0.1)
	if got != 0.35 {
		t.Fatalf("expected 0.35, got %f", got)
	}
}

func TestFloatEnvFallsBackOnInvalid(t *testing.T) {
	t.Setenv("GRIDSYNC_TEST_FLOAT_BAD", "oops")
	got := floatEnv("GRIDSYNC_TEST_FLOAT_BAD", 0.25)
	if got != 0.25 {
		t.Fatalf("expected fallback 0.25, got %f", got)
	}
}

func TestClampJitterRatio(t *testing.T) {
	if got := clampJitterRatio(-0.1); got != 0 {
		t.Fatalf("expected clamp to 0, got %f", got)
	}
	if got := clampJitterRatio(1.5); got != 1 {
		t.Fatalf("expected clamp to 1, got %f", got)
	}
	if got := clampJitterRatio(0.4); got != 0.4 {
		t.Fatalf("expected passthrough 0.4, got %f", got)
	}
}

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 10 * time.Second
	if got := jitteredIntervalWithSample(base, 0, 0.2); got != base {
		t.Fatalf("expected no jitter interval %s, got %s", base, got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0); got != 8*time.Second {
		t.Fatalf("expected min jitter interval 8s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0.5); got != 10*time.Second {
		t.Fatalf("expected midpoint jitter interval 10s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 1); got != 12*time.Second {
		t.Fatalf("expected max jitter interval 12s, got %s", got)
	}
}

const testProfile = `sheet: pipeline
user: ana
entity: Deal
filter: "42"
twoWay: true
pageSize: 50
columns:
  - field: title
    header: Deal
  - field: custom_fields.abc123
    name: Budget
routes:
  tickets:
    resource: tickets
    fieldsResource: ticketFields
    updateMethod: PATCH
    updateVersion: v2
`

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	return path
}

func TestLoadProfile(t *testing.T) {
	p, err := loadProfile(writeProfile(t, testProfile))
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if p.Sheet != "pipeline" || p.User != "ana" || p.PageSize != 50 {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if p.TwoWay == nil || !*p.TwoWay {
		t.Fatalf("expected twoWay to be set")
	}
	route, ok := p.Routes["tickets"]
	if !ok || route.FieldsResource != "ticketFields" || route.UpdateMethod != "PATCH" {
		t.Fatalf("unexpected routes: %+v", p.Routes)
	}

	empty, err := loadProfile("")
	if err != nil || empty.Sheet != "" {
		t.Fatalf("expected empty profile without a path, got %+v err=%v", empty, err)
	}
	if _, err := loadProfile(writeProfile(t, "columns: [")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestProfileApplySeedsStore(t *testing.T) {
	p, err := loadProfile(writeProfile(t, testProfile))
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	store := configstore.NewInMemoryStore()
	if err := p.apply(store, "pipeline"); err != nil {
		t.Fatalf("apply profile: %v", err)
	}
	if got := configstore.GetString(store, configstore.ScopeDocument, configstore.EntityTypeKey("pipeline"), ""); got != "deals" {
		t.Fatalf("expected normalized entity, got %q", got)
	}
	if got := configstore.GetString(store, configstore.ScopeDocument, configstore.FilterIDKey("pipeline"), ""); got != "42" {
		t.Fatalf("expected filter 42, got %q", got)
	}
	if !configstore.GetBool(store, configstore.ScopeDocument, configstore.TwoWayEnabledKey("pipeline")) {
		t.Fatalf("expected two-way sync enabled")
	}
	m, ok, err := mapping.NewStore(store).Load("pipeline", "deals", "ana")
	if err != nil || !ok {
		t.Fatalf("expected saved mapping, ok=%v err=%v", ok, err)
	}
	if len(m) != 2 || m[0].Label() != "Deal" || m[1].Label() != "Budget" {
		t.Fatalf("unexpected mapping: %+v", m)
	}
}

func TestProfileApplyLeavesUnsetFieldsAlone(t *testing.T) {
	store := configstore.NewInMemoryStore()
	if err := store.Set(configstore.ScopeDocument, configstore.FilterIDKey("s1"), "7"); err != nil {
		t.Fatalf("seed filter: %v", err)
	}
	if err := (profile{}).apply(store, "s1"); err != nil {
		t.Fatalf("apply empty profile: %v", err)
	}
	if got := configstore.GetString(store, configstore.ScopeDocument, configstore.FilterIDKey("s1"), ""); got != "7" {
		t.Fatalf("expected filter kept, got %q", got)
	}
}

func TestProfileApplyRejectsInvalidColumns(t *testing.T) {
	p := profile{Columns: []profileColumn{{Field: "title"}, {Field: "title"}}}
	err := p.apply(configstore.NewInMemoryStore(), "s1")
	if !errors.Is(err, mapping.ErrDuplicateFieldPath) {
		t.Fatalf("expected duplicate field path error, got %v", err)
	}
}
