package mapping

import (
	"errors"
	"reflect"
	"testing"

	"github.com/agentworkforce/gridsync/internal/configstore"
)

func TestEffectivePrependsImplicitID(t *testing.T) {
	m := Mapping{{FieldPath: "title"}, {FieldPath: "custom_fields.abc123", CanonicalName: "Colour"}}
	got := m.Effective()
	if len(got) != 3 || got[0].FieldPath != IDFieldPath || got[0].Label() != "ID" {
		t.Fatalf("expected implicit id first, got %+v", got)
	}
	if !reflect.DeepEqual(got.Headers(), []string{"ID", "title", "Colour"}) {
		t.Fatalf("unexpected headers: %v", got.Headers())
	}

	explicit := Mapping{{FieldPath: "title"}, {FieldPath: "id", DisplayOverride: "Deal #"}}
	got = explicit.Effective()
	if len(got) != 2 || got[0].Label() != "Deal #" || got[1].FieldPath != "title" {
		t.Fatalf("expected explicit id moved first, got %+v", got)
	}
}

func TestValidateRejectsDuplicatesAndEmptyPaths(t *testing.T) {
	dup := Mapping{{FieldPath: "title"}, {FieldPath: " title "}}
	if err := dup.Validate(); !errors.Is(err, ErrDuplicateFieldPath) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	empty := Mapping{{FieldPath: ""}}
	if err := empty.Validate(); !errors.Is(err, ErrEmptyFieldPath) {
		t.Fatalf("expected empty path error, got %v", err)
	}
}

func TestResolveHeaderPrefersOverrides(t *testing.T) {
	m := Mapping{
		{FieldPath: "title", CanonicalName: "Title", DisplayOverride: "Deal Name"},
		{FieldPath: "org_id.name", CanonicalName: "Organization"},
		{FieldPath: "value", CanonicalName: "Deal Name"},
	}
	entry, ok := m.ResolveHeader("  deal   NAME ")
	if !ok || entry.FieldPath != "title" {
		t.Fatalf("expected display override to win, got %+v ok=%v", entry, ok)
	}
	entry, ok = m.ResolveHeader("organization")
	if !ok || entry.FieldPath != "org_id.name" {
		t.Fatalf("expected canonical match, got %+v ok=%v", entry, ok)
	}
	entry, ok = m.ResolveHeader("org_id.name")
	if !ok || entry.FieldPath != "org_id.name" {
		t.Fatalf("expected field path match, got %+v ok=%v", entry, ok)
	}
	if _, ok := m.ResolveHeader("Sync Status"); ok {
		t.Fatalf("expected unmapped header to miss")
	}
}

func TestStoreLoadsUserMappingBeforeShared(t *testing.T) {
	backend := configstore.NewInMemoryStore()
	store := NewStore(backend)

	if _, ok, err := store.Load("s1", "deals", "ann"); err != nil || ok {
		t.Fatalf("expected no mapping yet, ok=%v err=%v", ok, err)
	}
	shared := Mapping{{FieldPath: "title"}}
	if err := store.Save("s1", "deals", "", shared); err != nil {
		t.Fatalf("save shared failed: %v", err)
	}
	got, ok, err := store.Load("s1", "deals", "ann")
	if err != nil || !ok || !reflect.DeepEqual(got, shared) {
		t.Fatalf("expected shared fallback, got %+v ok=%v err=%v", got, ok, err)
	}

	own := Mapping{{FieldPath: "title"}, {FieldPath: "value"}}
	if err := store.Save("s1", "deals", "ann", own); err != nil {
		t.Fatalf("save user mapping failed: %v", err)
	}
	got, _, _ = store.Load("s1", "deals", "ann")
	if !reflect.DeepEqual(got, own) {
		t.Fatalf("expected user mapping, got %+v", got)
	}
	if raw, ok, _ := backend.Get(configstore.ScopeDocument, "COLUMNS_s1_deals_ann"); !ok || raw == "" {
		t.Fatalf("expected mapping persisted under per-user key")
	}

	if err := store.Save("s1", "deals", "", Mapping{{FieldPath: "a"}, {FieldPath: "a"}}); !errors.Is(err, ErrDuplicateFieldPath) {
		t.Fatalf("expected save to reject duplicates, got %v", err)
	}
}
