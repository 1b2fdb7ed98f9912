package reconcile

import (
	"context"
	"reflect"
	"testing"

	"github.com/agentworkforce/gridsync/internal/configstore"
	"github.com/agentworkforce/gridsync/internal/crm"
	"github.com/agentworkforce/gridsync/internal/grid"
)

func newTrackedStore(t *testing.T, hint string) *configstore.InMemoryStore {
	t.Helper()
	store := configstore.NewInMemoryStore()
	if err := configstore.SetBool(store, configstore.ScopeDocument, configstore.TwoWayEnabledKey("s1"), true); err != nil {
		t.Fatalf("enable tracking failed: %v", err)
	}
	if hint != "" {
		_ = store.Set(configstore.ScopeDocument, configstore.TrackingColumnKey("s1"), hint)
	}
	return store
}

func statusHeaderCount(values [][]string) []int {
	return statusHeaderColumns(rowAt(values, 0))
}

func TestRepairCollapsesDuplicateColumnsIdempotently(t *testing.T) {
	store := newTrackedStore(t, "")
	tracker := NewTracker(store, nil)
	sheet := grid.NewMemory("s1", [][]string{
		{"ID", "Title", "Sync Status", "Value", "Sync Status"},
		{"1", "A", "Synced", "10", "Synced"},
		{"2", "B", "Error", "20", "Modified"},
	})
	_ = sheet.SetFormat(0, 2, grid.Format{Background: headerBackground, Bold: true, Note: headerNote})
	_ = sheet.SetFormat(1, 2, grid.Format{Validation: statusValues(), Border: statusBorder})
	_ = sheet.SetRules([]grid.ConditionalRule{
		{Column: 3, Equals: "big", Background: "#000000"},
		{Column: 2, Equals: "Synced", Background: statusBackgrounds[StatusSynced]},
	})

	report, err := tracker.Repair(sheet)
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if report.Column != "E" || !reflect.DeepEqual(report.Removed, []string{"C"}) {
		t.Fatalf("unexpected report: %+v", report)
	}
	values := mustValues(t, sheet)
	if got := statusHeaderCount(values); !reflect.DeepEqual(got, []int{4}) {
		t.Fatalf("expected a single status column at E, got %v", got)
	}
	if values[1][2] != "" || values[2][2] != "" || values[1][3] != "10" {
		t.Fatalf("expected duplicate values cleared and data kept, got %v", values)
	}
	if format, _ := sheet.Format(1, 2); !reflect.DeepEqual(format, grid.Format{}) {
		t.Fatalf("expected duplicate formatting stripped, got %+v", format)
	}
	if format, _ := sheet.Format(2, 4); !reflect.DeepEqual(format.Validation, statusValues()) {
		t.Fatalf("expected status validation on E, got %+v", format)
	}
	rules, _ := sheet.Rules()
	if len(rules) != 1+len(allStatuses) || rules[0].Column != 3 {
		t.Fatalf("expected unrelated rule kept first, got %+v", rules)
	}
	for _, rule := range rules[1:] {
		if rule.Column != 4 {
			t.Fatalf("expected status rules on E only, got %+v", rules)
		}
	}
	if got := configstore.GetString(store, configstore.ScopeDocument, configstore.TrackingColumnKey("s1"), ""); got != "E" {
		t.Fatalf("expected hint E, got %q", got)
	}

	before := sheet.Snapshot()
	again, err := tracker.Repair(sheet)
	if err != nil {
		t.Fatalf("second repair failed: %v", err)
	}
	if again.Changed() {
		t.Fatalf("expected second repair to be a no-op, got %+v", again)
	}
	if after := sheet.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatalf("repair is not idempotent:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestRepairRecreatesMissingColumn(t *testing.T) {
	tracker := NewTracker(newTrackedStore(t, ""), nil)
	sheet := grid.NewMemory("s1", [][]string{
		{"ID", "Title"},
		{"1", "A"},
		{"Last synced: 2024-05-01", ""},
	})
	report, err := tracker.Repair(sheet)
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if !report.Created || report.Column != "C" {
		t.Fatalf("unexpected report: %+v", report)
	}
	values := mustValues(t, sheet)
	if values[0][2] != StatusHeader || values[1][2] != "Not modified" || grid.Cell(values, 2, 2) != "" {
		t.Fatalf("unexpected grid: %v", values)
	}
	if width := sheet.ColumnWidth(2); width != statusColumnWidth {
		t.Fatalf("expected status column width, got %d", width)
	}
}

func TestRepairRenamesLooseHeader(t *testing.T) {
	tracker := NewTracker(newTrackedStore(t, ""), nil)
	sheet := grid.NewMemory("s1", [][]string{{"ID", "Title", "sync status (old)"}, {"1", "A", "Synced"}})
	report, err := tracker.Repair(sheet)
	if err != nil || !report.Renamed || report.Column != "C" {
		t.Fatalf("expected rename, got %+v err=%v", report, err)
	}
	if values := mustValues(t, sheet); values[0][2] != StatusHeader {
		t.Fatalf("expected canonical header, got %v", values[0])
	}
}

func TestRepairSweepsLeftDrift(t *testing.T) {
	tracker := NewTracker(newTrackedStore(t, "E"), nil)
	sheet := grid.NewMemory("s1", [][]string{{"ID", "Title", "Sync Status"}, {"1", "A", "Synced"}})
	_ = sheet.SetFormat(1, 1, grid.Format{Validation: statusValues()})
	_ = sheet.SetRules([]grid.ConditionalRule{{Column: 1, Equals: "Modified", Background: statusBackgrounds[StatusModified]}})

	report, err := tracker.Repair(sheet)
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if report.Drift != "left" || !reflect.DeepEqual(report.Cleaned, []string{"B"}) {
		t.Fatalf("unexpected report: %+v", report)
	}
	if format, _ := sheet.Format(1, 1); format.Validation != nil {
		t.Fatalf("expected stale validation removed, got %+v", format)
	}
	rules, _ := sheet.Rules()
	for _, rule := range rules {
		if rule.Column != 2 {
			t.Fatalf("expected only status rules on C, got %+v", rules)
		}
	}
	if values := mustValues(t, sheet); values[1][1] != "A" {
		t.Fatalf("expected data kept, got %v", values)
	}
}

func TestRepairCleansRightDriftHint(t *testing.T) {
	tracker := NewTracker(newTrackedStore(t, "B"), nil)
	sheet := grid.NewMemory("s1", [][]string{{"ID", "Title", "Value", "Sync Status"}, {"1", "A", "1", "Synced"}})
	_ = sheet.SetFormat(0, 1, grid.Format{Background: headerBackground, Bold: true, Note: headerNote})

	report, err := tracker.Repair(sheet)
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if report.Drift != "right" || !reflect.DeepEqual(report.Cleaned, []string{"B"}) {
		t.Fatalf("unexpected report: %+v", report)
	}
	if format, _ := sheet.Format(0, 1); !reflect.DeepEqual(format, grid.Format{}) {
		t.Fatalf("expected old header formatting removed, got %+v", format)
	}
	if values := mustValues(t, sheet); values[0][1] != "Title" {
		t.Fatalf("expected old header text kept, got %v", values[0])
	}
}

func TestRepairLeavesUntrackedSheetAlone(t *testing.T) {
	tracker := NewTracker(configstore.NewInMemoryStore(), nil)
	sheet := grid.NewMemory("s1", [][]string{{"ID", "Title"}, {"1", "A"}})
	before := sheet.Snapshot()
	report, err := tracker.Repair(sheet)
	if err != nil || report.Changed() {
		t.Fatalf("expected no-op, got %+v err=%v", report, err)
	}
	if !reflect.DeepEqual(before, sheet.Snapshot()) {
		t.Fatalf("expected untracked sheet untouched")
	}
}

func TestLocatePrefersHintThenRightmost(t *testing.T) {
	values := [][]string{{"ID", "Sync Status", "Title", "Sync Status"}}
	if got := NewTracker(newTrackedStore(t, "B"), nil).Locate("s1", values); got != 1 {
		t.Fatalf("expected hint column, got %d", got)
	}
	if got := NewTracker(newTrackedStore(t, "C"), nil).Locate("s1", values); got != 3 {
		t.Fatalf("expected rightmost match for stale hint, got %d", got)
	}
	if got := NewTracker(newTrackedStore(t, ""), nil).Locate("s1", [][]string{{"ID", "Title"}}); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}

func pulledSheet(t *testing.T) (*Engine, *grid.Memory) {
	t.Helper()
	client := &fakeClient{pages: [][]crm.Record{{record(1, "A", "X"), record(2, "B", "Y")}}}
	engine, _ := newTestEngine(t, client, true)
	sheet := grid.NewMemory("s1", nil)
	if _, err := engine.Pull(context.Background(), sheet, ""); err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	return engine, sheet
}

func TestRepairAfterStructuralEdits(t *testing.T) {
	t.Run("status column deleted", func(t *testing.T) {
		engine, sheet := pulledSheet(t)
		sheet.DeleteColumn(3)

		report, err := engine.Repair(sheet)
		if err != nil {
			t.Fatalf("repair failed: %v", err)
		}
		if !report.Created || report.Column != "D" {
			t.Fatalf("expected status column recreated at D, got %+v", report)
		}
		values := mustValues(t, sheet)
		if got := statusHeaderCount(values); !reflect.DeepEqual(got, []int{3}) {
			t.Fatalf("expected one status column, got %v", got)
		}
		if values[1][3] != string(StatusNotModified) || values[2][1] != "B" {
			t.Fatalf("unexpected grid after recreate: %v", values)
		}
		if format, _ := sheet.Format(1, 3); !reflect.DeepEqual(format.Validation, statusValues()) {
			t.Fatalf("expected status validation on recreated column, got %+v", format)
		}
	})

	t.Run("data column deleted", func(t *testing.T) {
		engine, sheet := pulledSheet(t)
		sheet.DeleteColumn(1)

		report, err := engine.Repair(sheet)
		if err != nil {
			t.Fatalf("repair failed: %v", err)
		}
		if report.Drift != "left" || report.Column != "C" || len(report.Cleaned) != 0 {
			t.Fatalf("expected clean left drift to C, got %+v", report)
		}
		values := mustValues(t, sheet)
		if got := statusHeaderCount(values); !reflect.DeepEqual(got, []int{2}) {
			t.Fatalf("expected one status column, got %v", got)
		}
		if values[1][1] != "X" || values[1][2] != string(StatusNotModified) {
			t.Fatalf("expected data and statuses kept, got %v", values)
		}
	})

	t.Run("status column cut and pasted left", func(t *testing.T) {
		engine, sheet := pulledSheet(t)
		sheet.InsertColumn(1)
		values := mustValues(t, sheet)
		for row := range values {
			format, _ := sheet.Format(row, 4)
			_ = sheet.SetValue(row, 1, values[row][4])
			_ = sheet.SetFormat(row, 1, format)
			_ = sheet.SetValue(row, 4, "")
			_ = sheet.SetFormat(row, 4, grid.Format{})
		}

		report, err := engine.Repair(sheet)
		if err != nil {
			t.Fatalf("repair failed: %v", err)
		}
		if report.Drift != "left" || report.Column != "B" || !reflect.DeepEqual(report.Cleaned, []string{"E"}) {
			t.Fatalf("expected left drift to B with E cleaned, got %+v", report)
		}
		values = mustValues(t, sheet)
		if got := statusHeaderCount(values); !reflect.DeepEqual(got, []int{1}) {
			t.Fatalf("expected one status column, got %v", got)
		}
		rules, _ := sheet.Rules()
		if len(rules) == 0 {
			t.Fatalf("expected status rules on B")
		}
		for _, rule := range rules {
			if rule.Column != 1 {
				t.Fatalf("expected stale rules on E removed, got %+v", rules)
			}
		}
		if values[2][2] != "B" || values[2][3] != "Y" {
			t.Fatalf("expected data columns kept, got %v", values[2])
		}

		again, err := engine.Repair(sheet)
		if err != nil || again.Changed() {
			t.Fatalf("expected second repair to be a no-op, got %+v err=%v", again, err)
		}
	})
}
