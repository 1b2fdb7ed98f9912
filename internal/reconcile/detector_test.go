package reconcile

import (
	"testing"

	"github.com/agentworkforce/gridsync/internal/configstore"
	"github.com/agentworkforce/gridsync/internal/grid"
)

func trackedGrid() *grid.Memory {
	return grid.NewMemory("s1", [][]string{
		{"ID", "Title", "Value", "Sync Status"},
		{"1", "A", "10", "Not modified"},
		{"2", "B", "20", "Synced"},
		{"3", "C", "30", "Error"},
		{"4", "D", "40", "Modified"},
		{"Last updated 2024-05-01", "", "", ""},
		{"5", "", "", "Not modified"},
	})
}

func TestHandleEditMarksDataRowsModified(t *testing.T) {
	detector := &Detector{tracker: NewTracker(newTrackedStore(t, "D"), nil)}
	sheet := trackedGrid()

	for _, row := range []int{1, 2, 3} {
		outcome, err := detector.HandleEdit(sheet, grid.Edit{SheetID: "s1", Row: row, Column: 1})
		if err != nil {
			t.Fatalf("edit row %d failed: %v", row, err)
		}
		if !outcome.Changed || outcome.Current != StatusModified {
			t.Fatalf("expected row %d flagged, got %+v", row, outcome)
		}
		values := mustValues(t, sheet)
		if values[row][3] != "Modified" {
			t.Fatalf("expected row %d Modified, got %v", row, values[row])
		}
	}
	format, _ := sheet.Format(2, 3)
	if format.Border != statusBorder || len(format.Validation) != len(allStatuses) {
		t.Fatalf("expected status formatting on edited row, got %+v", format)
	}
	rules, _ := sheet.Rules()
	if len(rules) != len(allStatuses) {
		t.Fatalf("expected status rules ensured, got %+v", rules)
	}
}

func TestHandleEditLeavesStatusAlone(t *testing.T) {
	cases := []struct {
		name string
		edit grid.Edit
		skip string
	}{
		{name: "header row", edit: grid.Edit{Row: 0, Column: 1}, skip: skipHeaderRow},
		{name: "status column", edit: grid.Edit{Row: 1, Column: 3}, skip: skipStatusColumn},
		{name: "metadata row", edit: grid.Edit{Row: 5, Column: 1}, skip: skipSparseRow},
		{name: "sparse row", edit: grid.Edit{Row: 6, Column: 1}, skip: skipSparseRow},
		{name: "already modified", edit: grid.Edit{Row: 4, Column: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			detector := &Detector{tracker: NewTracker(newTrackedStore(t, "D"), nil)}
			sheet := trackedGrid()
			before := mustValues(t, sheet)
			outcome, err := detector.HandleEdit(sheet, tc.edit)
			if err != nil {
				t.Fatalf("edit failed: %v", err)
			}
			if outcome.Changed || outcome.Skipped != tc.skip {
				t.Fatalf("unexpected outcome: %+v", outcome)
			}
			after := mustValues(t, sheet)
			for row := range before {
				if before[row][3] != after[row][3] {
					t.Fatalf("status of row %d changed from %q to %q", row, before[row][3], after[row][3])
				}
			}
		})
	}
}

func TestHandleEditSkipsMetadataRowWithData(t *testing.T) {
	detector := &Detector{tracker: NewTracker(newTrackedStore(t, "D"), nil)}
	sheet := grid.NewMemory("s1", [][]string{
		{"ID", "Title", "Value", "Sync Status"},
		{"Synced at", "noon", "today", ""},
	})
	outcome, err := detector.HandleEdit(sheet, grid.Edit{Row: 1, Column: 1})
	if err != nil || outcome.Skipped != skipMetadataRow {
		t.Fatalf("expected metadata skip, got %+v err=%v", outcome, err)
	}
}

func TestHandleEditRequiresTracking(t *testing.T) {
	detector := &Detector{tracker: NewTracker(configstore.NewInMemoryStore(), nil)}
	outcome, err := detector.HandleEdit(trackedGrid(), grid.Edit{Row: 1, Column: 1})
	if err != nil || outcome.Skipped != skipTrackingDisabled {
		t.Fatalf("expected tracking skip, got %+v err=%v", outcome, err)
	}

	detector = &Detector{tracker: NewTracker(newTrackedStore(t, ""), nil)}
	bare := grid.NewMemory("s1", [][]string{{"ID", "Title", "Value"}, {"1", "A", "10"}})
	outcome, err = detector.HandleEdit(bare, grid.Edit{Row: 1, Column: 1})
	if err != nil || outcome.Skipped != skipNoStatusColumn {
		t.Fatalf("expected missing column skip, got %+v err=%v", outcome, err)
	}
}

func TestHandleEditLowersThresholdForNarrowGrids(t *testing.T) {
	detector := &Detector{tracker: NewTracker(newTrackedStore(t, "C"), nil)}
	sheet := grid.NewMemory("s1", [][]string{{"ID", "Title", "Sync Status"}, {"1", "A", "Synced"}})
	outcome, err := detector.HandleEdit(sheet, grid.Edit{Row: 1, Column: 1})
	if err != nil || !outcome.Changed {
		t.Fatalf("expected two-column grid edit to flag row, got %+v err=%v", outcome, err)
	}
}

func TestIsTrackableRow(t *testing.T) {
	cases := map[string]bool{
		"123":                    true,
		"abc-42":                 true,
		"":                       false,
		"   ":                    false,
		"Last synced: yesterday": false,
		"Updated 2024-05-01":     false,
		"TIMESTAMP":              false,
		"---":                    false,
		"* * *":                  false,
	}
	for first, want := range cases {
		if got := IsTrackableRow([]string{first, "x"}); got != want {
			t.Fatalf("IsTrackableRow(%q) = %v, want %v", first, got, want)
		}
	}
	if IsTrackableRow(nil) {
		t.Fatalf("expected empty row to be untrackable")
	}
}

func TestParseStatusIgnoresCase(t *testing.T) {
	if status, ok := ParseStatus("  not MODIFIED "); !ok || status != StatusNotModified {
		t.Fatalf("unexpected parse: %q %v", status, ok)
	}
	if _, ok := ParseStatus("Pending"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
}
