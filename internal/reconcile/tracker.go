package reconcile

import (
	"strings"

	"github.com/agentworkforce/gridsync/internal/configstore"
	"github.com/agentworkforce/gridsync/internal/grid"
)

// Tracker is the single authority on where a sheet's status column is.
type Tracker struct {
	store  configstore.Store
	logger Logger
}

func NewTracker(store configstore.Store, logger Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

type RepairReport struct {
	Column string `json:"column,omitempty"`
	// Removed lists the letters of duplicate status columns that were
	// stripped.
	Removed []string `json:"removed,omitempty"`
	Created bool     `json:"created,omitempty"`
	Renamed bool     `json:"renamed,omitempty"`
	// Drift is "left" or "right" when the column moved away from its hint.
	Drift    string   `json:"drift,omitempty"`
	Previous string   `json:"previous,omitempty"`
	Cleaned  []string `json:"cleaned,omitempty"`
}

func (r RepairReport) Changed() bool {
	return len(r.Removed) > 0 || r.Created || r.Renamed || r.Drift != "" || len(r.Cleaned) > 0
}

func (t *Tracker) Enabled(sheetID string) bool {
	return configstore.GetBool(t.store, configstore.ScopeDocument, configstore.TwoWayEnabledKey(sheetID))
}

func (t *Tracker) hint(sheetID string) int {
	return grid.ColumnIndex(configstore.GetString(t.store, configstore.ScopeDocument, configstore.TrackingColumnKey(sheetID), ""))
}

// Locate finds the status column in values: the persisted hint when it
// still points at a status header, else the rightmost exact header match,
// else the first header merely containing the status header text. It
// returns -1 when there is none.
func (t *Tracker) Locate(sheetID string, values [][]string) int {
	header := rowAt(values, 0)
	if hint := t.hint(sheetID); hint > 0 && isStatusHeader(grid.Cell(values, 0, hint)) {
		return hint
	}
	if matches := statusHeaderColumns(header); len(matches) > 0 {
		return matches[len(matches)-1]
	}
	return containsStatusHeader(header)
}

func statusHeaderColumns(header []string) []int {
	var matches []int
	for col, value := range header {
		if col > 0 && isStatusHeader(value) {
			matches = append(matches, col)
		}
	}
	return matches
}

func containsStatusHeader(header []string) int {
	want := strings.ToLower(StatusHeader)
	for col, value := range header {
		if col > 0 && strings.Contains(strings.ToLower(value), want) {
			return col
		}
	}
	return -1
}

// Repair enforces a single, correctly formatted status column and cleans
// up whatever drift left behind. Sheets without tracking are left alone.
func (t *Tracker) Repair(sheet grid.Sheet) (RepairReport, error) {
	var report RepairReport
	sheetID := sheet.ID()
	if !t.Enabled(sheetID) {
		return report, nil
	}
	values, err := sheet.Values()
	if err != nil {
		return report, err
	}
	if len(values) == 0 {
		return report, nil
	}

	col := -1
	matches := statusHeaderColumns(values[0])
	if len(matches) > 0 {
		col = matches[len(matches)-1]
		for _, dup := range matches[:len(matches)-1] {
			if err := stripFingerprint(sheet, values, dup, true); err != nil {
				return report, err
			}
			report.Removed = append(report.Removed, grid.ColumnLetter(dup))
		}
		if len(report.Removed) > 0 {
			logf(t.logger, "sheet %s: removed %d duplicate status columns", sheetID, len(report.Removed))
		}
	} else if loose := containsStatusHeader(values[0]); loose > 0 {
		col = loose
		if err := sheet.SetValue(0, col, StatusHeader); err != nil {
			return report, err
		}
		report.Renamed = true
	} else {
		col = grid.Width(values)
		if col < 1 {
			col = 1
		}
		if err := t.createColumn(sheet, values, col); err != nil {
			return report, err
		}
		report.Created = true
		logf(t.logger, "sheet %s: recreated status column at %s", sheetID, grid.ColumnLetter(col))
	}
	if values, err = sheet.Values(); err != nil {
		return report, err
	}
	rules, err := sheet.Rules()
	if err != nil {
		return report, err
	}

	cleaned := map[int]bool{}
	clean := func(target int) error {
		if target < 0 || target == col || cleaned[target] {
			return nil
		}
		found, err := hasFingerprint(sheet, values, rules, target)
		if err != nil || !found {
			return err
		}
		cleaned[target] = true
		report.Cleaned = append(report.Cleaned, grid.ColumnLetter(target))
		return stripFingerprint(sheet, values, target, false)
	}

	if hint := t.hint(sheetID); hint >= 0 && hint != col {
		if col < hint {
			report.Drift = "left"
			for target := 0; target < grid.Width(values); target++ {
				if err := clean(target); err != nil {
					return report, err
				}
			}
		} else {
			report.Drift = "right"
			if err := clean(hint); err != nil {
				return report, err
			}
		}
		logf(t.logger, "sheet %s: status column drifted %s from %s to %s", sheetID, report.Drift, grid.ColumnLetter(hint), grid.ColumnLetter(col))
	}

	previousKey := configstore.PreviousTrackingColumnKey(sheetID)
	if previous := configstore.GetString(t.store, configstore.ScopeDocument, previousKey, ""); previous != "" {
		report.Previous = previous
		if err := clean(grid.ColumnIndex(previous)); err != nil {
			return report, err
		}
		if err := t.store.Delete(configstore.ScopeDocument, previousKey); err != nil {
			return report, err
		}
	}

	if err := applyStatusFormatting(sheet, values, col); err != nil {
		return report, err
	}
	report.Column = grid.ColumnLetter(col)
	if err := t.store.Set(configstore.ScopeDocument, configstore.TrackingColumnKey(sheetID), report.Column); err != nil {
		return report, err
	}
	return report, nil
}

func (t *Tracker) createColumn(sheet grid.Sheet, values [][]string, col int) error {
	if err := sheet.SetValue(0, col, StatusHeader); err != nil {
		return err
	}
	for row := 1; row < len(values); row++ {
		if !IsTrackableRow(values[row]) {
			continue
		}
		if err := sheet.SetValue(row, col, string(StatusNotModified)); err != nil {
			return err
		}
	}
	return nil
}
