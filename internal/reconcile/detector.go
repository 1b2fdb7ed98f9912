package reconcile

import (
	"strings"

	"github.com/agentworkforce/gridsync/internal/grid"
)

const (
	minFilledCells = 3
	sampledCells   = 5
)

type Detector struct {
	tracker *Tracker
	logger  Logger
}

type EditOutcome struct {
	Row      int    `json:"row"`
	Changed  bool   `json:"changed"`
	Previous Status `json:"previous,omitempty"`
	Current  Status `json:"current,omitempty"`
	Skipped  string `json:"skipped,omitempty"`
}

const (
	skipTrackingDisabled = "tracking disabled"
	skipHeaderRow        = "header row"
	skipNoStatusColumn   = "no status column"
	skipStatusColumn     = "status column"
	skipSparseRow        = "sparse row"
	skipMetadataRow      = "metadata row"
	skipNoRecordID       = "no record id"
)

// HandleEdit flags the edited row as Modified when the edit touched record
// data. It never changes the status of a row that is already Modified.
func (d *Detector) HandleEdit(sheet grid.Sheet, edit grid.Edit) (EditOutcome, error) {
	outcome := EditOutcome{Row: edit.Row}
	if !d.tracker.Enabled(sheet.ID()) {
		outcome.Skipped = skipTrackingDisabled
		return outcome, nil
	}
	if edit.Row <= 0 {
		outcome.Skipped = skipHeaderRow
		return outcome, nil
	}
	values, err := sheet.Values()
	if err != nil {
		return outcome, err
	}
	col := d.tracker.Locate(sheet.ID(), values)
	if col < 0 {
		outcome.Skipped = skipNoStatusColumn
		return outcome, nil
	}
	if edit.Column == col {
		outcome.Skipped = skipStatusColumn
		return outcome, nil
	}
	row := rowAt(values, edit.Row)
	if filledCells(row, col) < minFilledFor(values[0], col) {
		outcome.Skipped = skipSparseRow
		return outcome, nil
	}
	if !IsTrackableRow(row) {
		outcome.Skipped = skipMetadataRow
		return outcome, nil
	}
	if strings.TrimSpace(grid.Cell(values, edit.Row, 0)) == "" {
		outcome.Skipped = skipNoRecordID
		return outcome, nil
	}

	current, _ := ParseStatus(grid.Cell(values, edit.Row, col))
	outcome.Previous = current
	if current == StatusModified {
		outcome.Current = current
		return outcome, nil
	}
	if err := sheet.SetValue(edit.Row, col, string(StatusModified)); err != nil {
		return outcome, err
	}
	if err := applyRowStatusFormatting(sheet, edit.Row, col); err != nil {
		return outcome, err
	}
	if err := ensureStatusRules(sheet, col); err != nil {
		return outcome, err
	}
	outcome.Changed = true
	outcome.Current = StatusModified
	logf(d.logger, "sheet %s: row %d marked modified", sheet.ID(), edit.Row)
	return outcome, nil
}

// filledCells counts non-empty cells among the first few data cells of row,
// skipping the status column.
func filledCells(row []string, statusCol int) int {
	filled, sampled := 0, 0
	for col := 0; col < len(row) && sampled < sampledCells; col++ {
		if col == statusCol {
			continue
		}
		sampled++
		if strings.TrimSpace(row[col]) != "" {
			filled++
		}
	}
	return filled
}

// minFilledFor lowers the threshold for grids that map fewer columns than
// it asks for.
func minFilledFor(header []string, statusCol int) int {
	columns := 0
	for col, value := range header {
		if col != statusCol && strings.TrimSpace(value) != "" {
			columns++
		}
	}
	if columns < minFilledCells {
		return columns
	}
	return minFilledCells
}
