package reconcile

import (
	"context"
	"strings"

	"github.com/agentworkforce/gridsync/internal/catalog"
	"github.com/agentworkforce/gridsync/internal/configstore"
	"github.com/agentworkforce/gridsync/internal/crm"
	"github.com/agentworkforce/gridsync/internal/fieldpath"
	"github.com/agentworkforce/gridsync/internal/grid"
	"github.com/agentworkforce/gridsync/internal/mapping"
)

// FieldCatalog is the part of catalog.Catalog the engine reads.
type FieldCatalog interface {
	Field(ctx context.Context, entityType, key string) (catalog.FieldDefinition, bool)
	OptionMap(ctx context.Context, entityType string) catalog.OptionMap
	InverseOptionMap(ctx context.Context, entityType string) catalog.InverseOptionMap
}

type Writer struct {
	store   configstore.Store
	catalog FieldCatalog
	tracker *Tracker
	bools   BoolLabels
	logger  Logger
}

type WriteResult struct {
	Rows         int    `json:"rows"`
	Carried      int    `json:"carried"`
	StatusColumn string `json:"statusColumn,omitempty"`
}

type carried struct {
	status Status
	note   string
}

// Write rebuilds sheet from records. Rows are regenerated, not patched, so
// statuses are captured by record id beforehand and restored afterwards.
func (w *Writer) Write(ctx context.Context, sheet grid.Sheet, entityType string, m mapping.Mapping, records []crm.Record) (WriteResult, error) {
	var result WriteResult
	sheetID := sheet.ID()
	tracking := w.tracker.Enabled(sheetID)

	previous, err := sheet.Values()
	if err != nil {
		return result, err
	}
	carry := map[string]carried{}
	if tracking {
		carry, err = w.captureStatuses(sheet, previous)
		if err != nil {
			return result, err
		}
	}

	effective := m.Effective()
	header := effective.Headers()
	statusCol := -1
	if tracking {
		statusCol, err = w.placeStatusColumn(sheetID, previous, len(header))
		if err != nil {
			return result, err
		}
		header = insertAt(header, statusCol, StatusHeader)
	}

	formatters := w.formatters(ctx, entityType, effective)
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, header)
	for _, record := range records {
		row := make([]string, len(effective))
		for i := range effective {
			value, ok := fieldpath.Get(record, formatters[i].path)
			if !ok {
				continue
			}
			row[i] = formatters[i].format(value)
		}
		if tracking {
			status := StatusNotModified
			if prior, ok := carry[crm.RecordID(record)]; ok {
				status = prior.status
				result.Carried++
			}
			row = insertAt(row, statusCol, string(status))
		}
		rows = append(rows, row)
	}

	if err := sheet.Replace(rows); err != nil {
		return result, err
	}
	result.Rows = len(records)

	for col := range header {
		if err := sheet.SetFormat(0, col, grid.Format{Bold: true}); err != nil {
			return result, err
		}
	}
	if !tracking {
		return result, nil
	}
	if err := applyStatusFormatting(sheet, rows, statusCol); err != nil {
		return result, err
	}
	for i, record := range records {
		prior, ok := carry[crm.RecordID(record)]
		if !ok || prior.note == "" {
			continue
		}
		format, err := sheet.Format(i+1, statusCol)
		if err != nil {
			return result, err
		}
		format.Note = prior.note
		if err := sheet.SetFormat(i+1, statusCol, format); err != nil {
			return result, err
		}
	}
	result.StatusColumn = grid.ColumnLetter(statusCol)
	logf(w.logger, "sheet %s: wrote %d rows, restored %d statuses", sheetID, result.Rows, result.Carried)
	return result, nil
}

func (w *Writer) captureStatuses(sheet grid.Sheet, values [][]string) (map[string]carried, error) {
	carry := map[string]carried{}
	col := w.tracker.Locate(sheet.ID(), values)
	if col < 0 {
		return carry, nil
	}
	for row := 1; row < len(values); row++ {
		if !IsTrackableRow(values[row]) {
			continue
		}
		status, ok := ParseStatus(grid.Cell(values, row, col))
		if !ok || !status.carriesOver() {
			continue
		}
		entry := carried{status: status}
		if status == StatusError {
			format, err := sheet.Format(row, col)
			if err != nil {
				return nil, err
			}
			entry.note = format.Note
		}
		carry[strings.TrimSpace(values[row][0])] = entry
	}
	return carry, nil
}

// placeStatusColumn picks where the status column goes in a grid with
// dataColumns mapped columns, persisting the choice as the new hint.
func (w *Writer) placeStatusColumn(sheetID string, previous [][]string, dataColumns int) (int, error) {
	hintKey := configstore.TrackingColumnKey(sheetID)
	forceKey := configstore.ForceEndKey(sheetID)
	hint := configstore.GetString(w.store, configstore.ScopeDocument, hintKey, "")
	forceEnd := configstore.GetBool(w.store, configstore.ScopeDocument, forceKey)

	col := dataColumns
	switch {
	case forceEnd || hint == "":
		if forceEnd {
			if err := w.store.Delete(configstore.ScopeDocument, forceKey); err != nil {
				return -1, err
			}
		}
	default:
		if matches := statusHeaderColumns(rowAt(previous, 0)); len(matches) > 0 {
			col = matches[len(matches)-1]
		} else if idx := grid.ColumnIndex(hint); idx >= 0 {
			col = idx
		}
	}
	if col < 1 {
		col = 1
	}
	if col > dataColumns {
		col = dataColumns
	}

	letter := grid.ColumnLetter(col)
	if hint != "" && hint != letter {
		if err := w.store.Set(configstore.ScopeDocument, configstore.PreviousTrackingColumnKey(sheetID), hint); err != nil {
			return -1, err
		}
	}
	if err := w.store.Set(configstore.ScopeDocument, hintKey, letter); err != nil {
		return -1, err
	}
	return col, nil
}

func (w *Writer) formatters(ctx context.Context, entityType string, effective mapping.Mapping) []valueFormatter {
	bools := w.bools
	if bools.Yes == "" && bools.No == "" {
		bools = defaultBoolLabels
	}
	var options catalog.OptionMap
	if w.catalog != nil {
		options = w.catalog.OptionMap(ctx, entityType)
	}
	out := make([]valueFormatter, len(effective))
	for i, entry := range effective {
		path := fieldpath.Parse(entry.FieldPath)
		f := valueFormatter{path: path, options: options, bools: bools}
		if w.catalog != nil {
			f.def, f.hasDef = w.catalog.Field(ctx, entityType, path.FieldKey())
		}
		out[i] = f
	}
	return out
}

func insertAt(row []string, at int, value string) []string {
	if at >= len(row) {
		for len(row) < at {
			row = append(row, "")
		}
		return append(row, value)
	}
	out := make([]string, 0, len(row)+1)
	out = append(out, row[:at]...)
	out = append(out, value)
	return append(out, row[at:]...)
}
