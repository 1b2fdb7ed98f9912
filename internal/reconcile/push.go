package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentworkforce/gridsync/internal/catalog"
	"github.com/agentworkforce/gridsync/internal/crm"
	"github.com/agentworkforce/gridsync/internal/fieldpath"
	"github.com/agentworkforce/gridsync/internal/grid"
	"github.com/agentworkforce/gridsync/internal/mapping"
)

// Display-only or read-only paths the API expects in another shape.
var excludedFieldPaths = map[string]struct{}{
	"id":              {},
	"owner_name":      {},
	"org_name":        {},
	"person_name":     {},
	"creator_user_id": {},
	"update_time":     {},
	"add_time":        {},
}

// Relation fields are pulled as the linked object's display name, which the
// API does not accept in place of the id.
var relationRoots = []string{"org_id", "person_id", "user_id", "owner_id", "creator_user_id"}

var relationFieldTypes = map[string]struct{}{
	"org":    {},
	"people": {},
	"user":   {},
}

var entityExcludedPaths = map[string][]string{
	"leads":      {"value"},
	"products":   {"prices"},
	"activities": {"deal_title", "marked_as_done_time"},
}

func isExcludedPath(entityType, path string) bool {
	if _, ok := excludedFieldPaths[path]; ok {
		return true
	}
	for _, root := range relationRoots {
		if path == root || strings.HasPrefix(path, root+".") {
			return true
		}
	}
	for _, excluded := range entityExcludedPaths[crm.NormalizeEntityType(entityType)] {
		if path == excluded {
			return true
		}
	}
	return false
}

type Pusher struct {
	client  crm.Client
	catalog FieldCatalog
	tracker *Tracker
	logger  Logger
}

type PendingUpdate struct {
	RecordID string         `json:"recordId"`
	Row      int            `json:"row"`
	Fields   map[string]any `json:"fields"`
}

type RowResult struct {
	Row      int            `json:"row"`
	RecordID string         `json:"recordId"`
	Status   Status         `json:"status"`
	Error    string         `json:"error,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

type PushReport struct {
	Attempted     int         `json:"attempted"`
	SuccessCount  int         `json:"successCount"`
	ErrorCount    int         `json:"errorCount"`
	NothingToPush bool        `json:"nothingToPush,omitempty"`
	Interrupted   bool        `json:"interrupted,omitempty"`
	Rows          []RowResult `json:"rows,omitempty"`
}

type pushColumn struct {
	index int
	path  fieldpath.Path
	def   catalog.FieldDefinition
	known bool
}

// Push sends every Modified row to the API, one request per row. A failed
// row is marked Error and the loop moves on; a processed row never stays
// Modified. When ctx ends mid-way the remaining rows keep their status.
func (p *Pusher) Push(ctx context.Context, sheet grid.Sheet, entityType string, m mapping.Mapping) (PushReport, error) {
	var report PushReport
	values, err := sheet.Values()
	if err != nil {
		return report, err
	}
	statusCol := p.tracker.Locate(sheet.ID(), values)
	if statusCol < 0 {
		return report, &ConfigurationError{Sheet: sheet.ID(), Reason: "sync status column not found; run a pull or repair first"}
	}

	var pending []PendingUpdate
	for row := 1; row < len(values); row++ {
		if !IsTrackableRow(values[row]) {
			continue
		}
		if status, _ := ParseStatus(grid.Cell(values, row, statusCol)); status == StatusModified {
			pending = append(pending, PendingUpdate{RecordID: strings.TrimSpace(values[row][0]), Row: row})
		}
	}
	if len(pending) == 0 {
		report.NothingToPush = true
		return report, nil
	}

	columns := p.columns(ctx, entityType, values[0], statusCol, m.Effective())
	var inverse catalog.InverseOptionMap
	if p.catalog != nil {
		inverse = p.catalog.InverseOptionMap(ctx, entityType)
	}

	for _, update := range pending {
		if ctx.Err() != nil {
			report.Interrupted = true
			return report, ctx.Err()
		}
		update.Fields = p.buildFields(entityType, values[update.Row], columns, inverse)
		result := RowResult{Row: update.Row, RecordID: update.RecordID, Fields: update.Fields}
		report.Attempted++

		var pushErr error
		if len(update.Fields) == 0 {
			pushErr = errors.New("no mapped values to send")
		} else {
			pushErr = p.client.UpdateRecord(ctx, entityType, update.RecordID, update.Fields)
		}
		if pushErr != nil {
			result.Status = StatusError
			result.Error = pushErr.Error()
			report.ErrorCount++
			logf(p.logger, "push row %d (record %s) failed: %v", update.Row, update.RecordID, pushErr)
		} else {
			result.Status = StatusSynced
			report.SuccessCount++
		}
		if err := p.markRow(sheet, update.Row, statusCol, result); err != nil {
			return report, err
		}
		report.Rows = append(report.Rows, result)
	}
	return report, nil
}

// columns resolves the live header back to field paths. Column 0 (the id)
// and the status column are never sent.
func (p *Pusher) columns(ctx context.Context, entityType string, header []string, statusCol int, m mapping.Mapping) []pushColumn {
	var out []pushColumn
	for col, text := range header {
		if col == 0 || col == statusCol || strings.TrimSpace(text) == "" {
			continue
		}
		entry, ok := m.ResolveHeader(text)
		if !ok {
			logf(p.logger, "push: header %q does not match any mapped column", text)
			continue
		}
		if isExcludedPath(entityType, entry.FieldPath) {
			continue
		}
		column := pushColumn{index: col, path: fieldpath.Parse(entry.FieldPath)}
		if p.catalog != nil {
			column.def, column.known = p.catalog.Field(ctx, entityType, column.path.FieldKey())
		}
		if column.known {
			if _, relation := relationFieldTypes[strings.ToLower(column.def.FieldType)]; relation {
				continue
			}
		}
		out = append(out, column)
	}
	return out
}

func (p *Pusher) buildFields(entityType string, row []string, columns []pushColumn, inverse catalog.InverseOptionMap) map[string]any {
	fields := map[string]any{}
	for _, column := range columns {
		raw := strings.TrimSpace(cellAt(row, column.index))
		if raw == "" {
			continue
		}
		value, err := coerceCell(raw, column.path, column.def, column.known, inverse)
		if err != nil {
			logf(p.logger, "push %s: %v", entityType, err)
		}
		if column.path.IsCustom() {
			custom, ok := fields[fieldpath.CustomFieldsRoot].(map[string]any)
			if !ok {
				custom = map[string]any{}
				fields[fieldpath.CustomFieldsRoot] = custom
			}
			// Sub-fields such as formatted_address are written back as the
			// whole custom field value.
			custom[column.path.FieldKey()] = value
			continue
		}
		if err := fieldpath.Set(fields, column.path, value); err != nil {
			logf(p.logger, "push %s: %v", entityType, err)
		}
	}
	return fields
}

func (p *Pusher) markRow(sheet grid.Sheet, row, statusCol int, result RowResult) error {
	if err := sheet.SetValue(row, statusCol, string(result.Status)); err != nil {
		return err
	}
	format, err := sheet.Format(row, statusCol)
	if err != nil {
		return err
	}
	if result.Status == StatusError {
		format.Note = fmt.Sprintf("Sync failed: %s", result.Error)
	} else {
		format.Note = ""
	}
	return sheet.SetFormat(row, statusCol, format)
}

func cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}
