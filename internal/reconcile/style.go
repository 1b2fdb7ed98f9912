package reconcile

import (
	"reflect"
	"strings"

	"github.com/agentworkforce/gridsync/internal/grid"
)

const (
	headerBackground  = "#E8EAED"
	statusColumnWidth = 130
	headerNote        = "Two-way sync status. Editing a row marks it Modified; pushing sends Modified rows to the CRM and marks them Synced or Error."
	noteMarker        = "two-way sync"
)

var statusBackgrounds = map[Status]string{
	StatusNotModified: "#F8F9FA",
	StatusModified:    "#FFF2CC",
	StatusSynced:      "#D9EAD3",
	StatusError:       "#F4CCCC",
}

var statusBorder = grid.Border{Style: "solid", Color: "#BDC1C6"}

// applyStatusFormatting styles the status column at col: header, per-row
// validation and one conditional rule per status. Existing cell notes are
// kept. It produces the same state however many times it runs.
func applyStatusFormatting(sheet grid.Sheet, values [][]string, col int) error {
	header, err := sheet.Format(0, col)
	if err != nil {
		return err
	}
	header.Background = headerBackground
	header.Bold = true
	header.Border = statusBorder
	header.Note = headerNote
	header.Validation = nil
	if err := sheet.SetFormat(0, col, header); err != nil {
		return err
	}
	for row := 1; row < len(values); row++ {
		if !IsTrackableRow(values[row]) {
			continue
		}
		if err := applyRowStatusFormatting(sheet, row, col); err != nil {
			return err
		}
	}
	if err := ensureStatusRules(sheet, col); err != nil {
		return err
	}
	return sheet.SetColumnWidth(col, statusColumnWidth)
}

func applyRowStatusFormatting(sheet grid.Sheet, row, col int) error {
	format, err := sheet.Format(row, col)
	if err != nil {
		return err
	}
	format.Validation = statusValues()
	format.Border = statusBorder
	format.Background = ""
	return sheet.SetFormat(row, col, format)
}

// ensureStatusRules rewrites the rule set so that col carries exactly the
// four status rules, appended after every unrelated rule.
func ensureStatusRules(sheet grid.Sheet, col int) error {
	rules, err := sheet.Rules()
	if err != nil {
		return err
	}
	kept := make([]grid.ConditionalRule, 0, len(rules)+len(allStatuses))
	for _, rule := range rules {
		if rule.Column == col && isStatusValue(rule.Equals) {
			continue
		}
		kept = append(kept, rule)
	}
	for _, status := range allStatuses {
		kept = append(kept, grid.ConditionalRule{Column: col, Equals: string(status), Background: statusBackgrounds[status]})
	}
	if reflect.DeepEqual(kept, rules) {
		return nil
	}
	return sheet.SetRules(kept)
}

func isStatusValidation(allowed []string) bool {
	return len(allowed) > 0 && reflect.DeepEqual(allowed, statusValues())
}

func isStatusBackground(color string) bool {
	if color == "" {
		return false
	}
	if strings.EqualFold(color, headerBackground) {
		return true
	}
	for _, bg := range statusBackgrounds {
		if strings.EqualFold(color, bg) {
			return true
		}
	}
	return false
}

func isStatusNote(note string) bool {
	return strings.Contains(strings.ToLower(note), noteMarker)
}

// hasFingerprint reports whether col still carries anything the status
// column leaves behind.
func hasFingerprint(sheet grid.Sheet, values [][]string, rules []grid.ConditionalRule, col int) (bool, error) {
	for _, rule := range rules {
		if rule.Column == col && isStatusValue(rule.Equals) {
			return true, nil
		}
	}
	rows := len(values)
	if rows == 0 {
		rows = 1
	}
	for row := 0; row < rows; row++ {
		format, err := sheet.Format(row, col)
		if err != nil {
			return false, err
		}
		if isStatusValidation(format.Validation) || isStatusBackground(format.Background) || isStatusNote(format.Note) {
			return true, nil
		}
	}
	return false, nil
}

// stripFingerprint removes status-column formatting from col. With
// duplicate set the column is a stale copy of the status column, so its
// header text and status values go too.
func stripFingerprint(sheet grid.Sheet, values [][]string, col int, duplicate bool) error {
	rows := len(values)
	if rows == 0 {
		rows = 1
	}
	for row := 0; row < rows; row++ {
		format, err := sheet.Format(row, col)
		if err != nil {
			return err
		}
		cleaned := format
		if duplicate || isStatusValidation(cleaned.Validation) {
			cleaned.Validation = nil
		}
		if duplicate || isStatusBackground(cleaned.Background) {
			cleaned.Background = ""
		}
		if duplicate || cleaned.Border == statusBorder {
			cleaned.Border = grid.Border{}
		}
		if row == 0 && (duplicate || isStatusNote(cleaned.Note)) {
			cleaned.Note = ""
			cleaned.Bold = false
		}
		if !reflect.DeepEqual(cleaned, format) {
			if err := sheet.SetFormat(row, col, cleaned); err != nil {
				return err
			}
		}
		if !duplicate {
			continue
		}
		value := grid.Cell(values, row, col)
		if (row == 0 && isStatusHeader(value)) || (row > 0 && isStatusValue(value)) {
			if err := sheet.SetValue(row, col, ""); err != nil {
				return err
			}
		}
	}
	rules, err := sheet.Rules()
	if err != nil {
		return err
	}
	kept := rules[:0:0]
	for _, rule := range rules {
		if rule.Column == col && isStatusValue(rule.Equals) {
			continue
		}
		kept = append(kept, rule)
	}
	if len(kept) == len(rules) {
		return nil
	}
	return sheet.SetRules(kept)
}
