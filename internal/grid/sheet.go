// Package grid is the tabular host the reconciliation engine writes to and
// reads edits from. Row 0 is the header row; column 0 holds record ids.
package grid

import (
	"errors"
	"strings"
)

var (
	ErrNotFound     = errors.New("sheet not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrOutOfRange   = errors.New("cell out of range")
)

type Border struct {
	Style string `json:"style,omitempty"`
	Color string `json:"color,omitempty"`
}

func (b Border) IsZero() bool {
	return b.Style == "" && b.Color == ""
}

// Format is everything the engine tracks about a single cell apart from
// its value. A nil Validation means the cell accepts anything.
type Format struct {
	Background string   `json:"background,omitempty"`
	Border     Border   `json:"border,omitempty"`
	Bold       bool     `json:"bold,omitempty"`
	Note       string   `json:"note,omitempty"`
	Validation []string `json:"validation,omitempty"`
}

func (f Format) IsZero() bool {
	return f.Background == "" && f.Border.IsZero() && !f.Bold && f.Note == "" && len(f.Validation) == 0
}

// ConditionalRule colors cells of one column whose value equals Equals.
type ConditionalRule struct {
	Column     int    `json:"column"`
	Equals     string `json:"equals"`
	Background string `json:"background,omitempty"`
	FontColor  string `json:"fontColor,omitempty"`
}

type Edit struct {
	SheetID string `json:"sheetId"`
	Row     int    `json:"row"`
	Column  int    `json:"column"`
}

type Sheet interface {
	ID() string
	// Values returns header and data rows. Rows may be ragged.
	Values() ([][]string, error)
	// Replace destroys every value, format and conditional rule and writes
	// values in their place. Column widths survive.
	Replace(values [][]string) error
	SetValue(row, col int, value string) error
	Format(row, col int) (Format, error)
	SetFormat(row, col int, format Format) error
	Rules() ([]ConditionalRule, error)
	SetRules(rules []ConditionalRule) error
	SetColumnWidth(col, width int) error
}

type Provider interface {
	Open(sheetID string) (Sheet, error)
}

// Cell reads values[row][col], treating missing cells as empty.
func Cell(values [][]string, row, col int) string {
	if row < 0 || row >= len(values) || col < 0 || col >= len(values[row]) {
		return ""
	}
	return values[row][col]
}

// Width is the widest row in values.
func Width(values [][]string) int {
	width := 0
	for _, row := range values {
		if len(row) > width {
			width = len(row)
		}
	}
	return width
}

// ColumnLetter converts a zero-based column index to A1 notation letters.
func ColumnLetter(col int) string {
	if col < 0 {
		return ""
	}
	var letters []byte
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		letters = append([]byte{byte('A' + (n-1)%26)}, letters...)
	}
	return string(letters)
}

// ColumnIndex parses A1 letters back to a zero-based index, -1 if invalid.
func ColumnIndex(letters string) int {
	letters = strings.ToUpper(strings.TrimSpace(letters))
	if letters == "" {
		return -1
	}
	n := 0
	for _, r := range letters {
		if r < 'A' || r > 'Z' {
			return -1
		}
		n = n*26 + int(r-'A'+1)
	}
	return n - 1
}

func validSheetID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}
