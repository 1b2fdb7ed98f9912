package grid

import (
	"sort"
	"sync"
)

type cellKey struct {
	Row int
	Col int
}

type Memory struct {
	id string

	mu      sync.Mutex
	values  [][]string
	formats map[cellKey]Format
	rules   []ConditionalRule
	widths  map[int]int
}

func NewMemory(id string, values [][]string) *Memory {
	return &Memory{
		id:      id,
		values:  cloneValues(values),
		formats: map[cellKey]Format{},
		widths:  map[int]int{},
	}
}

func (m *Memory) ID() string {
	return m.id
}

func (m *Memory) Values() ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneValues(m.values), nil
}

func (m *Memory) Replace(values [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = cloneValues(values)
	m.formats = map[cellKey]Format{}
	m.rules = nil
	return nil
}

func (m *Memory) SetValue(row, col int, value string) error {
	if row < 0 || col < 0 {
		return ErrOutOfRange
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.values) <= row {
		m.values = append(m.values, nil)
	}
	for len(m.values[row]) <= col {
		m.values[row] = append(m.values[row], "")
	}
	m.values[row][col] = value
	return nil
}

func (m *Memory) Format(row, col int) (Format, error) {
	if row < 0 || col < 0 {
		return Format{}, ErrOutOfRange
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneFormat(m.formats[cellKey{row, col}]), nil
}

func (m *Memory) SetFormat(row, col int, format Format) error {
	if row < 0 || col < 0 {
		return ErrOutOfRange
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if format.IsZero() {
		delete(m.formats, cellKey{row, col})
		return nil
	}
	m.formats[cellKey{row, col}] = cloneFormat(format)
	return nil
}

func (m *Memory) Rules() ([]ConditionalRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ConditionalRule(nil), m.rules...), nil
}

func (m *Memory) SetRules(rules []ConditionalRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append([]ConditionalRule(nil), rules...)
	return nil
}

func (m *Memory) SetColumnWidth(col, width int) error {
	if col < 0 {
		return ErrOutOfRange
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.widths[col] = width
	return nil
}

func (m *Memory) ColumnWidth(col int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.widths[col]
}

// InsertColumn shifts every column at or right of at one to the right,
// carrying formats and rules along the way a spreadsheet would.
func (m *Memory) InsertColumn(at int) {
	m.shiftColumns(at, 1)
}

// DeleteColumn removes column at and shifts the rest left.
func (m *Memory) DeleteColumn(at int) {
	m.shiftColumns(at, -1)
}

func (m *Memory) shiftColumns(at, delta int) {
	if at < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, row := range m.values {
		if at > len(row) || (delta < 0 && at >= len(row)) {
			continue
		}
		if delta > 0 {
			row = append(row[:at], append([]string{""}, row[at:]...)...)
		} else {
			row = append(row[:at], row[at+1:]...)
		}
		m.values[i] = row
	}

	formats := make(map[cellKey]Format, len(m.formats))
	for key, format := range m.formats {
		switch {
		case key.Col < at:
			formats[key] = format
		case delta < 0 && key.Col == at:
		default:
			formats[cellKey{key.Row, key.Col + delta}] = format
		}
	}
	m.formats = formats

	rules := m.rules[:0]
	for _, rule := range m.rules {
		switch {
		case rule.Column < at:
		case delta < 0 && rule.Column == at:
			continue
		default:
			rule.Column += delta
		}
		rules = append(rules, rule)
	}
	m.rules = rules

	widths := make(map[int]int, len(m.widths))
	for col, width := range m.widths {
		switch {
		case col < at:
			widths[col] = width
		case delta < 0 && col == at:
		default:
			widths[col+delta] = width
		}
	}
	m.widths = widths
}

// Snapshot captures the full sheet state in a serializable form.
func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := Snapshot{
		ID:     m.id,
		Values: cloneValues(m.values),
		Rules:  append([]ConditionalRule(nil), m.rules...),
	}
	for key, format := range m.formats {
		snapshot.Formats = append(snapshot.Formats, CellFormat{Row: key.Row, Column: key.Col, Format: cloneFormat(format)})
	}
	sort.Slice(snapshot.Formats, func(i, j int) bool {
		if snapshot.Formats[i].Row != snapshot.Formats[j].Row {
			return snapshot.Formats[i].Row < snapshot.Formats[j].Row
		}
		return snapshot.Formats[i].Column < snapshot.Formats[j].Column
	})
	if len(m.widths) > 0 {
		snapshot.Widths = make(map[int]int, len(m.widths))
		for col, width := range m.widths {
			snapshot.Widths[col] = width
		}
	}
	return snapshot
}

func NewMemoryFromSnapshot(snapshot Snapshot) *Memory {
	m := NewMemory(snapshot.ID, snapshot.Values)
	for _, cell := range snapshot.Formats {
		if cell.Row < 0 || cell.Column < 0 || cell.Format.IsZero() {
			continue
		}
		m.formats[cellKey{cell.Row, cell.Column}] = cloneFormat(cell.Format)
	}
	m.rules = append([]ConditionalRule(nil), snapshot.Rules...)
	for col, width := range snapshot.Widths {
		m.widths[col] = width
	}
	return m
}

func cloneValues(values [][]string) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		out[i] = append([]string(nil), row...)
	}
	return out
}

func cloneFormat(format Format) Format {
	if format.Validation != nil {
		format.Validation = append([]string(nil), format.Validation...)
	}
	return format
}
