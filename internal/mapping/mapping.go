// Package mapping holds the ordered column mapping between record field
// paths and grid headers, and persists it per sheet and entity type.
package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentworkforce/gridsync/internal/catalog"
)

var (
	ErrEmptyFieldPath     = errors.New("mapping: empty field path")
	ErrDuplicateFieldPath = errors.New("mapping: duplicate field path")
)

// IDFieldPath is the record id path; the id always occupies column 0.
const IDFieldPath = "id"

type Entry struct {
	FieldPath       string `json:"fieldPath"`
	CanonicalName   string `json:"canonicalName,omitempty"`
	DisplayOverride string `json:"displayOverride,omitempty"`
}

// Label is the header text written to the grid.
func (e Entry) Label() string {
	if label := strings.TrimSpace(e.DisplayOverride); label != "" {
		return label
	}
	if label := strings.TrimSpace(e.CanonicalName); label != "" {
		return label
	}
	return strings.TrimSpace(e.FieldPath)
}

type Mapping []Entry

func (m Mapping) Validate() error {
	seen := make(map[string]struct{}, len(m))
	for i, entry := range m {
		path := strings.TrimSpace(entry.FieldPath)
		if path == "" {
			return fmt.Errorf("%w at position %d", ErrEmptyFieldPath, i)
		}
		if _, ok := seen[path]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateFieldPath, path)
		}
		seen[path] = struct{}{}
	}
	return nil
}

// Effective returns the mapping as laid out in the grid: the id entry first,
// followed by every other entry in order.
func (m Mapping) Effective() Mapping {
	out := make(Mapping, 0, len(m)+1)
	idEntry := Entry{FieldPath: IDFieldPath, CanonicalName: "ID"}
	for _, entry := range m {
		if strings.TrimSpace(entry.FieldPath) == IDFieldPath {
			idEntry = entry
			break
		}
	}
	out = append(out, idEntry)
	for _, entry := range m {
		if strings.TrimSpace(entry.FieldPath) == IDFieldPath {
			continue
		}
		entry.FieldPath = strings.TrimSpace(entry.FieldPath)
		out = append(out, entry)
	}
	return out
}

func (m Mapping) Headers() []string {
	headers := make([]string, len(m))
	for i, entry := range m {
		headers[i] = entry.Label()
	}
	return headers
}

// ResolveHeader maps live header text back to its entry. Display overrides
// win over canonical names, which win over raw field paths; comparison
// ignores case, accents and repeated whitespace.
func (m Mapping) ResolveHeader(header string) (Entry, bool) {
	want := NormalizeHeader(header)
	if want == "" {
		return Entry{}, false
	}
	pick := []func(Entry) string{
		func(e Entry) string { return e.DisplayOverride },
		func(e Entry) string { return e.CanonicalName },
		func(e Entry) string { return e.FieldPath },
	}
	for _, field := range pick {
		for _, entry := range m {
			if candidate := NormalizeHeader(field(entry)); candidate != "" && candidate == want {
				return entry, true
			}
		}
	}
	return Entry{}, false
}

func NormalizeHeader(header string) string {
	return catalog.FoldLabel(header)
}
