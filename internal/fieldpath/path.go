// Package fieldpath reads and writes values inside decoded CRM records
// using dotted path expressions such as "org_id.name", "emails.0.value" or
// "custom_fields.<key>.formatted_address".
package fieldpath

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// CustomFieldsRoot is the container holding per-account custom fields.
const CustomFieldsRoot = "custom_fields"

// SegmentKind tags one element of a parsed path.
type SegmentKind int

const (
	Static SegmentKind = iota
	Index
	DynamicKey
)

func (k SegmentKind) String() string {
	switch k {
	case Static:
		return "static"
	case Index:
		return "index"
	case DynamicKey:
		return "dynamic"
	default:
		return "unknown"
	}
}

type Segment struct {
	Kind  SegmentKind
	Name  string
	Index int
}

type Path struct {
	Raw      string
	Segments []Segment
	// Container is true when the dynamic key sits under CustomFieldsRoot
	// rather than at the top level of the record.
	Container bool
}

var customFieldKeyRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// IsCustomFieldKey reports whether key has the shape of a generated
// custom-field key.
func IsCustomFieldKey(key string) bool {
	return customFieldKeyRe.MatchString(key)
}

func Parse(raw string) Path {
	raw = strings.TrimSpace(raw)
	path := Path{Raw: raw}
	if raw == "" {
		return path
	}
	parts := strings.Split(raw, ".")
	for i := 0; i < len(parts); i++ {
		part := strings.TrimSpace(parts[i])
		if part == "" {
			continue
		}
		if i == 0 && part == CustomFieldsRoot && i+1 < len(parts) {
			path.Container = true
			i++
			path.Segments = append(path.Segments, Segment{Kind: DynamicKey, Name: strings.TrimSpace(parts[i])})
			continue
		}
		if i == 0 && IsCustomFieldKey(part) {
			path.Segments = append(path.Segments, Segment{Kind: DynamicKey, Name: part})
			continue
		}
		if n, err := strconv.Atoi(part); err == nil && n >= 0 && i > 0 {
			path.Segments = append(path.Segments, Segment{Kind: Index, Index: n})
			continue
		}
		path.Segments = append(path.Segments, Segment{Kind: Static, Name: part})
	}
	return path
}

func (p Path) String() string {
	return p.Raw
}

func (p Path) IsZero() bool {
	return len(p.Segments) == 0
}

// IsCustom reports whether the path addresses a custom field.
func (p Path) IsCustom() bool {
	return len(p.Segments) > 0 && p.Segments[0].Kind == DynamicKey
}

// FieldKey is the key used to look the field up in the field catalog: the
// dynamic key for custom fields, the first segment otherwise.
func (p Path) FieldKey() string {
	if len(p.Segments) == 0 {
		return ""
	}
	return p.Segments[0].Name
}

// Nested reports whether the path goes below its field key.
func (p Path) Nested() bool {
	return len(p.Segments) > 1
}

// Leaf returns the last named segment, or the field key when the path ends
// in an index.
func (p Path) Leaf() string {
	for i := len(p.Segments) - 1; i >= 0; i-- {
		if p.Segments[i].Kind != Index {
			return p.Segments[i].Name
		}
	}
	return ""
}

// Get resolves path against record. It never panics; anything that cannot
// be resolved yields (nil, false).
func Get(record map[string]any, path Path) (any, bool) {
	if record == nil || path.IsZero() {
		return nil, false
	}
	first := path.Segments[0]
	var current any
	var ok bool
	if first.Kind == DynamicKey {
		current, ok = lookupCustomField(record, first.Name)
	} else {
		current, ok = record[first.Name]
	}
	if !ok {
		return nil, false
	}
	for _, segment := range path.Segments[1:] {
		current, ok = step(current, segment)
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

func GetString(record map[string]any, raw string) (any, bool) {
	return Get(record, Parse(raw))
}

func lookupCustomField(record map[string]any, key string) (any, bool) {
	if container, ok := record[CustomFieldsRoot].(map[string]any); ok {
		if value, ok := container[key]; ok {
			return value, true
		}
	}
	value, ok := record[key]
	return value, ok
}

func step(current any, segment Segment) (any, bool) {
	switch typed := current.(type) {
	case map[string]any:
		if segment.Kind == Index {
			value, ok := typed[strconv.Itoa(segment.Index)]
			return value, ok
		}
		value, ok := typed[segment.Name]
		return value, ok
	case []any:
		if segment.Kind != Index || segment.Index >= len(typed) {
			return nil, false
		}
		return typed[segment.Index], true
	default:
		return nil, false
	}
}

// Set writes value at path, creating intermediate maps and slices. Custom
// fields addressed through the container are written under
// CustomFieldsRoot; flat custom-field keys stay at the top level.
func Set(record map[string]any, path Path, value any) error {
	if record == nil {
		return fmt.Errorf("fieldpath: nil record")
	}
	if path.IsZero() {
		return fmt.Errorf("fieldpath: empty path")
	}
	target := record
	if path.Container {
		container, ok := record[CustomFieldsRoot].(map[string]any)
		if !ok {
			container = map[string]any{}
			record[CustomFieldsRoot] = container
		}
		target = container
	}
	updated, err := setIn(target, path.Segments, value, path.Raw)
	if err != nil {
		return err
	}
	if _, ok := updated.(map[string]any); !ok {
		return fmt.Errorf("fieldpath: %s does not address a map", path.Raw)
	}
	return nil
}

func setIn(current any, segments []Segment, value any, raw string) (any, error) {
	if len(segments) == 0 {
		return value, nil
	}
	segment := segments[0]
	if segment.Kind == Index {
		list, _ := current.([]any)
		for len(list) <= segment.Index {
			list = append(list, nil)
		}
		child, err := setIn(list[segment.Index], segments[1:], value, raw)
		if err != nil {
			return nil, err
		}
		list[segment.Index] = child
		return list, nil
	}
	object, ok := current.(map[string]any)
	if !ok {
		if current != nil {
			return nil, fmt.Errorf("fieldpath: %s crosses a non-object value at %q", raw, segment.Name)
		}
		object = map[string]any{}
	}
	child, err := setIn(object[segment.Name], segments[1:], value, raw)
	if err != nil {
		return nil, err
	}
	object[segment.Name] = child
	return object, nil
}
