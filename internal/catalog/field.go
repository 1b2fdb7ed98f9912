package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// OptionID keeps option identifiers in string form whether the API sent a
// JSON number or a string.
type OptionID string

func (id *OptionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = OptionID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("option id: %w", err)
	}
	*id = OptionID(n.String())
	return nil
}

func (id OptionID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// Value is the representation sent back to the API: an integer when the
// id is numeric, the raw string otherwise.
func (id OptionID) Value() any {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return n
	}
	return string(id)
}

type Option struct {
	ID    OptionID `json:"id"`
	Label string   `json:"label"`
}

type FieldDefinition struct {
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	FieldType    string   `json:"field_type"`
	Options      []Option `json:"options,omitempty"`
	IsMultiValue bool     `json:"is_multi_value,omitempty"`
}

func (d FieldDefinition) normalized() FieldDefinition {
	d.Key = strings.TrimSpace(d.Key)
	d.FieldType = strings.ToLower(strings.TrimSpace(d.FieldType))
	if d.FieldType == "set" {
		d.IsMultiValue = true
	}
	return d
}

func (d FieldDefinition) IsDate() bool {
	switch d.FieldType {
	case "date", "daterange":
		return true
	}
	return false
}

func (d FieldDefinition) IsMultiSelect() bool {
	return d.IsMultiValue || d.FieldType == "set"
}

func (d FieldDefinition) IsEnum() bool {
	switch d.FieldType {
	case "enum", "status", "visible_to":
		return true
	}
	return false
}

func (d FieldDefinition) IsNumeric() bool {
	switch d.FieldType {
	case "double", "int", "monetary":
		return true
	}
	return false
}

// OptionMap is fieldKey -> optionId -> label.
type OptionMap map[string]map[OptionID]string

// InverseOptionMap is fieldKey -> folded label -> optionId.
type InverseOptionMap map[string]map[string]OptionID

func (m OptionMap) Label(fieldKey string, id OptionID) (string, bool) {
	label, ok := m[fieldKey][id]
	return label, ok
}

func (m InverseOptionMap) Lookup(fieldKey, label string) (OptionID, bool) {
	id, ok := m[fieldKey][FoldLabel(label)]
	return id, ok
}

func buildOptionMaps(defs []FieldDefinition) (OptionMap, InverseOptionMap) {
	forward := OptionMap{}
	inverse := InverseOptionMap{}
	for _, def := range defs {
		if len(def.Options) == 0 {
			continue
		}
		labels := make(map[OptionID]string, len(def.Options))
		ids := make(map[string]OptionID, len(def.Options))
		for _, option := range def.Options {
			if option.ID == "" {
				continue
			}
			labels[option.ID] = option.Label
			folded := FoldLabel(option.Label)
			if _, exists := ids[folded]; !exists && folded != "" {
				ids[folded] = option.ID
			}
		}
		forward[def.Key] = labels
		inverse[def.Key] = ids
	}
	return forward, inverse
}

var labelFolder = cases.Fold()

// FoldLabel normalizes an option label for comparison: case folded,
// diacritics stripped and whitespace collapsed.
func FoldLabel(label string) string {
	decomposed := norm.NFD.String(strings.TrimSpace(label))
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(labelFolder.String(b.String())), " ")
}
