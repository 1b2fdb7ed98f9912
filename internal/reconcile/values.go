package reconcile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/agentworkforce/gridsync/internal/catalog"
	"github.com/agentworkforce/gridsync/internal/fieldpath"
)

// BoolLabels are the words written for boolean values.
type BoolLabels struct {
	Yes string
	No  string
}

var defaultBoolLabels = BoolLabels{Yes: "Yes", No: "No"}

type valueFormatter struct {
	def     catalog.FieldDefinition
	hasDef  bool
	options catalog.OptionMap
	bools   BoolLabels
	path    fieldpath.Path
}

func (f valueFormatter) format(value any) string {
	if value == nil {
		return ""
	}
	if f.isDate() {
		if s, ok := value.(string); ok {
			return s
		}
	}
	switch v := value.(type) {
	case bool:
		if v {
			return f.bools.Yes
		}
		return f.bools.No
	case string:
		return f.formatString(v)
	case float64:
		if label, ok := f.optionLabel(formatNumber(v)); ok {
			return label
		}
		return formatNumber(v)
	case json.Number:
		if label, ok := f.optionLabel(v.String()); ok {
			return label
		}
		return v.String()
	case []any:
		return f.formatList(v)
	case map[string]any:
		return f.formatObject(v)
	default:
		return fmt.Sprint(v)
	}
}

func (f valueFormatter) isDate() bool {
	return (f.hasDef && f.def.IsDate()) || isDateLikePath(f.path)
}

func (f valueFormatter) formatString(s string) string {
	if !f.hasDef || len(f.options[f.def.Key]) == 0 {
		return s
	}
	if f.def.IsMultiSelect() && strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		labels := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if label, ok := f.optionLabel(part); ok {
				labels = append(labels, label)
			} else {
				labels = append(labels, part)
			}
		}
		return strings.Join(labels, ", ")
	}
	if label, ok := f.optionLabel(strings.TrimSpace(s)); ok {
		return label
	}
	return s
}

func (f valueFormatter) formatList(items []any) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		var text string
		if obj, ok := item.(map[string]any); ok {
			if inner, ok := obj["value"]; ok && isScalar(inner) {
				text = f.format(inner)
			} else {
				text = f.formatObject(obj)
			}
		} else {
			text = f.format(item)
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, ", ")
}

func (f valueFormatter) formatObject(obj map[string]any) string {
	if currency, ok := obj["currency"].(string); ok && currency != "" {
		amount, hasAmount := obj["value"]
		if !hasAmount {
			amount, hasAmount = obj["amount"]
		}
		if hasAmount && isScalar(amount) {
			return strings.TrimSpace(scalarText(amount) + " " + currency)
		}
	}
	for _, key := range []string{"id", "value"} {
		if id, ok := obj[key]; ok && isScalar(id) {
			if label, ok := f.optionLabel(scalarText(id)); ok {
				return label
			}
		}
	}
	for _, key := range []string{"label", "name", "value"} {
		if text, ok := obj[key]; ok && isScalar(text) {
			if s := scalarText(text); s != "" {
				return s
			}
		}
	}
	return compactJSON(obj)
}

func (f valueFormatter) optionLabel(id string) (string, bool) {
	if !f.hasDef {
		return "", false
	}
	return f.options.Label(f.def.Key, catalog.OptionID(id))
}

func isScalar(value any) bool {
	switch value.(type) {
	case string, float64, bool, json.Number, int, int64:
		return true
	}
	return false
}

func scalarText(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return formatNumber(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func compactJSON(obj map[string]any) string {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Sprint(obj)
	}
	return string(data)
}

func isDateLikePath(path fieldpath.Path) bool {
	for _, name := range []string{path.Leaf(), path.FieldKey()} {
		name = strings.ToLower(name)
		if name == "" {
			continue
		}
		if strings.Contains(name, "date") || strings.HasSuffix(name, "_time") || name == "time" {
			return true
		}
	}
	return false
}
