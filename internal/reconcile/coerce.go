package reconcile

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/gridsync/internal/catalog"
	"github.com/agentworkforce/gridsync/internal/fieldpath"
)

const isoDate = "2006-01-02"

var dateLayouts = []string{
	isoDate,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02.01.2006",
	"2.1.2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"Mon Jan 2 2006",
	"Mon, 02 Jan 2006",
}

// Date.toString style values, e.g. "Tue Mar 05 2024 00:00:00 GMT+0100 (CET)".
var longDatePrefix = regexp.MustCompile(`^([A-Za-z]{3} [A-Za-z]{3} \d{1,2} \d{4})\b`)

// serialEpoch is day zero of spreadsheet serial dates.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

var (
	errUnrecognizedDate = errors.New("unrecognized date")
	errNotANumber       = errors.New("not a number")
)

// NormalizeDate converts the date forms people type or paste into a grid
// to YYYY-MM-DD.
func NormalizeDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errUnrecognizedDate
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(isoDate), nil
		}
	}
	if m := longDatePrefix.FindStringSubmatch(raw); m != nil {
		if t, err := time.Parse("Mon Jan 2 2006", m[1]); err == nil {
			return t.Format(isoDate), nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 0 && serial < 2958466 {
		days := math.Floor(serial)
		return serialEpoch.AddDate(0, 0, int(days)).Format(isoDate), nil
	}
	return "", errUnrecognizedDate
}

// coerceCell turns a grid cell back into the value the API expects for the
// field. On failure it returns the raw text alongside a *CoercionError.
func coerceCell(raw string, path fieldpath.Path, def catalog.FieldDefinition, hasDef bool, inverse catalog.InverseOptionMap) (any, error) {
	switch {
	case (hasDef && def.IsDate()) || (!hasDef && isDateLikePath(path)):
		date, err := NormalizeDate(raw)
		if err != nil {
			return raw, &CoercionError{FieldPath: path.Raw, Value: raw, Kind: "date", Err: err}
		}
		return date, nil
	case hasDef && def.IsMultiSelect():
		labels := splitMultiValue(raw)
		out := make([]any, 0, len(labels))
		for _, label := range labels {
			out = append(out, resolveOption(def.Key, label, inverse))
		}
		return out, nil
	case hasDef && def.IsEnum() && len(def.Options) > 0:
		return resolveOption(def.Key, raw, inverse), nil
	case hasDef && def.IsNumeric():
		n, err := parseNumber(raw)
		if err != nil {
			return raw, &CoercionError{FieldPath: path.Raw, Value: raw, Kind: def.FieldType, Err: err}
		}
		return n, nil
	default:
		return raw, nil
	}
}

// resolveOption maps a label to its option id, then tries the text as a
// numeric id, and finally keeps the label itself.
func resolveOption(fieldKey, label string, inverse catalog.InverseOptionMap) any {
	label = strings.TrimSpace(label)
	if id, ok := inverse.Lookup(fieldKey, label); ok {
		return id.Value()
	}
	if n, err := strconv.ParseInt(label, 10, 64); err == nil {
		return n
	}
	return label
}

// splitMultiValue accepts "a, b", "a; b", a JSON array or a single value.
func splitMultiValue(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		var items []any
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			out := make([]string, 0, len(items))
			for _, item := range items {
				if s := strings.TrimSpace(scalarText(item)); s != "" {
					out = append(out, s)
				}
			}
			return out
		}
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseNumber(raw string) (any, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if strings.Count(cleaned, ",") > 0 && strings.Contains(cleaned, ".") {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}
	if n, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil, errNotANumber
	}
	return f, nil
}
