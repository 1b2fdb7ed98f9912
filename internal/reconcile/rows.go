package reconcile

import (
	"strings"
	"unicode"
)

var metadataWords = []string{"last", "synced", "updated", "sync", "timestamp"}

// IsTrackableRow is the one rule deciding whether a grid row is record data
// rather than a timestamp line, separator or blank row. The record id is
// always in the first cell.
func IsTrackableRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	first := strings.TrimSpace(row[0])
	if first == "" {
		return false
	}
	lower := strings.ToLower(first)
	for _, word := range metadataWords {
		if strings.Contains(lower, word) {
			return false
		}
	}
	return !onlyPunctuation(first)
}

func onlyPunctuation(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func rowAt(values [][]string, row int) []string {
	if row < 0 || row >= len(values) {
		return nil
	}
	return values[row]
}
