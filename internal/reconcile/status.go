// Package reconcile keeps a grid and a CRM entity collection in step: it
// rebuilds the grid from fetched records, tracks per-row sync status in a
// dedicated column, flags edited rows and pushes them back.
package reconcile

import "strings"

type Status string

const (
	StatusNotModified Status = "Not modified"
	StatusModified    Status = "Modified"
	StatusSynced      Status = "Synced"
	StatusError       Status = "Error"
)

// StatusHeader is the header text identifying the status column.
const StatusHeader = "Sync Status"

var allStatuses = []Status{StatusNotModified, StatusModified, StatusSynced, StatusError}

// ParseStatus matches cell text against the four status values, ignoring
// case and surrounding space.
func ParseStatus(value string) (Status, bool) {
	value = strings.TrimSpace(value)
	for _, status := range allStatuses {
		if strings.EqualFold(value, string(status)) {
			return status, true
		}
	}
	return "", false
}

// carriesOver reports whether a pull must restore this status; Not modified
// is the default and is never carried.
func (s Status) carriesOver() bool {
	return s == StatusModified || s == StatusSynced || s == StatusError
}

func statusValues() []string {
	out := make([]string, len(allStatuses))
	for i, status := range allStatuses {
		out[i] = string(status)
	}
	return out
}

func isStatusHeader(value string) bool {
	return strings.EqualFold(strings.TrimSpace(value), StatusHeader)
}

func isStatusValue(value string) bool {
	_, ok := ParseStatus(value)
	return ok
}
