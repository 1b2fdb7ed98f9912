// Package crm talks to the remote CRM API: paginated record listing, field
// definitions, saved filters and single-record updates.
package crm

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/agentworkforce/gridsync/internal/catalog"
)

var (
	ErrRemoteAPI     = errors.New("remote api error")
	ErrUnknownEntity = errors.New("unknown entity type")
)

// RemoteAPIError covers non-success status codes, error payloads and
// bodies that are not the expected JSON envelope.
type RemoteAPIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteAPIError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("remote api: %s", e.Message)
	case e.Code != "":
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	default:
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
}

func (e *RemoteAPIError) Is(target error) bool {
	return target == ErrRemoteAPI
}

type Record = map[string]any

type Page struct {
	Items     []Record
	HasMore   bool
	NextStart int
}

type Filter struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type Client interface {
	ListRecords(ctx context.Context, entityType, filterID string, start int) (Page, error)
	FieldDefinitions(ctx context.Context, entityType string) ([]catalog.FieldDefinition, error)
	UpdateRecord(ctx context.Context, entityType, recordID string, fields map[string]any) error
	Filters(ctx context.Context) ([]Filter, error)
}

// RecordID renders a record's id the way it appears in the grid.
func RecordID(record Record) string {
	return FormatID(record["id"])
}

func FormatID(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
