package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agentworkforce/gridsync/internal/catalog"
	"github.com/agentworkforce/gridsync/internal/configstore"
	"github.com/agentworkforce/gridsync/internal/crm"
	"github.com/agentworkforce/gridsync/internal/grid"
	"github.com/agentworkforce/gridsync/internal/mapping"
)

const DefaultEntityType = "deals"

type EngineOptions struct {
	Store  configstore.Store
	Client crm.Client
	// Catalog defaults to a catalog.Catalog fetching from Client and
	// persisting into Store.
	Catalog    FieldCatalog
	BoolLabels BoolLabels
	Logger     Logger
	Now        func() time.Time
}

// Engine runs pulls, pushes, repairs and edit handling for sheets whose
// settings live in one ConfigStore. It holds no per-sheet state; callers
// serialize operations on the same sheet.
type Engine struct {
	store    configstore.Store
	client   crm.Client
	mappings *mapping.Store
	tracker  *Tracker
	writer   *Writer
	detector *Detector
	pusher   *Pusher
	logger   Logger
	now      func() time.Time
}

type PullReport struct {
	EntityType string       `json:"entityType"`
	Records    int          `json:"records"`
	Pages      int          `json:"pages"`
	Partial    bool         `json:"partial,omitempty"`
	PageError  string       `json:"pageError,omitempty"`
	Write      WriteResult  `json:"write"`
	Repair     RepairReport `json:"repair"`
	LastSync   string       `json:"lastSync,omitempty"`
}

type SyncReport struct {
	Push      *PushReport `json:"push,omitempty"`
	PushError string      `json:"pushError,omitempty"`
	Pull      PullReport  `json:"pull"`
}

// Settings is the persisted per-sheet configuration.
type Settings struct {
	EntityType     string `json:"entityType"`
	FilterID       string `json:"filterId,omitempty"`
	TwoWayEnabled  bool   `json:"twoWayEnabled"`
	TrackingColumn string `json:"trackingColumn,omitempty"`
	LastSync       string `json:"lastSync,omitempty"`
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: config store is required")
	}
	if opts.Client == nil {
		return nil, errors.New("engine: crm client is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	fields := opts.Catalog
	if fields == nil {
		fields = catalog.New(opts.Client, catalog.Options{Store: opts.Store, Logger: opts.Logger, Now: now})
	}
	tracker := NewTracker(opts.Store, opts.Logger)
	return &Engine{
		store:    opts.Store,
		client:   opts.Client,
		mappings: mapping.NewStore(opts.Store),
		tracker:  tracker,
		writer:   &Writer{store: opts.Store, catalog: fields, tracker: tracker, bools: opts.BoolLabels, logger: opts.Logger},
		detector: &Detector{tracker: tracker, logger: opts.Logger},
		pusher:   &Pusher{client: opts.Client, catalog: fields, tracker: tracker, logger: opts.Logger},
		logger:   opts.Logger,
		now:      now,
	}, nil
}

func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

func (e *Engine) Mappings() *mapping.Store {
	return e.mappings
}

func (e *Engine) Settings(sheetID string) Settings {
	get := func(key string) string {
		return configstore.GetString(e.store, configstore.ScopeDocument, key, "")
	}
	return Settings{
		EntityType:     e.EntityType(sheetID),
		FilterID:       get(configstore.FilterIDKey(sheetID)),
		TwoWayEnabled:  e.tracker.Enabled(sheetID),
		TrackingColumn: get(configstore.TrackingColumnKey(sheetID)),
		LastSync:       get(configstore.LastSyncKey(sheetID)),
	}
}

func (e *Engine) EntityType(sheetID string) string {
	entity := configstore.GetString(e.store, configstore.ScopeDocument, configstore.EntityTypeKey(sheetID), "")
	if strings.TrimSpace(entity) == "" {
		return DefaultEntityType
	}
	return crm.NormalizeEntityType(entity)
}

func (e *Engine) loadMapping(sheetID, entityType, user string) (mapping.Mapping, error) {
	m, ok, err := e.mappings.Load(sheetID, entityType, user)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ConfigurationError{Sheet: sheetID, Reason: "no columns selected for " + entityType + "; choose columns in settings"}
	}
	return m, nil
}

// Pull fetches every record matching the sheet's filter and rebuilds the
// grid. A failed page ends the fetch; what was gathered so far is still
// written and the report is marked partial. A failure on the first page
// leaves the grid untouched.
func (e *Engine) Pull(ctx context.Context, sheet grid.Sheet, user string) (PullReport, error) {
	sheetID := sheet.ID()
	entityType := e.EntityType(sheetID)
	report := PullReport{EntityType: entityType}

	filterID := configstore.GetString(e.store, configstore.ScopeDocument, configstore.FilterIDKey(sheetID), "")
	if strings.TrimSpace(filterID) == "" {
		return report, &ConfigurationError{Sheet: sheetID, Reason: "no filter selected; choose a filter in settings"}
	}
	m, err := e.loadMapping(sheetID, entityType, user)
	if err != nil {
		return report, err
	}

	var records []crm.Record
	start := 0
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		page, err := e.client.ListRecords(ctx, entityType, filterID, start)
		if err != nil {
			if report.Pages == 0 {
				return report, err
			}
			report.Partial = true
			report.PageError = err.Error()
			logf(e.logger, "sheet %s: pull stopped after %d pages: %v", sheetID, report.Pages, err)
			break
		}
		report.Pages++
		records = append(records, page.Items...)
		if !page.HasMore || page.NextStart <= start {
			break
		}
		start = page.NextStart
	}
	report.Records = len(records)

	if report.Write, err = e.writer.Write(ctx, sheet, entityType, m, records); err != nil {
		return report, err
	}
	if report.Repair, err = e.tracker.Repair(sheet); err != nil {
		return report, err
	}
	report.LastSync = e.now().UTC().Format(time.RFC3339)
	if err := e.store.Set(configstore.ScopeDocument, configstore.LastSyncKey(sheetID), report.LastSync); err != nil {
		return report, err
	}
	logf(e.logger, "sheet %s: pulled %d %s in %d pages", sheetID, report.Records, entityType, report.Pages)
	return report, nil
}

func (e *Engine) Push(ctx context.Context, sheet grid.Sheet, user string) (PushReport, error) {
	sheetID := sheet.ID()
	entityType := e.EntityType(sheetID)
	m, err := e.loadMapping(sheetID, entityType, user)
	if err != nil {
		return PushReport{}, err
	}
	report, err := e.pusher.Push(ctx, sheet, entityType, m)
	if err == nil && !report.NothingToPush {
		logf(e.logger, "sheet %s: pushed %d rows, %d ok, %d failed", sheetID, report.Attempted, report.SuccessCount, report.ErrorCount)
	}
	return report, err
}

// SyncOnce pushes Modified rows first when two-way sync is on, then pulls,
// so the rebuilt grid carries post-push statuses. A push configuration
// problem does not block the pull.
func (e *Engine) SyncOnce(ctx context.Context, sheet grid.Sheet, user string) (SyncReport, error) {
	var report SyncReport
	if e.tracker.Enabled(sheet.ID()) {
		push, err := e.Push(ctx, sheet, user)
		if err != nil {
			if ctx.Err() != nil || !errors.Is(err, ErrConfiguration) {
				report.Push = &push
				return report, err
			}
			report.PushError = err.Error()
			logf(e.logger, "sheet %s: push skipped: %v", sheet.ID(), err)
		} else {
			report.Push = &push
		}
	}
	pull, err := e.Pull(ctx, sheet, user)
	report.Pull = pull
	return report, err
}

func (e *Engine) Repair(sheet grid.Sheet) (RepairReport, error) {
	return e.tracker.Repair(sheet)
}

func (e *Engine) HandleEdit(sheet grid.Sheet, edit grid.Edit) (EditOutcome, error) {
	return e.detector.HandleEdit(sheet, edit)
}

// SheetSummary is a sheet's settings plus a count of tracked rows per
// status.
type SheetSummary struct {
	Settings
	StatusColumn string         `json:"statusColumn,omitempty"`
	Rows         int            `json:"rows"`
	Counts       map[Status]int `json:"counts,omitempty"`
}

func (e *Engine) Summary(sheet grid.Sheet) (SheetSummary, error) {
	summary := SheetSummary{Settings: e.Settings(sheet.ID())}
	values, err := sheet.Values()
	if err != nil {
		return summary, err
	}
	col := e.tracker.Locate(sheet.ID(), values)
	if col >= 0 {
		summary.StatusColumn = grid.ColumnLetter(col)
		summary.Counts = map[Status]int{}
	}
	for row := 1; row < len(values); row++ {
		if !IsTrackableRow(values[row]) {
			continue
		}
		summary.Rows++
		if col < 0 {
			continue
		}
		if status, ok := ParseStatus(grid.Cell(values, row, col)); ok {
			summary.Counts[status]++
		}
	}
	return summary, nil
}
