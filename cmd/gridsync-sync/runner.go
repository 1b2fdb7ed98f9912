package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agentworkforce/gridsync/internal/grid"
	"github.com/agentworkforce/gridsync/internal/reconcile"
)

type sheetEngine interface {
	SyncOnce(ctx context.Context, sheet grid.Sheet, user string) (reconcile.SyncReport, error)
	HandleEdit(sheet grid.Sheet, edit grid.Edit) (reconcile.EditOutcome, error)
}

// sheetRunner serializes sync cycles and watched edits on one sheet.
type sheetRunner struct {
	engine  sheetEngine
	sheet   grid.Sheet
	user    string
	timeout time.Duration

	mu sync.Mutex
}

func (r *sheetRunner) sync(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	report, err := r.engine.SyncOnce(ctx, r.sheet, r.user)
	if err != nil {
		log.Printf("grid sync cycle failed: %v", err)
		return
	}
	logSyncReport(report)
}

func (r *sheetRunner) handleEdit(edit grid.Edit) {
	if edit.SheetID != r.sheet.ID() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.engine.HandleEdit(r.sheet, edit); err != nil {
		log.Printf("edit at row %d column %d not tracked: %v", edit.Row, edit.Column, err)
	}
}

func logSyncReport(report reconcile.SyncReport) {
	if report.PushError != "" {
		log.Printf("grid sync cycle skipped push: %s", report.PushError)
	}
	if report.Pull.Partial {
		log.Printf("grid sync cycle pulled %d %s records before a page failed: %s", report.Pull.Records, report.Pull.EntityType, report.Pull.PageError)
		return
	}
	log.Printf("grid sync cycle completed: %d %s records", report.Pull.Records, report.Pull.EntityType)
}
