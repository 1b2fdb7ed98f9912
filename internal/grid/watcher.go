package grid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Watcher turns external writes to a Directory's sheet files into cell
// edits by diffing each new document against the last one seen.
type Watcher struct {
	dir     *Directory
	watcher *fsnotify.Watcher
	logger  Logger

	mu        sync.Mutex
	baselines map[string]baseline
}

// baseline is the last document seen for a sheet, with the directory's
// write sequence at that moment.
type baseline struct {
	values [][]string
	seq    uint64
}

func NewWatcher(dir *Directory, logger Logger) (*Watcher, error) {
	if dir == nil {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(dir.Root, 0o755); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir.Root); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch sheet directory %s: %w", dir.Root, err)
	}
	w := &Watcher{
		dir:       dir,
		watcher:   fsw,
		logger:    logger,
		baselines: map[string]baseline{},
	}
	w.primeBaselines()
	return w, nil
}

// Run delivers edits to handle until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context, handle func(Edit)) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			for _, edit := range w.process(event.Name) {
				handle(edit)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logf("sheet watcher error: %v", err)
		}
	}
}

func (w *Watcher) primeBaselines() {
	entries, err := os.ReadDir(w.dir.Root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir.Root, entry.Name())
		sheetID, ok := sheetIDFromPath(path)
		if !ok {
			continue
		}
		if snapshot, err := LoadSnapshot(path); err == nil {
			w.baselines[sheetID] = baseline{values: snapshot.Values}
		}
	}
}

func (w *Watcher) process(path string) []Edit {
	sheetID, ok := sheetIDFromPath(path)
	if !ok {
		return nil
	}
	sheet, err := w.dir.fileSheet(sheetID)
	if err != nil {
		return nil
	}
	read, err := w.dir.observe(sheet)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logf("read sheet %s failed: %v", sheetID, err)
		}
		return nil
	}
	if len(bytes.TrimSpace(read.data)) == 0 {
		return nil
	}
	snapshot, err := decodeSnapshot(read.data)
	if err != nil {
		// Editors often write in several steps; the next event carries the
		// complete document.
		w.logf("skip partial sheet %s: %v", sheetID, err)
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	prior := w.baselines[sheetID]
	w.baselines[sheetID] = baseline{values: snapshot.Values, seq: read.seq}
	if read.self {
		return nil
	}
	before := prior.values
	// Writes this watcher never read still happened before the external
	// one; diff against the newest of them.
	if read.seq > prior.seq {
		before = read.written
	}
	edits := DiffValues(before, snapshot.Values)
	for i := range edits {
		edits[i].SheetID = sheetID
	}
	return edits
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}

// DiffValues lists every cell whose value differs between before and after,
// row by row, left to right.
func DiffValues(before, after [][]string) []Edit {
	var edits []Edit
	rows := len(before)
	if len(after) > rows {
		rows = len(after)
	}
	for row := 0; row < rows; row++ {
		cols := 0
		if row < len(before) {
			cols = len(before[row])
		}
		if row < len(after) && len(after[row]) > cols {
			cols = len(after[row])
		}
		for col := 0; col < cols; col++ {
			if Cell(before, row, col) != Cell(after, row, col) {
				edits = append(edits, Edit{Row: row, Column: col})
			}
		}
	}
	return edits
}
