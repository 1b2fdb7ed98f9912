package grid

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type CellFormat struct {
	Row    int    `json:"row"`
	Column int    `json:"column"`
	Format Format `json:"format"`
}

type Snapshot struct {
	ID      string            `json:"id"`
	Values  [][]string        `json:"values"`
	Formats []CellFormat      `json:"formats,omitempty"`
	Rules   []ConditionalRule `json:"rules,omitempty"`
	Widths  map[int]int       `json:"widths,omitempty"`
}

func LoadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, err
	}
	return decodeSnapshot(data)
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	var snapshot Snapshot
	if len(strings.TrimSpace(string(data))) == 0 {
		return snapshot, nil
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode sheet: %w", err)
	}
	return snapshot, nil
}

// FileSheet keeps a sheet as a JSON document so that people and tools can
// edit it outside the engine. Every call re-reads the file.
type FileSheet struct {
	id   string
	path string
	// onWrite is told the hash and values of each document this sheet
	// writes so that watchers can skip their own echoes.
	onWrite func(path, sum string, values [][]string)

	mu sync.Mutex
}

func NewFileSheet(id, path string) *FileSheet {
	return &FileSheet{id: id, path: path}
}

func (f *FileSheet) ID() string {
	return f.id
}

func (f *FileSheet) Path() string {
	return f.path
}

func (f *FileSheet) Values() ([][]string, error) {
	var values [][]string
	err := f.view(func(m *Memory) error {
		values, _ = m.Values()
		return nil
	})
	return values, err
}

func (f *FileSheet) Replace(values [][]string) error {
	return f.update(func(m *Memory) error { return m.Replace(values) })
}

func (f *FileSheet) SetValue(row, col int, value string) error {
	return f.update(func(m *Memory) error { return m.SetValue(row, col, value) })
}

func (f *FileSheet) Format(row, col int) (Format, error) {
	var format Format
	err := f.view(func(m *Memory) error {
		var err error
		format, err = m.Format(row, col)
		return err
	})
	return format, err
}

func (f *FileSheet) SetFormat(row, col int, format Format) error {
	return f.update(func(m *Memory) error { return m.SetFormat(row, col, format) })
}

func (f *FileSheet) Rules() ([]ConditionalRule, error) {
	var rules []ConditionalRule
	err := f.view(func(m *Memory) error {
		rules, _ = m.Rules()
		return nil
	})
	return rules, err
}

func (f *FileSheet) SetRules(rules []ConditionalRule) error {
	return f.update(func(m *Memory) error { return m.SetRules(rules) })
}

func (f *FileSheet) SetColumnWidth(col, width int) error {
	return f.update(func(m *Memory) error { return m.SetColumnWidth(col, width) })
}

func (f *FileSheet) view(fn func(*Memory) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	return fn(m)
}

func (f *FileSheet) update(fn func(*Memory) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return f.save(m)
}

func (f *FileSheet) load() (*Memory, error) {
	snapshot, err := LoadSnapshot(f.path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewMemory(f.id, nil), nil
		}
		return nil, err
	}
	snapshot.ID = f.id
	return NewMemoryFromSnapshot(snapshot), nil
}

func (f *FileSheet) save(m *Memory) error {
	snapshot := m.Snapshot()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	if err := writeFileAtomic(f.path, data, 0o644); err != nil {
		return err
	}
	if f.onWrite != nil {
		f.onWrite(f.path, hashBytes(data), snapshot.Values)
	}
	return nil
}

// recentWrites bounds how many of its own documents a Directory remembers
// per file.
const recentWrites = 32

// Directory serves one FileSheet per <root>/<sheetID>.json.
type Directory struct {
	Root string

	mu         sync.Mutex
	sheets     map[string]*FileSheet
	selfWrites map[string]*writeLog
}

// writeLog remembers what a Directory last wrote to one file.
type writeLog struct {
	sums   []string
	values [][]string
	seq    uint64
}

func NewDirectory(root string) *Directory {
	return &Directory{
		Root:       root,
		sheets:     map[string]*FileSheet{},
		selfWrites: map[string]*writeLog{},
	}
}

func (d *Directory) Open(sheetID string) (Sheet, error) {
	return d.fileSheet(sheetID)
}

func (d *Directory) fileSheet(sheetID string) (*FileSheet, error) {
	if !validSheetID(sheetID) {
		return nil, ErrInvalidInput
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sheet, ok := d.sheets[sheetID]; ok {
		return sheet, nil
	}
	sheet := NewFileSheet(sheetID, d.pathFor(sheetID))
	sheet.onWrite = d.noteWrite
	d.sheets[sheetID] = sheet
	return sheet, nil
}

func (d *Directory) pathFor(sheetID string) string {
	return filepath.Join(d.Root, sheetID+".json")
}

func (d *Directory) noteWrite(path, sum string, values [][]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	path = filepath.Clean(path)
	entry, ok := d.selfWrites[path]
	if !ok {
		entry = &writeLog{}
		d.selfWrites[path] = entry
	}
	entry.sums = append(entry.sums, sum)
	if len(entry.sums) > recentWrites {
		entry.sums = append([]string(nil), entry.sums[len(entry.sums)-recentWrites:]...)
	}
	entry.values = values
	entry.seq++
}

// lastWrite returns the values of the newest document this directory wrote
// to path and a sequence number that grows with every write.
func (d *Directory) lastWrite(path string) ([][]string, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.selfWrites[filepath.Clean(path)]
	if !ok {
		return nil, 0
	}
	return entry.values, entry.seq
}

// wroteRecently reports whether sum matches one of the last documents this
// directory wrote to path.
func (d *Directory) wroteRecently(path, sum string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.selfWrites[filepath.Clean(path)]
	if !ok {
		return false
	}
	for _, written := range entry.sums {
		if written == sum {
			return true
		}
	}
	return false
}

// observed is one read of a sheet file together with what the directory
// itself had written to it at that moment.
type observed struct {
	data    []byte
	self    bool
	written [][]string
	seq     uint64
}

// observe reads sheet's file while no write through it is in progress.
func (d *Directory) observe(sheet *FileSheet) (observed, error) {
	sheet.mu.Lock()
	defer sheet.mu.Unlock()
	data, err := os.ReadFile(sheet.path)
	if err != nil {
		return observed{}, err
	}
	written, seq := d.lastWrite(sheet.path)
	return observed{
		data:    data,
		self:    d.wroteRecently(sheet.path, hashBytes(data)),
		written: written,
		seq:     seq,
	}, nil
}

func sheetIDFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ".json") {
		return "", false
	}
	id := strings.TrimSuffix(base, ".json")
	return id, validSheetID(id)
}

// MemoryProvider hands out in-memory sheets, creating them on first use.
type MemoryProvider struct {
	mu     sync.Mutex
	sheets map[string]*Memory
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{sheets: map[string]*Memory{}}
}

func (p *MemoryProvider) Open(sheetID string) (Sheet, error) {
	return p.Memory(sheetID)
}

func (p *MemoryProvider) Memory(sheetID string) (*Memory, error) {
	if !validSheetID(sheetID) {
		return nil, ErrInvalidInput
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if sheet, ok := p.sheets[sheetID]; ok {
		return sheet, nil
	}
	sheet := NewMemory(sheetID, nil)
	p.sheets[sheetID] = sheet
	return sheet, nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
