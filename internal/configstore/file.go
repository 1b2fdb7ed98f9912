package configstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// JSONFileStore re-reads the file on every call so separate processes
// sharing one file observe each other's writes.
type JSONFileStore struct {
	Path string
	mu   sync.Mutex
}

type fileStoreSnapshot struct {
	Values map[Scope]map[string]string `json:"values"`
}

func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{Path: strings.TrimSpace(path)}
}

func (s *JSONFileStore) Get(scope Scope, key string) (string, bool, error) {
	if err := validateKey(scope, key); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.loadLocked()
	if err != nil {
		return "", false, err
	}
	value, ok := snapshot.Values[scope][key]
	return value, ok, nil
}

func (s *JSONFileStore) Set(scope Scope, key, value string) error {
	if err := validateKey(scope, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.loadLocked()
	if err != nil {
		return err
	}
	if snapshot.Values[scope] == nil {
		snapshot.Values[scope] = map[string]string{}
	}
	snapshot.Values[scope][key] = value
	return s.saveLocked(snapshot)
}

func (s *JSONFileStore) Delete(scope Scope, key string) error {
	if err := validateKey(scope, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := snapshot.Values[scope][key]; !ok {
		return nil
	}
	delete(snapshot.Values[scope], key)
	return s.saveLocked(snapshot)
}

func (s *JSONFileStore) loadLocked() (fileStoreSnapshot, error) {
	snapshot := fileStoreSnapshot{Values: map[Scope]map[string]string{}}
	if strings.TrimSpace(s.Path) == "" {
		return snapshot, ErrInvalidInput
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snapshot, nil
		}
		return snapshot, err
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return snapshot, err
	}
	if snapshot.Values == nil {
		snapshot.Values = map[Scope]map[string]string{}
	}
	return snapshot, nil
}

func (s *JSONFileStore) saveLocked(snapshot fileStoreSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}
