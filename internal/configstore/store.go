package configstore

import (
	"errors"
	"strings"
	"sync"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// Scope separates per-document settings (mappings, hints, flags) from
// per-installation caches such as field definitions.
type Scope string

const (
	ScopeDocument Scope = "document"
	ScopeScript   Scope = "script"
)

// Store is a shared, unlocked key-value store. Concurrent writers get
// last-write-wins semantics.
type Store interface {
	Get(scope Scope, key string) (string, bool, error)
	Set(scope Scope, key, value string) error
	Delete(scope Scope, key string) error
}

type storeCloser interface {
	Close() error
}

// Close releases backend resources when the store holds any.
func Close(store Store) error {
	if closer, ok := store.(storeCloser); ok {
		return closer.Close()
	}
	return nil
}

// GetString returns the stored value or fallback when the key is missing
// or the backend fails.
func GetString(store Store, scope Scope, key, fallback string) string {
	if store == nil {
		return fallback
	}
	value, ok, err := store.Get(scope, key)
	if err != nil || !ok {
		return fallback
	}
	return value
}

func GetBool(store Store, scope Scope, key string) bool {
	switch strings.ToLower(strings.TrimSpace(GetString(store, scope, key, ""))) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

func SetBool(store Store, scope Scope, key string, value bool) error {
	if value {
		return store.Set(scope, key, "true")
	}
	return store.Set(scope, key, "false")
}

type InMemoryStore struct {
	mu     sync.Mutex
	values map[Scope]map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{values: map[Scope]map[string]string{}}
}

func (s *InMemoryStore) Get(scope Scope, key string) (string, bool, error) {
	if err := validateKey(scope, key); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[scope][key]
	return value, ok, nil
}

func (s *InMemoryStore) Set(scope Scope, key, value string) error {
	if err := validateKey(scope, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[scope] == nil {
		s.values[scope] = map[string]string{}
	}
	s.values[scope][key] = value
	return nil
}

func (s *InMemoryStore) Delete(scope Scope, key string) error {
	if err := validateKey(scope, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values[scope], key)
	return nil
}

func validateKey(scope Scope, key string) error {
	if strings.TrimSpace(string(scope)) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	return nil
}
