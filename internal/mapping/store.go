package mapping

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentworkforce/gridsync/internal/configstore"
)

type Store struct {
	backend configstore.Store
}

func NewStore(backend configstore.Store) *Store {
	return &Store{backend: backend}
}

// Load returns the user's own mapping when one is saved, otherwise the
// shared mapping for the sheet and entity type. The boolean is false when
// neither exists.
func (s *Store) Load(sheetID, entityType, user string) (Mapping, bool, error) {
	keys := []string{configstore.ColumnsKey(sheetID, entityType, "")}
	if strings.TrimSpace(user) != "" {
		keys = append([]string{configstore.ColumnsKey(sheetID, entityType, user)}, keys...)
	}
	for _, key := range keys {
		raw, ok, err := s.backend.Get(configstore.ScopeDocument, key)
		if err != nil {
			return nil, false, err
		}
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		var m Mapping
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, false, fmt.Errorf("decode column mapping %s: %w", key, err)
		}
		if len(m) == 0 {
			continue
		}
		return m, true, nil
	}
	return nil, false, nil
}

func (s *Store) Save(sheetID, entityType, user string, m Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.backend.Set(configstore.ScopeDocument, configstore.ColumnsKey(sheetID, entityType, user), string(data))
}

func (s *Store) Delete(sheetID, entityType, user string) error {
	return s.backend.Delete(configstore.ScopeDocument, configstore.ColumnsKey(sheetID, entityType, user))
}
