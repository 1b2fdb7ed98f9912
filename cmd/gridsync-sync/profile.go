package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/gridsync/internal/configstore"
	"github.com/agentworkforce/gridsync/internal/crm"
	"github.com/agentworkforce/gridsync/internal/mapping"
	"github.com/agentworkforce/gridsync/internal/reconcile"
)

// profile seeds a sheet's settings before the sync loop starts. Fields left
// empty keep whatever the store already holds.
type profile struct {
	Sheet    string          `yaml:"sheet"`
	User     string          `yaml:"user"`
	Entity   string          `yaml:"entity"`
	Filter   string          `yaml:"filter"`
	TwoWay   *bool           `yaml:"twoWay"`
	PageSize int             `yaml:"pageSize"`
	Columns  []profileColumn `yaml:"columns"`
	Routes   crm.RouteTable  `yaml:"routes"`
}

type profileColumn struct {
	Field  string `yaml:"field"`
	Name   string `yaml:"name"`
	Header string `yaml:"header"`
}

func loadProfile(path string) (profile, error) {
	var p profile
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return p, nil
}

func (p profile) mapping() mapping.Mapping {
	if len(p.Columns) == 0 {
		return nil
	}
	out := make(mapping.Mapping, 0, len(p.Columns))
	for _, column := range p.Columns {
		out = append(out, mapping.Entry{
			FieldPath:       strings.TrimSpace(column.Field),
			CanonicalName:   strings.TrimSpace(column.Name),
			DisplayOverride: strings.TrimSpace(column.Header),
		})
	}
	return out
}

// apply writes the profile's sheet settings into store.
func (p profile) apply(store configstore.Store, sheetID string) error {
	if entity := strings.TrimSpace(p.Entity); entity != "" {
		if err := store.Set(configstore.ScopeDocument, configstore.EntityTypeKey(sheetID), crm.NormalizeEntityType(entity)); err != nil {
			return err
		}
	}
	if filter := strings.TrimSpace(p.Filter); filter != "" {
		if err := store.Set(configstore.ScopeDocument, configstore.FilterIDKey(sheetID), filter); err != nil {
			return err
		}
	}
	if p.TwoWay != nil {
		if err := configstore.SetBool(store, configstore.ScopeDocument, configstore.TwoWayEnabledKey(sheetID), *p.TwoWay); err != nil {
			return err
		}
	}
	if m := p.mapping(); m != nil {
		entity := configstore.GetString(store, configstore.ScopeDocument, configstore.EntityTypeKey(sheetID), reconcile.DefaultEntityType)
		if err := mapping.NewStore(store).Save(sheetID, crm.NormalizeEntityType(entity), strings.TrimSpace(p.User), m); err != nil {
			return err
		}
	}
	return nil
}
