// Package catalog caches remote field schemas per entity type and derives
// the option label maps used when formatting and coercing values.
package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/gridsync/internal/configstore"
)

const DefaultTTL = time.Hour

// DefaultRetryBackoff is how long a failed fetch is trusted before the
// catalog asks the remote again.
const DefaultRetryBackoff = time.Minute

type Fetcher interface {
	FieldDefinitions(ctx context.Context, entityType string) ([]FieldDefinition, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	// Store persists the last successful fetch in the script scope so a
	// fresh process can degrade to it.
	Store        configstore.Store
	TTL          time.Duration
	RetryBackoff time.Duration
	Logger       Logger
	Now          func() time.Time
}

type Catalog struct {
	fetcher Fetcher
	store   configstore.Store
	ttl     time.Duration
	backoff time.Duration
	logger  Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	defs      []FieldDefinition
	byKey     map[string]FieldDefinition
	options   OptionMap
	inverse   InverseOptionMap
	fetchedAt time.Time
	// retryAt defers the next fetch after a failure.
	retryAt   time.Time
}

type persistedDefinitions struct {
	FetchedAt   time.Time         `json:"fetchedAt"`
	Definitions []FieldDefinition `json:"definitions"`
}

func New(fetcher Fetcher, opts Options) *Catalog {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	if backoff > ttl {
		backoff = ttl
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Catalog{
		fetcher: fetcher,
		store:   opts.Store,
		ttl:     ttl,
		backoff: backoff,
		logger:  opts.Logger,
		now:     now,
		entries: map[string]cacheEntry{},
	}
}

// Definitions never fails: on fetch errors it serves the last cached or
// persisted schema, and an empty slice when neither exists.
func (c *Catalog) Definitions(ctx context.Context, entityType string, forceRefresh bool) []FieldDefinition {
	return c.entry(ctx, entityType, forceRefresh).defs
}

func (c *Catalog) Field(ctx context.Context, entityType, key string) (FieldDefinition, bool) {
	def, ok := c.entry(ctx, entityType, false).byKey[key]
	return def, ok
}

func (c *Catalog) OptionMap(ctx context.Context, entityType string) OptionMap {
	return c.entry(ctx, entityType, false).options
}

func (c *Catalog) InverseOptionMap(ctx context.Context, entityType string) InverseOptionMap {
	return c.entry(ctx, entityType, false).inverse
}

func (c *Catalog) Invalidate(entityType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, normalizeEntityType(entityType))
}

func (c *Catalog) entry(ctx context.Context, entityType string, forceRefresh bool) cacheEntry {
	entityType = normalizeEntityType(entityType)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cached, hasCached := c.entries[entityType]
	if hasCached && !forceRefresh && (now.Sub(cached.fetchedAt) < c.ttl || now.Before(cached.retryAt)) {
		return cached
	}

	if c.fetcher != nil {
		defs, err := c.fetcher.FieldDefinitions(ctx, entityType)
		if err == nil {
			fresh := newCacheEntry(defs, now)
			c.entries[entityType] = fresh
			c.persist(entityType, fresh)
			return fresh
		}
		c.logf("field definitions fetch for %s failed: %v", entityType, err)
	}

	fallback := cached
	if !hasCached {
		if persisted, ok := c.loadPersisted(entityType); ok {
			fallback = persisted
		} else {
			fallback = newCacheEntry(nil, time.Time{})
		}
	}
	fallback.retryAt = now.Add(c.backoff)
	c.entries[entityType] = fallback
	return fallback
}

func newCacheEntry(defs []FieldDefinition, fetchedAt time.Time) cacheEntry {
	normalized := make([]FieldDefinition, 0, len(defs))
	byKey := make(map[string]FieldDefinition, len(defs))
	for _, def := range defs {
		def = def.normalized()
		if def.Key == "" {
			continue
		}
		normalized = append(normalized, def)
		byKey[def.Key] = def
	}
	options, inverse := buildOptionMaps(normalized)
	return cacheEntry{
		defs:      normalized,
		byKey:     byKey,
		options:   options,
		inverse:   inverse,
		fetchedAt: fetchedAt,
	}
}

func (c *Catalog) persist(entityType string, entry cacheEntry) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(persistedDefinitions{FetchedAt: entry.fetchedAt, Definitions: entry.defs})
	if err != nil {
		return
	}
	if err := c.store.Set(configstore.ScopeScript, configstore.FieldDefinitionsKey(entityType), string(data)); err != nil {
		c.logf("persist field definitions for %s failed: %v", entityType, err)
	}
}

func (c *Catalog) loadPersisted(entityType string) (cacheEntry, bool) {
	if c.store == nil {
		return cacheEntry{}, false
	}
	raw, ok, err := c.store.Get(configstore.ScopeScript, configstore.FieldDefinitionsKey(entityType))
	if err != nil || !ok || strings.TrimSpace(raw) == "" {
		return cacheEntry{}, false
	}
	var snapshot persistedDefinitions
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		c.logf("decode persisted field definitions for %s failed: %v", entityType, err)
		return cacheEntry{}, false
	}
	return newCacheEntry(snapshot.Definitions, snapshot.FetchedAt), true
}

func (c *Catalog) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}

func normalizeEntityType(entityType string) string {
	return strings.ToLower(strings.TrimSpace(entityType))
}
