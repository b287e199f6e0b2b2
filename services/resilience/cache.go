// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// CacheEventType labels cache observer callbacks.
type CacheEventType string

const (
	CacheHit   CacheEventType = "hit"
	CacheMiss  CacheEventType = "miss"
	CacheEvict CacheEventType = "evict"
)

// CacheEventFunc observes cache activity. Callbacks run outside the
// cache lock and must not call back into the cache.
type CacheEventFunc func(event CacheEventType, key string)

// CacheStats is a point-in-time snapshot for status endpoints.
type CacheStats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// ResponseCache stores validated upstream responses keyed by
// content-addressed request hashes.
type ResponseCache interface {
	// Get returns the cached value and true on a live entry. Expired
	// entries are treated as absent.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Put stores value under key for ttl. A ttl <= 0 uses the cache's
	// default.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Stats reports current occupancy and counters.
	Stats() CacheStats
}

// CacheKey derives a deterministic content-addressed key from an
// operation name and a request payload.
//
// The payload is round-tripped through encoding/json so that map key
// order never influences the digest, and every string value is
// lowercased and whitespace-trimmed so semantically identical requests
// ("Nuts" vs " nuts ") collapse to one key. The result is the operation
// name prefixed onto a SHA-256 hex digest.
func CacheKey(operation string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("cache key marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("cache key canonicalize: %w", err)
	}
	canonical, err := json.Marshal(normalizeValue(generic))
	if err != nil {
		return "", fmt.Errorf("cache key remarshal: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return operation + ":" + hex.EncodeToString(sum[:]), nil
}

// normalizeValue lowercases and trims every string in a decoded JSON
// tree. Map keys stay untouched; encoding/json already emits them in
// sorted order.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(t))
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeValue(t[k])
		}
		return t
	default:
		return v
	}
}

// === In-memory implementation ===

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
	hitCount  int64
}

// MemoryCacheConfig controls the in-memory cache.
type MemoryCacheConfig struct {
	// MaxEntries bounds occupancy; the least recently used live entry is
	// evicted when full. Default: 1024.
	MaxEntries int

	// DefaultTTL applies when Put is called with ttl <= 0.
	// Default: 5m.
	DefaultTTL time.Duration

	// OnEvent, when set, observes hits, misses and evictions.
	OnEvent CacheEventFunc
}

// MemoryCache is an LRU + TTL cache backed by a map and an intrusive
// list. Expiry is lazy: an expired entry is discovered and evicted on
// the Get that touches it, or displaced by LRU pressure.
//
// Thread Safety: all methods are safe for concurrent use. Observer
// callbacks fire after the lock is released.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	maxEntries int
	defaultTTL time.Duration
	onEvent    CacheEventFunc

	hits      int64
	misses    int64
	evictions int64

	now func() time.Time
}

// NewMemoryCache creates an in-memory ResponseCache.
func NewMemoryCache(cfg MemoryCacheConfig) *MemoryCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	initMetrics()
	return &MemoryCache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: cfg.MaxEntries,
		defaultTTL: cfg.DefaultTTL,
		onEvent:    cfg.OnEvent,
		now:        time.Now,
	}
}

// Get implements ResponseCache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		c.notify(CacheMiss, key)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		c.evictions++
		c.mu.Unlock()
		c.notify(CacheEvict, key)
		c.notify(CacheMiss, key)
		return nil, false
	}

	entry.hitCount++
	c.hits++
	c.order.MoveToFront(elem)
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	c.mu.Unlock()

	c.notify(CacheHit, key)
	return value, true
}

// Put implements ResponseCache.
func (c *MemoryCache) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = stored
		entry.expiresAt = c.now().Add(ttl)
		c.order.MoveToFront(elem)
		c.mu.Unlock()
		return nil
	}

	var evicted string
	if c.order.Len() >= c.maxEntries {
		if oldest := c.order.Back(); oldest != nil {
			evicted = oldest.Value.(*cacheEntry).key
			c.removeLocked(oldest)
			c.evictions++
		}
	}
	elem := c.order.PushFront(&cacheEntry{
		key:       key,
		value:     stored,
		expiresAt: c.now().Add(ttl),
	})
	c.entries[key] = elem
	c.mu.Unlock()

	if evicted != "" {
		c.notify(CacheEvict, evicted)
	}
	return nil
}

// Stats implements ResponseCache.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Entries:   c.order.Len(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *MemoryCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(elem)
}

func (c *MemoryCache) notify(event CacheEventType, key string) {
	record(cacheEventsTotal, attribute.String("event", string(event)))
	if c.onEvent != nil {
		c.onEvent(event, key)
	}
}
