package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	cachekey "github.com/always-cache/transcache/pkg/cache-key"
)

// DefaultMaxEntries bounds a MemoryCache created without an entry limit.
const DefaultMaxEntries = 10_000

const memoryStore = "memory"

type memoryItem struct {
	entry  *Entry
	weight int
}

// MemoryCache is an in-process LRU store bounded by entry count and by the
// total weight of keys and entries.
type MemoryCache struct {
	// mu guards weight, which the eviction callback updates
	mu        sync.Mutex
	lru       *lru.Cache[string, memoryItem]
	weight    int
	maxWeight int
	log       zerolog.Logger
}

// NewMemoryCache creates an LRU store. A zero maxWeight means no weight limit.
// If logger is nil, the global logger is used.
func NewMemoryCache(maxEntries, maxWeight int, logger *zerolog.Logger) (*MemoryCache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	m := &MemoryCache{
		maxWeight: maxWeight,
		log:       storeLogger(logger, memoryStore),
	}
	c, err := lru.NewWithEvict[string, memoryItem](maxEntries, m.onEvict)
	if err != nil {
		return nil, err
	}
	m.lru = c
	return m, nil
}

// onEvict is called by the LRU with m.mu held.
func (m *MemoryCache) onEvict(_ string, item memoryItem) {
	m.weight -= item.weight
}

func (m *MemoryCache) Get(ctx context.Context, key cachekey.CacheKey) (*Entry, bool) {
	k := key.String()
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lru.Get(k)
	if !ok {
		StoreLookups.WithLabelValues(memoryStore, "miss").Inc()
		return nil, false
	}
	if item.entry.Expired(time.Now()) {
		m.lru.Remove(k)
		StoreLookups.WithLabelValues(memoryStore, "expired").Inc()
		return nil, false
	}
	StoreLookups.WithLabelValues(memoryStore, "hit").Inc()
	return item.entry, true
}

func (m *MemoryCache) Put(ctx context.Context, key cachekey.CacheKey, entry *Entry) {
	k := key.String()
	item := memoryItem{entry: entry, weight: key.Weight() + entry.Weight()}
	if m.maxWeight > 0 && item.weight > m.maxWeight {
		m.log.Debug().Str("key", k).Int("weight", item.weight).Msg("Entry exceeds cache weight, not storing")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// replacing a value does not trigger the eviction callback
	if old, ok := m.lru.Peek(k); ok {
		m.weight -= old.weight
	}
	if m.lru.Add(k, item) {
		StoreEvictions.WithLabelValues(memoryStore).Inc()
	}
	m.weight += item.weight
	for m.maxWeight > 0 && m.weight > m.maxWeight {
		if _, _, ok := m.lru.RemoveOldest(); !ok {
			break
		}
		StoreEvictions.WithLabelValues(memoryStore).Inc()
	}
}

func (m *MemoryCache) Invalidate(ctx context.Context, key cachekey.CacheKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(key.String())
}

func (m *MemoryCache) InvalidateAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Purge()
	m.weight = 0
}

// Len returns the number of stored entries.
func (m *MemoryCache) Len() int {
	return m.lru.Len()
}

// Weight returns the total weight of stored keys and entries.
func (m *MemoryCache) Weight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.weight
}

func storeLogger(logger *zerolog.Logger, store string) zerolog.Logger {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return l.With().Str("store", store).Logger()
}
