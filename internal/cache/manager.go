package cache

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eko/gocache/lib/v4/codec"
	"github.com/jon4hz/jellyfetch/internal/config"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Cache key prefixes.
const (
	MovieMetadataPrefix = "movie-metadata-"
	ShowMetadataPrefix  = "show-metadata-"
	ImdbIDPrefix        = "imdb-id-"
	PosterPrefix        = "poster-"
	AnimeShowPrefix     = "anime-show-"
)

type namedCache struct {
	name   string
	stats  func() *codec.Stats
	clear  func(context.Context) error
	memory *gocache.Cache
}

// Manager creates prefixed caches of one backend and runs housekeeping over all of them.
type Manager struct {
	cfg   *config.CacheConfig
	redis *redis.Client

	mu     sync.Mutex
	caches []namedCache
}

// NewManager creates a Manager for the configured backend.
func NewManager(cfg *config.CacheConfig) *Manager {
	if cfg == nil {
		cfg = &config.CacheConfig{Type: config.CacheTypeMemory}
	}
	m := &Manager{cfg: cfg}
	if cfg.Type == config.CacheTypeRedis {
		m.redis = redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
		})
	}
	return m
}

// NewCache creates a prefixed cache registered with m.
func NewCache[T any](m *Manager, name, prefix string, ttl time.Duration) *PrefixedCache[T] {
	nc := namedCache{name: name}

	var pc *PrefixedCache[T]
	switch m.cfg.Type {
	case config.CacheTypeRedis:
		pc = NewPrefixedCache[T](newRedisCache(m.redis), m.cfg.Type, prefix, ttl)
	default:
		// the janitor is disabled, expired entries are evicted by the cleanup job
		client := gocache.New(gocache.NoExpiration, gocache.NoExpiration)
		nc.memory = client
		pc = NewPrefixedCache[T](newMemoryCache(client), config.CacheTypeMemory, prefix, ttl)
	}
	nc.stats = pc.GetStats
	nc.clear = pc.Clear

	m.mu.Lock()
	m.caches = append(m.caches, nc)
	m.mu.Unlock()
	return pc
}

// DeleteExpired evicts expired entries from memory caches. Redis expires keys itself.
func (m *Manager) DeleteExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for _, c := range m.caches {
		if c.memory == nil {
			continue
		}
		before := c.memory.ItemCount()
		c.memory.DeleteExpired()
		evicted += before - c.memory.ItemCount()
	}
	return evicted
}

// ClearAll empties every cache.
func (m *Manager) ClearAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.caches {
		if err := c.clear(ctx); err != nil {
			log.Errorf("failed to clear cache %s: %v", c.name, err)
		}
	}
}

// Stats are the hit and miss counters of one cache.
type Stats struct {
	*codec.Stats
	CacheName string `json:"cacheName"`
}

// GetStats returns the statistics of every cache.
func (m *Manager) GetStats() []*Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Stats, 0, len(m.caches))
	for _, c := range m.caches {
		out = append(out, &Stats{Stats: c.stats(), CacheName: c.name})
	}
	return out
}

// Close releases the redis connection.
func (m *Manager) Close() error {
	if m.redis != nil {
		return m.redis.Close()
	}
	return nil
}
