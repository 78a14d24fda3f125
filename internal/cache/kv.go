package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"realty/server/internal/clock"
)

const defaultTTL = 5 * time.Minute

type Options struct {
	// Namespace prefixes every durable key owned by this cache
	Namespace  string
	DefaultTTL time.Duration
	Clock      clock.Clock
}

// KeyValueCache is a two-tier TTL cache: an in-memory map in front of a durable store.
// The memory tier is authoritative for the process lifetime.
type KeyValueCache struct {
	mu        sync.Mutex
	memory    map[string]Entry
	store     DurableStore
	namespace string
	ttl       time.Duration
	clock     clock.Clock
	logger    *logrus.Logger
}

// NewKeyValueCache creates a cache. A nil store keeps the cache memory-only.
func NewKeyValueCache(store DurableStore, opts Options, logger *logrus.Logger) *KeyValueCache {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = defaultTTL
	}

	return &KeyValueCache{
		memory:    make(map[string]Entry),
		store:     store,
		namespace: opts.Namespace,
		ttl:       opts.DefaultTTL,
		clock:     clock.OrReal(opts.Clock),
		logger:    logger,
	}
}

func (c *KeyValueCache) durableKey(key string) string {
	return c.namespace + key
}

// Get returns the JSON payload stored under key. A durable hit is promoted into memory.
func (c *KeyValueCache) Get(key string) (json.RawMessage, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.memory[key]; ok {
		if !entry.Expired(now) {
			return entry.Data, true
		}
		delete(c.memory, key)
		c.removeDurable(key)
		return nil, false
	}

	if c.store == nil {
		return nil, false
	}

	entry, ok, err := ReadEntry(c.store, c.durableKey(key))
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Dropping unreadable durable cache entry")
		c.removeDurable(key)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if entry.Expired(now) {
		c.removeDurable(key)
		return nil, false
	}

	c.memory[key] = entry
	return entry.Data, true
}

// GetAs decodes the cached value for key into T
func GetAs[T any](c *KeyValueCache, key string) (T, bool) {
	var value T
	data, ok := c.Get(key)
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(data, &value); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cached value has unexpected shape")
		return value, false
	}
	return value, true
}

// Set stores data in both tiers. ttl <= 0 uses the default TTL.
// Durable write failures are logged and the entry stays memory-only.
func (c *KeyValueCache) Set(key string, data interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}

	now := c.clock.Now()
	entry := Entry{
		Data:      payload,
		WrittenAt: now,
		StaleAt:   now.Add(ttl),
		ExpiresAt: now.Add(ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.memory[key] = entry
	if c.store == nil {
		return nil
	}
	if err := WriteEntry(c.store, c.namespace, c.durableKey(key), entry); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Durable cache write failed, keeping entry in memory only")
	}
	return nil
}

// Invalidate removes every key equal to or prefixed by prefix in both tiers
func (c *KeyValueCache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.memory {
		if strings.HasPrefix(key, prefix) {
			delete(c.memory, key)
		}
	}
	if c.store == nil {
		return
	}
	if err := RemovePrefix(c.store, c.durableKey(prefix)); err != nil {
		c.logger.WithError(err).WithField("prefix", prefix).Warn("Failed to invalidate durable cache entries")
	}
}

// Delete removes exactly key from both tiers
func (c *KeyValueCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.memory, key)
	c.removeDurable(key)
}

// InvalidateAll clears both tiers
func (c *KeyValueCache) InvalidateAll() {
	c.Invalidate("")
}

// Purge sweeps expired entries from both tiers and returns how many were removed
func (c *KeyValueCache) Purge() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.memory {
		if entry.Expired(now) {
			delete(c.memory, key)
			removed++
		}
	}
	if c.store == nil {
		return removed
	}

	keys, err := c.store.Keys(c.namespace)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to list durable cache entries")
		return removed
	}
	for _, durableKey := range keys {
		entry, ok, err := ReadEntry(c.store, durableKey)
		if err == nil && ok && !entry.Expired(now) {
			continue
		}
		if err := c.store.RemoveItem(durableKey); err == nil {
			removed++
		}
	}
	return removed
}

// Len returns the number of entries held in memory
func (c *KeyValueCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.memory)
}

func (c *KeyValueCache) removeDurable(key string) {
	if c.store == nil {
		return
	}
	if err := c.store.RemoveItem(c.durableKey(key)); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to remove durable cache entry")
	}
}
