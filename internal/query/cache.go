// Package query implements a stale-while-revalidate cache around asynchronous fetchers.
//
// Each key moves through absent -> fresh -> stale -> absent. Fresh data is served
// without calling the fetcher, stale data is served while a single background
// refetch runs, and data past its gc time is dropped so the caller waits for the
// network again. A durable store keeps a JSON snapshot of every entry so a restarted
// process can serve the last known data immediately.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"realty/server/internal/cache"
	"realty/server/internal/clock"
)

var (
	ErrNoFetcher = errors.New("no fetcher registered for key")
)

const (
	defaultGCTime        = 30 * time.Minute
	defaultMinRefetchAge = 30 * time.Second
)

type Options struct {
	StaleTime          time.Duration
	GCTime             time.Duration
	RefetchOnFocus     bool
	RefetchOnReconnect bool
}

// Fetcher loads the current value for one key
type Fetcher[T any] func(ctx context.Context) (T, error)

// Update is emitted whenever new data lands in the cache outside the caller's own fetch
type Update struct {
	Key       string
	Data      interface{}
	UpdatedAt time.Time
}

type entry struct {
	data      interface{}
	updatedAt time.Time
	opts      Options
	refetch   func(ctx context.Context) (interface{}, error)

	// deadlines carried over from a durable snapshot; zero means derive from opts
	staleAt   time.Time
	expiresAt time.Time
}

func (e *entry) stale(now time.Time) bool {
	if !e.staleAt.IsZero() {
		return !now.Before(e.staleAt)
	}
	return !now.Before(e.updatedAt.Add(e.opts.StaleTime))
}

func (e *entry) expired(now time.Time) bool {
	if !e.expiresAt.IsZero() {
		return !now.Before(e.expiresAt)
	}
	return !now.Before(e.updatedAt.Add(e.opts.GCTime))
}

type ClientOptions struct {
	Namespace string
	Defaults  Options

	// MinRefetchAge throttles focus/reconnect refetches of very recent data
	MinRefetchAge time.Duration
	Clock         clock.Clock
}

// Client is the query registry. Create one at startup and pass it to consumers.
type Client struct {
	mu        sync.Mutex
	entries   map[string]*entry
	started   map[string]uint64 // last fetch generation started per key
	applied   map[string]uint64 // generation of the data currently cached per key
	inFlight  map[string]bool
	listeners []func(Update)

	store         cache.DurableStore
	namespace     string
	defaults      Options
	minRefetchAge time.Duration
	clock         clock.Clock
	logger        *logrus.Logger
	background    sync.WaitGroup
}

// NewClient creates a query cache. A nil store disables persistence.
func NewClient(store cache.DurableStore, opts ClientOptions, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if opts.Defaults.GCTime <= 0 {
		opts.Defaults.GCTime = defaultGCTime
	}
	if opts.MinRefetchAge < 0 {
		opts.MinRefetchAge = defaultMinRefetchAge
	}

	return &Client{
		entries:       make(map[string]*entry),
		started:       make(map[string]uint64),
		applied:       make(map[string]uint64),
		inFlight:      make(map[string]bool),
		store:         store,
		namespace:     opts.Namespace,
		defaults:      opts.Defaults,
		minRefetchAge: opts.MinRefetchAge,
		clock:         clock.OrReal(opts.Clock),
		logger:        logger,
	}
}

// Defaults returns the options used when a caller passes a zero gc time
func (c *Client) Defaults() Options {
	return c.defaults
}

func (c *Client) normalize(opts Options) Options {
	if opts.GCTime <= 0 {
		opts.GCTime = c.defaults.GCTime
	}
	if opts.StaleTime < 0 {
		opts.StaleTime = 0
	}
	if opts.GCTime < opts.StaleTime {
		opts.GCTime = opts.StaleTime
	}
	return opts
}

// Fetch returns the cached value for key, fetching it when absent or past gc time.
// Stale data is returned immediately while one background refetch runs.
// Only a failed foreground fetch is returned as an error.
func Fetch[T any](ctx context.Context, c *Client, key string, fetcher Fetcher[T], opts Options) (T, error) {
	opts = c.normalize(opts)
	erased := func(ctx context.Context) (interface{}, error) {
		return fetcher(ctx)
	}

	c.mu.Lock()
	e, ok := lookup[T](c, key, opts)
	if ok {
		e.opts = opts
		e.refetch = erased
		if data, typed := e.data.(T); typed {
			if e.stale(c.clock.Now()) {
				c.startRefetch(ctx, key, e)
			}
			c.mu.Unlock()
			return data, nil
		}
	}
	gen := c.nextGeneration(key)
	c.mu.Unlock()

	data, err := fetcher(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to fetch %s: %w", key, err)
	}

	c.mu.Lock()
	c.apply(key, data, opts, erased, gen)
	c.mu.Unlock()
	return data, nil
}

// GetData returns the cached value without fetching. Expired entries are not served.
func GetData[T any](c *Client, key string) (T, bool) {
	var zero T

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := lookup[T](c, key, c.defaults)
	if !ok {
		return zero, false
	}
	data, typed := e.data.(T)
	if !typed {
		return zero, false
	}
	return data, true
}

// lookup finds a live entry in memory, or promotes a valid durable snapshot.
// Callers hold c.mu.
func lookup[T any](c *Client, key string, opts Options) (*entry, bool) {
	now := c.clock.Now()

	if e, ok := c.entries[key]; ok {
		if !e.expired(now) {
			return e, true
		}
		c.evict(key)
		return nil, false
	}

	if c.store == nil {
		return nil, false
	}
	snapshot, ok, err := cache.ReadEntry(c.store, c.durableKey(key))
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Dropping unreadable query snapshot")
		c.removeDurable(key)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if snapshot.Expired(now) {
		c.removeDurable(key)
		return nil, false
	}

	var data T
	if err := json.Unmarshal(snapshot.Data, &data); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Query snapshot has unexpected shape")
		c.removeDurable(key)
		return nil, false
	}

	// the snapshot keeps the deadlines it was written with
	e := &entry{
		data:      data,
		updatedAt: snapshot.WrittenAt,
		opts:      opts,
		staleAt:   snapshot.StaleAt,
		expiresAt: snapshot.ExpiresAt,
	}
	if !e.expiresAt.IsZero() && e.staleAt.After(e.expiresAt) {
		e.staleAt = e.expiresAt
	}
	c.entries[key] = e
	return e, true
}

// SetData writes data as fresh and notifies subscribers.
// Fetches started before the write can no longer overwrite it.
func (c *Client) SetData(key string, data interface{}, opts Options) {
	opts = c.normalize(opts)

	c.mu.Lock()
	var refetch func(ctx context.Context) (interface{}, error)
	if e, ok := c.entries[key]; ok {
		refetch = e.refetch
	}
	gen := c.nextGeneration(key)
	c.apply(key, data, opts, refetch, gen)
	update := Update{Key: key, Data: data, UpdatedAt: c.entries[key].updatedAt}
	listeners := c.listeners
	c.mu.Unlock()

	c.notify(listeners, update)
}

// Invalidate removes every key equal to or prefixed by prefix from memory and the durable store
func (c *Client) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.evict(key)
		}
	}
	if c.store == nil {
		return
	}
	if err := cache.RemovePrefix(c.store, c.durableKey(prefix)); err != nil {
		c.logger.WithError(err).WithField("prefix", prefix).Warn("Failed to invalidate query snapshots")
	}
}

// Subscribe registers a listener for background updates and SetData writes
func (c *Client) Subscribe(listener func(Update)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// Focus revalidates every opted-in stale key whose data is older than the refetch threshold
func (c *Client) Focus(ctx context.Context) int {
	return c.revalidate(ctx, func(o Options) bool { return o.RefetchOnFocus })
}

// Reconnect is Focus for network reconnect signals
func (c *Client) Reconnect(ctx context.Context) int {
	return c.revalidate(ctx, func(o Options) bool { return o.RefetchOnReconnect })
}

func (c *Client) revalidate(ctx context.Context, optedIn func(Options) bool) int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	triggered := 0
	for key, e := range c.entries {
		if !optedIn(e.opts) || e.refetch == nil {
			continue
		}
		if now.Sub(e.updatedAt) < c.minRefetchAge || !e.stale(now) {
			continue
		}
		if c.startRefetch(ctx, key, e) {
			triggered++
		}
	}
	return triggered
}

// Refetch forces a background refetch of key using its last fetcher
func (c *Client) Refetch(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.refetch == nil {
		return fmt.Errorf("%w: %s", ErrNoFetcher, key)
	}
	c.startRefetch(ctx, key, e)
	return nil
}

// GC drops entries past their gc time from memory and the durable store
func (c *Client) GC() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	if c.store == nil {
		return removed
	}

	keys, err := c.store.Keys(c.namespace)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to list query snapshots")
		return removed
	}
	for _, durableKey := range keys {
		snapshot, ok, err := cache.ReadEntry(c.store, durableKey)
		if err == nil && ok && !snapshot.Expired(now) {
			continue
		}
		if err := c.store.RemoveItem(durableKey); err == nil {
			removed++
		}
	}
	return removed
}

// Wait blocks until all background refetches have finished
func (c *Client) Wait() {
	c.background.Wait()
}

// startRefetch launches one background refetch for key unless one is already running.
// Callers hold c.mu.
func (c *Client) startRefetch(ctx context.Context, key string, e *entry) bool {
	if c.inFlight[key] || e.refetch == nil {
		return false
	}
	c.inFlight[key] = true
	gen := c.nextGeneration(key)
	refetch := e.refetch
	opts := e.opts

	// the caller's request may end before the refetch does
	ctx = context.WithoutCancel(ctx)

	c.background.Add(1)
	go func() {
		defer c.background.Done()

		data, err := refetch(ctx)

		c.mu.Lock()
		delete(c.inFlight, key)
		if err != nil {
			c.mu.Unlock()
			c.logger.WithError(err).WithField("key", key).Warn("Background refetch failed, keeping cached data")
			return
		}
		applied := c.apply(key, data, opts, refetch, gen)
		var update Update
		if applied {
			update = Update{Key: key, Data: data, UpdatedAt: c.entries[key].updatedAt}
		}
		listeners := c.listeners
		c.mu.Unlock()

		if !applied {
			c.logger.WithField("key", key).Debug("Discarding superseded refetch result")
			return
		}
		c.notify(listeners, update)
	}()
	return true
}

// apply stores data unless a newer fetch result is already cached. Callers hold c.mu.
func (c *Client) apply(key string, data interface{}, opts Options, refetch func(ctx context.Context) (interface{}, error), gen uint64) bool {
	if gen <= c.applied[key] {
		return false
	}
	c.applied[key] = gen

	now := c.clock.Now()
	c.entries[key] = &entry{
		data:      data,
		updatedAt: now,
		opts:      opts,
		refetch:   refetch,
	}

	if c.store == nil {
		return true
	}
	payload, err := json.Marshal(data)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Query data is not serializable, keeping it in memory only")
		return true
	}
	snapshot := cache.Entry{
		Data:      payload,
		WrittenAt: now,
		StaleAt:   now.Add(opts.StaleTime),
		ExpiresAt: now.Add(opts.GCTime),
	}
	if err := cache.WriteEntry(c.store, c.namespace, c.durableKey(key), snapshot); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to persist query snapshot")
	}
	return true
}

func (c *Client) nextGeneration(key string) uint64 {
	c.started[key]++
	return c.started[key]
}

// evict drops key from memory and its snapshot. In-flight results for it are discarded.
func (c *Client) evict(key string) {
	delete(c.entries, key)
	c.applied[key] = c.started[key]
	c.removeDurable(key)
}

func (c *Client) durableKey(key string) string {
	return c.namespace + key
}

func (c *Client) removeDurable(key string) {
	if c.store == nil {
		return
	}
	if err := c.store.RemoveItem(c.durableKey(key)); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to remove query snapshot")
	}
}

func (c *Client) notify(listeners []func(Update), update Update) {
	for _, listener := range listeners {
		listener(update)
	}
}
