package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"realty/server/internal/cache"
	"realty/server/internal/clock"
	"realty/server/internal/models"
	"realty/server/internal/query"
	"realty/server/internal/remote"
)

const (
	// ActiveListingsKey is the query key of the published collection
	ActiveListingsKey = "properties:active"

	// DetailKeyPrefix prefixes single-record entries in the key-value cache
	DetailKeyPrefix = "property:"
)

// Publisher receives one event per completed load
type Publisher interface {
	Push(event models.CollectionLoaded) error
}

// Fallback supplies listings when the remote store fails
type Fallback func(ctx context.Context) ([]models.Property, error)

type Options struct {
	Table string

	// MinInterval short-circuits loads requested right after a completed one
	MinInterval time.Duration
	Query       query.Options
	Fallback    Fallback
	Clock       clock.Clock
}

// Loader is the single entry point for reading and writing listings in the remote store
type Loader struct {
	store     remote.Store
	queries   *query.Client
	details   *cache.KeyValueCache
	publisher Publisher
	opts      Options
	clock     clock.Clock
	logger    *logrus.Logger

	mu            sync.Mutex
	loading       bool
	lastLoad      time.Time
	lastPublished time.Time
	published     uint64
	current       []models.Property
}

// NewLoader wires the loader to the query cache. Background refreshes of the
// active collection are republished as new events. details may be nil.
func NewLoader(store remote.Store, queries *query.Client, details *cache.KeyValueCache, publisher Publisher, opts Options, logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if opts.Table == "" {
		opts.Table = "properties"
	}

	l := &Loader{
		store:     store,
		queries:   queries,
		details:   details,
		publisher: publisher,
		opts:      opts,
		clock:     clock.OrReal(opts.Clock),
		logger:    logger,
		current:   []models.Property{},
	}
	queries.Subscribe(l.onUpdate)
	return l
}

// LoadActiveListings fetches the published collection and publishes it.
// It always publishes, falling back to the mirror or an empty collection; the
// returned error only reports that the remote store failed. While a load is
// running, or right after one finished, it returns the current collection.
func (l *Loader) LoadActiveListings(ctx context.Context) ([]models.Property, error) {
	now := l.clock.Now()

	l.mu.Lock()
	if l.loading || (!l.lastLoad.IsZero() && now.Sub(l.lastLoad) < l.opts.MinInterval) {
		current := l.current
		l.mu.Unlock()
		l.logger.Debug("Load already running or just finished, serving current collection")
		return current, nil
	}
	l.loading = true
	since := l.published
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.loading = false
		l.lastLoad = l.clock.Now()
		l.mu.Unlock()
	}()

	properties, err := query.Fetch(ctx, l.queries, ActiveListingsKey, l.fetchActive, l.opts.Query)
	if err != nil {
		l.logger.WithError(err).Error("Failed to load active listings")
		properties = l.fallback(ctx)
		err = fmt.Errorf("failed to load active listings: %w", err)
	}

	if !l.emit(properties, &since) {
		// a background refresh already published newer data
		return l.Current(), err
	}
	return properties, err
}

// Reload drops the cached collection and loads it again, ignoring the min interval
func (l *Loader) Reload(ctx context.Context) ([]models.Property, error) {
	l.queries.Invalidate(ActiveListingsKey)
	l.mu.Lock()
	l.lastLoad = time.Time{}
	l.mu.Unlock()
	return l.LoadActiveListings(ctx)
}

// Refetch revalidates the cached collection in the background. The result is
// published like any other load. It fails when nothing was loaded yet.
func (l *Loader) Refetch(ctx context.Context) error {
	if err := l.queries.Refetch(ctx, ActiveListingsKey); err != nil {
		return fmt.Errorf("failed to refetch active listings: %w", err)
	}
	return nil
}

// Current returns the most recently published collection
func (l *Loader) Current() []models.Property {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *Loader) fetchActive(ctx context.Context) ([]models.Property, error) {
	rows, err := l.store.Select(ctx, remote.Query{
		Table:   l.opts.Table,
		Eq:      map[string]interface{}{"isPublished": true},
		OrderBy: "createdAt",
		Desc:    true,
	})
	if err != nil {
		return nil, err
	}

	properties, skipped := NormalizeRows(rows)
	if skipped > 0 {
		l.logger.WithField("skipped", skipped).Warn("Skipped malformed listing rows")
	}
	return properties, nil
}

func (l *Loader) fallback(ctx context.Context) []models.Property {
	if l.opts.Fallback == nil {
		return []models.Property{}
	}
	properties, err := l.opts.Fallback(ctx)
	if err != nil {
		l.logger.WithError(err).Warn("Fallback listing source failed, publishing empty collection")
		return []models.Property{}
	}
	l.logger.WithField("count", len(properties)).Info("Serving listings from fallback source")
	return properties
}

func (l *Loader) onUpdate(update query.Update) {
	if update.Key != ActiveListingsKey {
		return
	}
	properties, ok := update.Data.([]models.Property)
	if !ok {
		l.logger.WithField("key", update.Key).Warn("Ignoring update with unexpected data type")
		return
	}
	l.emit(properties, nil)
}

// emit publishes one event unless since is set and another event went out after it.
// Timestamps strictly increase so consumers can drop replays.
func (l *Loader) emit(properties []models.Property, since *uint64) bool {
	if properties == nil {
		properties = []models.Property{}
	}

	// detail entries may describe records that changed or vanished
	if l.details != nil {
		l.details.Invalidate(DetailKeyPrefix)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if since != nil && *since != l.published {
		return false
	}
	l.published++
	ts := l.clock.Now().UTC()
	if !ts.After(l.lastPublished) {
		ts = l.lastPublished.Add(time.Nanosecond)
	}
	l.lastPublished = ts
	l.current = properties

	event := models.CollectionLoaded{
		Properties: properties,
		Count:      len(properties),
		Timestamp:  ts.Format(time.RFC3339Nano),
	}
	if l.publisher == nil {
		return true
	}
	// Push never blocks, holding the lock keeps events in timestamp order
	if err := l.publisher.Push(event); err != nil {
		l.logger.WithError(err).WithField("count", event.Count).Warn("Failed to publish collection event")
		return true
	}
	l.logger.WithFields(logrus.Fields{
		"count":     event.Count,
		"timestamp": event.Timestamp,
	}).Info("Loaded active listings")
	return true
}

// GetProperty returns one record, served from the key-value cache when possible
func (l *Loader) GetProperty(ctx context.Context, id string) (models.Property, error) {
	key := DetailKeyPrefix + id
	if l.details != nil {
		if cached, ok := cache.GetAs[models.Property](l.details, key); ok {
			return cached, nil
		}
	}

	rows, err := l.store.Select(ctx, remote.Query{
		Table: l.opts.Table,
		Eq:    map[string]interface{}{"id": id},
		Limit: 1,
	})
	if err != nil {
		return models.Property{}, fmt.Errorf("failed to get property %s: %w", id, err)
	}
	properties, _ := NormalizeRows(rows)
	if len(properties) == 0 {
		return models.Property{}, fmt.Errorf("property %s: %w", id, remote.ErrNotFound)
	}

	property := properties[0]
	if l.details != nil {
		if err := l.details.Set(key, property, 0); err != nil {
			l.logger.WithError(err).WithField("id", id).Warn("Failed to cache property")
		}
	}
	return property, nil
}

// SetPublished toggles the published flag in the remote store
func (l *Loader) SetPublished(ctx context.Context, id string, published bool) error {
	_, err := l.store.Update(ctx, l.opts.Table, id, map[string]interface{}{
		"isPublished": published,
		"updatedAt":   l.clock.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to set published on property %s: %w", id, err)
	}
	l.forget(id)
	return nil
}

// DeleteProperty removes a record from the remote store
func (l *Loader) DeleteProperty(ctx context.Context, id string) error {
	if err := l.store.Delete(ctx, l.opts.Table, id); err != nil {
		return fmt.Errorf("failed to delete property %s: %w", id, err)
	}
	l.forget(id)
	return nil
}

// CreateProperty inserts a record and returns it normalized
func (l *Loader) CreateProperty(ctx context.Context, record models.RawProperty) (models.Property, error) {
	row, err := l.store.Insert(ctx, l.opts.Table, record)
	if err != nil {
		return models.Property{}, fmt.Errorf("failed to create property: %w", err)
	}
	var raw models.RawProperty
	if err := json.Unmarshal(row, &raw); err != nil {
		return models.Property{}, fmt.Errorf("failed to parse created property: %w", err)
	}
	l.queries.Invalidate(ActiveListingsKey)
	return Normalize(raw), nil
}

func (l *Loader) forget(id string) {
	if l.details != nil {
		l.details.Delete(DetailKeyPrefix + id)
	}
	l.queries.Invalidate(ActiveListingsKey)
}
