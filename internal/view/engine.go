package view

import (
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"

	"realty/server/config"
	"realty/server/internal/models"
)

var ErrNotFound = errors.New("property not found in collection")

const (
	defaultItemsPerPage = 12
	emptyMessage        = "No properties match the current filters"
)

// RenderFunc receives the current page after every state change
type RenderFunc func(page Page)

type Options struct {
	ItemsPerPage   int
	SearchDebounce time.Duration
	Render         RenderFunc
}

// Page is the current page plus the metadata a presentation layer needs
type Page struct {
	Items        []models.Property  `json:"items"`
	Cards        []Card             `json:"cards"`
	Page         int                `json:"page"`
	TotalPages   int                `json:"total_pages"`
	TotalItems   int                `json:"total_items"`
	ItemsPerPage int                `json:"items_per_page"`
	Filters      models.FilterTuple `json:"filters"`
	Empty        bool               `json:"empty"`
	EmptyMessage string             `json:"empty_message,omitempty"`
}

// Engine is a filtered, paginated view over one property collection.
// Every method is safe for concurrent use.
type Engine struct {
	mu           sync.Mutex
	all          []models.Property
	filters      models.FilterTuple
	page         int
	itemsPerPage int

	// memoized filtered list, valid while filteredKey matches filters.Key()
	filtered      []models.Property
	filteredKey   string
	filteredValid bool
	computations  int

	cards         map[string]cachedCard
	cardBuilds    int
	lastTimestamp string
	lastLoadedAt  time.Time

	debounce       *time.Timer
	debounceGen    uint64
	searchDebounce time.Duration
	render         RenderFunc
	logger         *logrus.Logger
}

// New creates an engine owning a copy of items
func New(items []models.Property, opts Options, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if opts.ItemsPerPage <= 0 {
		opts.ItemsPerPage = defaultItemsPerPage
	}

	return &Engine{
		all:            cloneAll(items),
		filters:        models.FilterTuple{Building: config.FilterAll, Room: config.FilterAll},
		page:           1,
		itemsPerPage:   opts.ItemsPerPage,
		cards:          make(map[string]cachedCard),
		searchDebounce: opts.SearchDebounce,
		render:         opts.Render,
		logger:         logger,
	}
}

// SetBuildingFilter selects a building-type tag, "all" disables the axis
func (e *Engine) SetBuildingFilter(tag string) {
	e.mutate(func() {
		e.filters.Building = filterValue(tag)
		e.page = 1
	})
}

// SetRoomFilter selects a room type, "all" disables the axis
func (e *Engine) SetRoomFilter(roomType string) {
	e.mutate(func() {
		e.filters.Room = filterValue(roomType)
		e.page = 1
	})
}

// SetSearch applies a search term immediately
func (e *Engine) SetSearch(term string) {
	e.mutate(func() {
		e.stopDebounce()
		e.filters.Search = strings.TrimSpace(term)
		e.page = 1
	})
}

// SetSearchDebounced applies term once no other term arrived for the debounce delay.
// Only the last term of a burst is applied.
func (e *Engine) SetSearchDebounced(term string) {
	e.mu.Lock()
	delay := e.searchDebounce
	if delay <= 0 {
		e.mu.Unlock()
		e.SetSearch(term)
		return
	}
	e.stopDebounce()
	gen := e.debounceGen
	e.debounce = time.AfterFunc(delay, func() {
		e.applyDebounced(gen, term)
	})
	e.mu.Unlock()
}

func (e *Engine) applyDebounced(gen uint64, term string) {
	e.mu.Lock()
	// superseded by a newer term or an immediate change
	if gen != e.debounceGen {
		e.mu.Unlock()
		return
	}
	e.debounce = nil
	e.filters.Search = strings.TrimSpace(term)
	e.page = 1
	e.commit()
}

// SetFilters applies a whole filter tuple at once and reports whether it changed anything.
// An unchanged tuple keeps the memo and the current page.
func (e *Engine) SetFilters(filters models.FilterTuple) bool {
	filters.Building = filterValue(filters.Building)
	filters.Room = filterValue(filters.Room)
	filters.Search = strings.TrimSpace(filters.Search)

	e.mu.Lock()
	if filters == e.filters {
		e.mu.Unlock()
		return false
	}
	e.stopDebounce()
	e.filters = filters
	e.page = 1
	e.commit()
	return true
}

// GoToPage moves to page n. Out of range requests are ignored and return false.
func (e *Engine) GoToPage(n int) bool {
	e.mu.Lock()
	total := e.totalPages()
	if n < 1 || n > total {
		e.mu.Unlock()
		e.logger.WithFields(logrus.Fields{
			"page":        n,
			"total_pages": total,
		}).Debug("Ignoring out of range page request")
		return false
	}
	e.page = n
	page := e.snapshot()
	render := e.render
	e.mu.Unlock()

	if render != nil {
		render(page)
	}
	return true
}

// ReplaceCollection swaps in a new collection. The engine keeps its own copy.
func (e *Engine) ReplaceCollection(items []models.Property) {
	e.mutate(func() {
		e.all = cloneAll(items)
		e.pruneCards()
	})
}

// Ingest applies a collection-loaded event unless its timestamp was already processed
func (e *Engine) Ingest(event models.CollectionLoaded) bool {
	e.mu.Lock()
	if e.seen(event.Timestamp) {
		e.mu.Unlock()
		e.logger.WithField("timestamp", event.Timestamp).Debug("Ignoring duplicate collection event")
		return false
	}
	e.mu.Unlock()

	e.ReplaceCollection(event.Properties)
	return true
}

// seen records ts and reports whether it is a replay. Callers hold e.mu.
func (e *Engine) seen(ts string) bool {
	if ts == "" {
		return false
	}
	if ts == e.lastTimestamp {
		return true
	}
	if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		if !e.lastLoadedAt.IsZero() && !parsed.After(e.lastLoadedAt) {
			return true
		}
		e.lastLoadedAt = parsed
	}
	e.lastTimestamp = ts
	return false
}

// FilteredPage returns the records of the current page
func (e *Engine) FilteredPage() []models.Property {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAll(e.pageItems())
}

// Page returns the current page with cards and pagination metadata
func (e *Engine) Page() Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

// TotalPages is 0 for an empty filtered list
func (e *Engine) TotalPages() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalPages()
}

func (e *Engine) CurrentPage() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page
}

func (e *Engine) Filters() models.FilterTuple {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filters
}

// Filtered returns the whole filtered list in display order
func (e *Engine) Filtered() []models.Property {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAll(e.compute())
}

// Active returns every record that is not sold, in collection order
func (e *Engine) Active() []models.Property {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAll(e.active())
}

// Sold returns the sold partition in collection order
func (e *Engine) Sold() []models.Property {
	e.mu.Lock()
	defer e.mu.Unlock()

	sold := make([]models.Property, 0)
	for i := range e.all {
		if e.all[i].IsSold() {
			sold = append(sold, e.all[i].Clone())
		}
	}
	return sold
}

// Get returns a copy of the record with the given id from either partition
func (e *Engine) Get(id string) (models.Property, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := indexOf(e.all, id); i >= 0 {
		return e.all[i].Clone(), true
	}
	return models.Property{}, false
}

// Len returns the size of the whole collection, both partitions included
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.all)
}

// FilterCounts counts active records per tag. Each axis is counted with the
// other axis and the search term applied, so a count answers "how many would
// I see if I picked this".
func (e *Engine) FilterCounts() models.FilterCounts {
	e.mu.Lock()
	defer e.mu.Unlock()

	counts := models.FilterCounts{
		Building: make(map[string]int),
		Room:     make(map[string]int),
	}
	for _, tag := range config.GetBuildingTags() {
		counts.Building[tag] = 0
	}
	for _, roomType := range config.GetRoomTypes() {
		counts.Room[roomType] = 0
	}

	m := newMatcher(e.filters.Search)
	for _, p := range e.active() {
		if !m.matchesSearch(p) {
			continue
		}
		building := config.CollapseBuildingType(p.BuildingType)
		if matchesRoom(p, e.filters.Room) {
			counts.Building[config.FilterAll]++
			counts.Building[building]++
		}
		if matchesBuilding(p, e.filters.Building) {
			counts.Room[config.FilterAll]++
			if p.Type != "" {
				counts.Room[p.Type]++
			}
		}
	}
	return counts
}

// Close stops a pending debounced search
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopDebounce()
}

// mutate runs change under the lock, drops the memo and renders
func (e *Engine) mutate(change func()) {
	e.mu.Lock()
	change()
	e.commit()
}

// commit finishes a change. Callers hold e.mu; commit releases it before rendering.
func (e *Engine) commit() {
	e.filteredValid = false
	e.clampPage()
	page := e.snapshot()
	render := e.render
	e.mu.Unlock()

	if render != nil {
		render(page)
	}
}

// stopDebounce cancels a pending search, including one whose timer already fired
func (e *Engine) stopDebounce() {
	e.debounceGen++
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
}

// compute returns the memoized filtered list. Callers hold e.mu.
func (e *Engine) compute() []models.Property {
	key := e.filters.Key()
	if e.filteredValid && e.filteredKey == key {
		return e.filtered
	}

	m := newMatcher(e.filters.Search)
	result := make([]models.Property, 0)
	for _, p := range e.active() {
		if !matchesBuilding(p, e.filters.Building) {
			continue
		}
		if !matchesRoom(p, e.filters.Room) {
			continue
		}
		if !m.matchesSearch(p) {
			continue
		}
		result = append(result, p)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].HasStatusBadge() && !result[j].HasStatusBadge()
	})

	e.filtered = result
	e.filteredKey = key
	e.filteredValid = true
	e.computations++
	return result
}

func (e *Engine) active() []models.Property {
	active := make([]models.Property, 0, len(e.all))
	for i := range e.all {
		if !e.all[i].IsSold() {
			active = append(active, e.all[i])
		}
	}
	return active
}

func (e *Engine) totalPages() int {
	n := len(e.compute())
	return (n + e.itemsPerPage - 1) / e.itemsPerPage
}

func (e *Engine) clampPage() {
	total := e.totalPages()
	if e.page > total {
		e.page = total
	}
	if e.page < 1 {
		e.page = 1
	}
}

func (e *Engine) pageItems() []models.Property {
	filtered := e.compute()
	start := (e.page - 1) * e.itemsPerPage
	if start >= len(filtered) {
		return []models.Property{}
	}
	end := start + e.itemsPerPage
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end]
}

func (e *Engine) snapshot() Page {
	items := cloneAll(e.pageItems())
	cards := make([]Card, len(items))
	for i := range items {
		cards[i] = e.cardFor(items[i])
	}

	total := len(e.compute())
	page := Page{
		Items:        items,
		Cards:        cards,
		Page:         e.page,
		TotalPages:   e.totalPages(),
		TotalItems:   total,
		ItemsPerPage: e.itemsPerPage,
		Filters:      e.filters,
		Empty:        total == 0,
	}
	if page.Empty {
		page.EmptyMessage = emptyMessage
	}
	return page
}

type matcher struct {
	term  string
	caser cases.Caser
}

// newMatcher folds the term once. A Caser is not safe for concurrent use, so each
// computation gets its own.
func newMatcher(term string) *matcher {
	caser := cases.Fold()
	return &matcher{term: caser.String(strings.TrimSpace(term)), caser: caser}
}

func (m *matcher) matchesSearch(p models.Property) bool {
	if m.term == "" {
		return true
	}
	for _, field := range []string{p.Title, p.Address, p.Community} {
		if strings.Contains(m.caser.String(field), m.term) {
			return true
		}
	}
	return false
}

func matchesBuilding(p models.Property, tag string) bool {
	if tag == config.FilterAll {
		return true
	}
	return config.CollapseBuildingType(p.BuildingType) == config.CollapseBuildingType(tag)
}

func matchesRoom(p models.Property, roomType string) bool {
	return roomType == config.FilterAll || p.Type == roomType
}

func filterValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return config.FilterAll
	}
	return value
}

func cloneAll(items []models.Property) []models.Property {
	clones := make([]models.Property, len(items))
	for i := range items {
		clones[i] = items[i].Clone()
	}
	return clones
}
