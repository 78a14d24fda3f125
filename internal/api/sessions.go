package api

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"realty/server/internal/clock"
	"realty/server/internal/models"
	"realty/server/internal/view"
)

// SessionHeader carries the id of the caller's view
const SessionHeader = "X-Session-ID"

type session struct {
	engine   *view.Engine
	lastSeen time.Time
}

// SessionManager keeps one view engine per client so filters and the current page
// survive between requests
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*session
	seed     func() []models.Property
	opts     view.Options
	ttl      time.Duration
	clock    clock.Clock
	logger   *logrus.Logger
}

// NewSessionManager creates a manager. New sessions start from seed(), usually the
// loader's current collection. A non-positive ttl keeps sessions forever.
func NewSessionManager(seed func() []models.Property, opts view.Options, ttl time.Duration, clk clock.Clock, logger *logrus.Logger) *SessionManager {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if seed == nil {
		seed = func() []models.Property { return nil }
	}
	return &SessionManager{
		sessions: make(map[string]*session),
		seed:     seed,
		opts:     opts,
		ttl:      ttl,
		clock:    clock.OrReal(clk),
		logger:   logger,
	}
}

// Acquire returns the engine for id, creating a session when id is empty, malformed
// or unknown. The returned id is the one the client must send next time.
func (m *SessionManager) Acquire(id string) (string, *view.Engine) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := uuid.Parse(id); err == nil {
		if s, ok := m.sessions[id]; ok {
			s.lastSeen = now
			return id, s.engine
		}
	}

	id = uuid.NewString()
	s := &session{
		engine:   view.New(m.seed(), m.opts, m.logger),
		lastSeen: now,
	}
	m.sessions[id] = s
	m.logger.WithField("session_id", id).Debug("Created view session")
	return id, s.engine
}

// Broadcast hands a loaded collection to every session. It is registered as a queue subscriber.
func (m *SessionManager) Broadcast(event models.CollectionLoaded) error {
	for _, engine := range m.engines() {
		engine.Ingest(event)
	}
	return nil
}

// EvictCard drops the rendered card of one record from every session
func (m *SessionManager) EvictCard(id string) {
	for _, engine := range m.engines() {
		engine.EvictCard(id)
	}
}

// Sweep drops sessions idle for longer than the ttl and returns how many went
func (m *SessionManager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed, cards := 0, 0
	for id, s := range m.sessions {
		if now.Sub(s.lastSeen) >= m.ttl {
			cards += s.engine.CardBuilds()
			s.engine.Close()
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.WithFields(logrus.Fields{
			"removed":     removed,
			"remaining":   len(m.sessions),
			"cards_built": cards,
		}).Info("Swept idle view sessions")
	}
	return removed
}

func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops every session
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.engine.Close()
		delete(m.sessions, id)
	}
}

// engines snapshots the engines in a stable order so Ingest runs outside the lock
func (m *SessionManager) engines() []*view.Engine {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	engines := make([]*view.Engine, 0, len(ids))
	for _, id := range ids {
		engines = append(engines, m.sessions[id].engine)
	}
	return engines
}
