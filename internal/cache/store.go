package cache

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrQuotaExceeded = errors.New("durable store quota exceeded")
)

// DurableStore is the string key/value fallback tier shared by both caches.
// Values are JSON envelopes written under a namespaced key prefix.
type DurableStore interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
	Keys(prefix string) ([]string, error)
}

// Entry is the serialized envelope kept in the durable tier
type Entry struct {
	Data      json.RawMessage `json:"data"`
	WrittenAt time.Time       `json:"writtenAt"`
	StaleAt   time.Time       `json:"staleAt,omitempty"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Expired reports whether the entry must no longer be served
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stale reports whether the entry is past its freshness window
func (e Entry) Stale(now time.Time) bool {
	return !now.Before(e.StaleAt)
}

func decodeEntry(raw string) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// ReadEntry loads and decodes one envelope. A missing key returns ok=false.
func ReadEntry(store DurableStore, key string) (Entry, bool, error) {
	raw, ok, err := store.GetItem(key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// WriteEntry stores an envelope. On ErrQuotaExceeded it evicts the single entry
// under prefix that expires first and retries once.
func WriteEntry(store DurableStore, prefix, key string, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	err = store.SetItem(key, string(payload))
	if !errors.Is(err, ErrQuotaExceeded) {
		return err
	}

	victim, found := oldestKey(store, prefix, key)
	if !found {
		return err
	}
	if err := store.RemoveItem(victim); err != nil {
		return err
	}
	return store.SetItem(key, string(payload))
}

func oldestKey(store DurableStore, prefix, exclude string) (string, bool) {
	keys, err := store.Keys(prefix)
	if err != nil {
		return "", false
	}

	var victim string
	var victimExpiry time.Time
	for _, key := range keys {
		if key == exclude {
			continue
		}
		entry, ok, err := ReadEntry(store, key)
		if err != nil {
			// unreadable envelopes go first
			return key, true
		}
		if !ok {
			continue
		}
		if victim == "" || entry.ExpiresAt.Before(victimExpiry) {
			victim = key
			victimExpiry = entry.ExpiresAt
		}
	}
	return victim, victim != ""
}

// RemovePrefix deletes every key equal to or starting with prefix
func RemovePrefix(store DurableStore, prefix string) error {
	keys, err := store.Keys(prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := store.RemoveItem(key); err != nil {
			return err
		}
	}
	return nil
}

// MemoryStore is an in-memory DurableStore with an optional byte quota.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	items      map[string]string
	quotaBytes int
}

// NewMemoryStore creates a store; quotaBytes <= 0 means unlimited
func NewMemoryStore(quotaBytes int) *MemoryStore {
	return &MemoryStore{
		items:      make(map[string]string),
		quotaBytes: quotaBytes,
	}
}

func (s *MemoryStore) GetItem(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.items[key]
	return value, ok, nil
}

func (s *MemoryStore) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quotaBytes > 0 {
		used := 0
		for k, v := range s.items {
			if k != key {
				used += len(k) + len(v)
			}
		}
		if used+len(key)+len(value) > s.quotaBytes {
			return ErrQuotaExceeded
		}
	}
	s.items[key] = value
	return nil
}

func (s *MemoryStore) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored items
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
