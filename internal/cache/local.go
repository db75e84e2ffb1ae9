package cache

import (
	"sync"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
)

// localStore is the in-process (L1) tier: a bounded map with per-entry TTL.
// Expired entries are dropped lazily on read and swept when capacity is hit.
type localStore struct {
	mu         sync.Mutex
	entries    map[string]localEntry
	maxEntries int
	clock      func() time.Time
}

type localEntry struct {
	value      []byte
	expiresAt  time.Time
	insertedAt time.Time
}

func newLocalStore(maxEntries int) *localStore {
	if maxEntries <= 0 {
		maxEntries = defaultL1MaxEntries
	}
	return &localStore{
		entries:    make(map[string]localEntry),
		maxEntries: maxEntries,
		clock:      time.Now,
	}
}

func (s *localStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.clock().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e.value, true
}

func (s *localStore) set(key string, value []byte, ttl time.Duration) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		s.evictLocked(now)
	}
	s.entries[key] = localEntry{
		value:      value,
		expiresAt:  now.Add(ttl),
		insertedAt: now,
	}
}

func (s *localStore) delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return true
}

// deletePattern removes every live entry whose key matches the glob
// ('*' any run, '?' exactly one character) and returns how many were removed.
func (s *localStore) deletePattern(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if wildcard.Match(pattern, key) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *localStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *localStore) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]localEntry)
}

// evictLocked frees one slot: expired entries first, otherwise the oldest
// insertion. Caller holds the lock.
func (s *localStore) evictLocked(now time.Time) {
	var oldestKey string
	var oldestAt time.Time

	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
			return
		}
		if oldestKey == "" || e.insertedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.insertedAt
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}
