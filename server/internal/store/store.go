package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tillu/branchbus/pkg/events"
)

// Departure records a connection that left a branch.
type Departure struct {
	BranchID     string
	UserID       string
	Role         events.Role
	ConnectionID string
	LeftAt       time.Time
}

func key(branchID, userID string) string { return branchID + "\x00" + userID }

// Store is a thread-safe departure log keyed by (branch, user).
// Run evicts entries older than the reconnect window.
type Store struct {
	mu   sync.RWMutex
	data map[string]Departure
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store that remembers departures for ttl.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]Departure),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TTL returns the reconnect window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Put records a departure, replacing an earlier one for the same user.
// Departures without a user id are ignored: they cannot be matched later.
func (s *Store) Put(d Departure) {
	if d.UserID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.LeftAt.IsZero() {
		d.LeftAt = s.now()
	}
	s.data[key(d.BranchID, d.UserID)] = d
}

// Take removes and returns the departure for (branchID, userID) if it is still
// inside the window.
func (s *Store) Take(branchID, userID string) (Departure, bool) {
	if userID == "" {
		return Departure{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(branchID, userID)
	d, ok := s.data[k]
	if !ok {
		return Departure{}, false
	}
	delete(s.data, k)
	if !d.LeftAt.After(s.now().Add(-s.ttl)) {
		return Departure{}, false
	}
	return d, true
}

// Count returns the number of entries held, including expired ones not yet evicted.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes departures older than now minus the window and returns how
// many were removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for k, d := range s.data {
		if !d.LeftAt.After(cutoff) {
			delete(s.data, k)
			removed++
		}
	}
	return removed
}

// Run evicts expired departures every half window (at least once per second)
// until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted departures", "count", n)
			}
		}
	}
}
