// Package ttlstore holds short lived records in process memory.
//
// Every record carries an expiry. Removal is enforced three ways: a timer
// armed per record, a periodic sweep of the whole table, and a check on
// every read. A record is never returned once its expiry has passed, and an
// expired key cannot be told apart from one that never existed.
//
// Nothing here is durable or shared between processes.
package ttlstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cause is recorded in the log line emitted for every removal.
type Cause string

const (
	CauseExpired    Cause = "expired"
	CauseSweep      Cause = "sweep"
	CauseDeleted    Cause = "deleted"
	CauseSent       Cause = "sent"
	CauseSendFailed Cause = "send_failed"
)

// KeepTTL passed back from an Update func leaves the expiry untouched.
const KeepTTL time.Duration = -1

type entry[V any] struct {
	value     V
	expiresAt time.Time
	timer     Timer
	gen       uint64
}

// Store is a keyed table of values with a per entry lifetime.
type Store[V any] struct {
	name  string
	clock Clock
	log   zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry[V]
	gen     uint64
}

// New creates an empty store. A nil clock means the system clock.
func New[V any](name string, logger zerolog.Logger, clock Clock) *Store[V] {
	if clock == nil {
		clock = SystemClock
	}
	return &Store[V]{
		name:    name,
		clock:   clock,
		log:     logger.With().Str("store", name).Logger(),
		entries: make(map[string]*entry[V]),
	}
}

func (s *Store[V]) Name() string { return s.name }

// Put inserts or overwrites key and returns the computed expiry.
// A sweep runs after every insert.
func (s *Store[V]) Put(key string, value V, ttl time.Duration) time.Time {
	s.mu.Lock()
	if old, ok := s.entries[key]; ok {
		old.timer.Stop()
	}
	e := &entry[V]{value: value}
	s.arm(key, e, ttl)
	s.entries[key] = e
	s.mu.Unlock()

	s.Sweep()
	return e.expiresAt
}

// Get returns the value for key while it is live. An expired entry found
// here is removed.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V

	s.mu.Lock()
	e, ok := s.liveLocked(key)
	s.mu.Unlock()

	if !ok {
		return zero, false
	}
	return e.value, true
}

// ExpiresAt reports the expiry of a live entry.
func (s *Store[V]) ExpiresAt(key string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.liveLocked(key)
	s.mu.Unlock()

	if !ok {
		return time.Time{}, false
	}
	return e.expiresAt, true
}

// Delete removes key and reports whether a live entry was removed.
func (s *Store[V]) Delete(key string) bool {
	_, ok := s.Take(key, CauseDeleted)
	return ok
}

// Take removes key and returns its value if it was still live.
func (s *Store[V]) Take(key string, cause Cause) (V, bool) {
	var zero V

	s.mu.Lock()
	e, ok := s.liveLocked(key)
	if ok {
		s.removeLocked(key, e)
	}
	s.mu.Unlock()

	if !ok {
		return zero, false
	}
	s.logRemoval(key, cause)
	return e.value, true
}

// TakeIf removes key only when its live value satisfies match.
func (s *Store[V]) TakeIf(key string, cause Cause, match func(V) bool) (V, bool) {
	var zero V

	s.mu.Lock()
	e, ok := s.liveLocked(key)
	if ok && match(e.value) {
		s.removeLocked(key, e)
	} else {
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return zero, false
	}
	s.logRemoval(key, cause)
	return e.value, true
}

// Update applies fn to a live entry under the store lock. fn returns the new
// value and a lifetime measured from now, or KeepTTL. fn must not call back
// into the store.
func (s *Store[V]) Update(key string, fn func(V) (V, time.Duration)) (V, time.Time, bool) {
	var zero V

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveLocked(key)
	if !ok {
		return zero, time.Time{}, false
	}

	value, ttl := fn(e.value)
	e.value = value
	if ttl != KeepTTL {
		e.timer.Stop()
		s.arm(key, e, ttl)
	}
	return e.value, e.expiresAt, true
}

// Sweep removes every entry whose expiry has passed and returns the count.
func (s *Store[V]) Sweep() int {
	s.mu.Lock()
	now := s.clock.Now()
	var removed []string
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			s.removeLocked(key, e)
			removed = append(removed, key)
		}
	}
	s.mu.Unlock()

	for _, key := range removed {
		s.logRemoval(key, CauseSweep)
	}
	return len(removed)
}

// Len counts entries still held, expired or not.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Store[V]) Run(ctx context.Context, interval time.Duration) {
	s.runSweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.runSweep()
		}
	}
}

func (s *Store[V]) runSweep() {
	if n := s.Sweep(); n > 0 {
		s.log.Info().Int("removed", n).Msg("sweep complete")
	}
}

// arm sets the expiry and the deferred removal. Caller holds mu.
func (s *Store[V]) arm(key string, e *entry[V], ttl time.Duration) {
	s.gen++
	gen := s.gen
	e.gen = gen
	e.expiresAt = s.clock.Now().Add(ttl)
	e.timer = s.clock.AfterFunc(ttl, func() { s.fire(key, gen) })
}

func (s *Store[V]) fire(key string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[key]
	// a superseded timer finds a newer generation and leaves it alone
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	s.mu.Unlock()

	s.logRemoval(key, CauseExpired)
}

// liveLocked returns the entry for key unless it is missing or expired, in
// which case it is removed. Caller holds mu.
func (s *Store[V]) liveLocked(key string) (*entry[V], bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !s.clock.Now().Before(e.expiresAt) {
		s.removeLocked(key, e)
		s.logRemoval(key, CauseExpired)
		return nil, false
	}
	return e, true
}

func (s *Store[V]) removeLocked(key string, e *entry[V]) {
	e.timer.Stop()
	delete(s.entries, key)
}

func (s *Store[V]) logRemoval(key string, cause Cause) {
	s.log.Info().Str("key", key).Str("cause", string(cause)).Msg("ephemeral entry removed")
}
