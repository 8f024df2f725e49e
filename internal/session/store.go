package session

import (
	"context"
	"sync"
	"time"

	"character_wiki/internal/logger"
	"character_wiki/internal/metrics"
	"character_wiki/internal/pager"

	"github.com/google/uuid"
)

type entry struct {
	acc      *pager.Accumulator
	lastSeen time.Time
}

// Store keeps one accumulator per browsing session. Sessions idle for longer
// than the TTL are dropped by Sweep.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewStore creates an empty store.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Get returns the accumulator of a live session and refreshes its deadline.
func (s *Store) Get(id string) (*pager.Accumulator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if s.expired(e, s.now()) {
		s.drop(id, e)
		return nil, false
	}
	e.lastSeen = s.now()
	return e.acc, true
}

// Create registers acc under a new session id.
func (s *Store) Create(acc *pager.Accumulator) string {
	id := uuid.NewString()

	s.mu.Lock()
	s.sessions[id] = &entry{acc: acc, lastSeen: s.now()}
	s.mu.Unlock()

	metrics.ActiveSessions.Inc()
	return id
}

// Delete drops a session and cancels its in-flight fetch.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		s.drop(id, e)
	}
}

// Len returns the number of held sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops every session idle past the TTL and returns how many it dropped.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, e := range s.sessions {
		if s.expired(e, now) {
			s.drop(id, e)
			n++
		}
	}
	return n
}

// Run sweeps on every tick until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	log := logger.Log.WithFields(map[string]interface{}{
		"service":  "session_sweeper",
		"interval": interval.String(),
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				log.WithField("expired", n).Info("Expired sessions dropped")
			}
		case <-ctx.Done():
			log.Info("Stopping session sweeper by context")
			return
		}
	}
}

func (s *Store) expired(e *entry, now time.Time) bool {
	return now.Sub(e.lastSeen) > s.ttl
}

// drop removes a session. Callers hold mu.
func (s *Store) drop(id string, e *entry) {
	delete(s.sessions, id)
	e.acc.Close()
	metrics.ActiveSessions.Dec()
}
