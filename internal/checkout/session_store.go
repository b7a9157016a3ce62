package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"funnel-server/internal/observability"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a checkout session does not exist or
// has expired.
var ErrSessionNotFound = errors.New("checkout session not found")

// SessionStore persists checkout sessions between wizard requests.
type SessionStore interface {
	Save(ctx context.Context, session Session) error
	Get(ctx context.Context, id uuid.UUID) (Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type sessionEntry struct {
	session   Session
	expiresAt time.Time
}

// MemorySessionStore keeps checkout sessions in process memory with a
// sliding TTL. Every save restarts the expiration, so a session only dies
// after the shopper has been idle for the full window. A janitor goroutine
// sweeps expired entries so abandoned sessions do not accumulate.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]sessionEntry
	ttl      time.Duration
	now      func() time.Time
	logger   *observability.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemorySessionStore creates a session store and starts its janitor.
func NewMemorySessionStore(ttl time.Duration, logger *observability.Logger) *MemorySessionStore {
	s := &MemorySessionStore{
		sessions: make(map[uuid.UUID]sessionEntry),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Save writes the session and restarts its TTL.
func (s *MemorySessionStore) Save(ctx context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = sessionEntry{
		session:   session,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// Get loads a session by ID. Expired entries are dropped on read so callers
// never see a stale session even between janitor sweeps.
func (s *MemorySessionStore) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}
	return entry.session, nil
}

// Delete removes a session, typically after a successful payment dispatch.
func (s *MemorySessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Close stops the janitor goroutine.
func (s *MemorySessionStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *MemorySessionStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *MemorySessionStore) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	swept := 0
	for id, entry := range s.sessions {
		if !now.Before(entry.expiresAt) {
			delete(s.sessions, id)
			swept++
		}
	}
	if swept > 0 {
		s.logger.Info(context.Background(), "swept expired checkout sessions",
			observability.Field{Key: "count", Value: swept},
		)
	}
}
