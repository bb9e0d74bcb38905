package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/keystone/pkg/debug"
	"github.com/rhuss/keystone/pkg/observability"
)

// Store creates, finds and destroys sessions.
type Store interface {
	// Create starts a new session with a fresh identifier.
	Create(ctx context.Context) (*Session, error)

	// Get returns the live session with the given identifier, or ErrNotFound.
	// A successful Get counts as activity.
	Get(ctx context.Context, id string) (*Session, error)

	// FindByTag returns every live session carrying the tag.
	FindByTag(ctx context.Context, tag string) ([]*Session, error)

	// Destroy removes a session, or returns ErrNotFound.
	Destroy(ctx context.Context, id, reason string) error

	// DestroyByTag removes every session carrying the tag and returns how
	// many were destroyed.
	DestroyByTag(ctx context.Context, tag, reason string) (int, error)
}

// MemoryStore is an in-process Store with idle expiry.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	now         func() time.Time
}

// Ensure MemoryStore implements Store at compile time.
var _ Store = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a store whose sessions expire after idleTimeout
// without activity. A zero timeout disables expiry.
func NewMemoryStore(idleTimeout time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context) (*Session, error) {
	sess := newSession(uuid.NewString(), s.now())

	s.mu.Lock()
	s.sessions[sess.id] = sess
	n := len(s.sessions)
	s.mu.Unlock()

	observability.SessionsActive.Set(float64(n))
	debug.Log("session", "session created", "session", sess.id)
	return sess, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	now := s.now()
	if s.expired(sess, now) {
		s.Destroy(ctx, id, "session timed out")
		return nil, ErrNotFound
	}
	sess.touch(now)
	return sess, nil
}

// FindByTag implements Store.
func (s *MemoryStore) FindByTag(_ context.Context, tag string) ([]*Session, error) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for _, sess := range s.sessions {
		if !s.expired(sess, now) && sess.HasTag(tag) {
			out = append(out, sess)
		}
	}
	return out, nil
}

// Destroy implements Store.
func (s *MemoryStore) Destroy(_ context.Context, id, reason string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	observability.SessionsActive.Set(float64(n))
	slog.Info("session destroyed", "session", id, "reason", reason)
	return nil
}

// DestroyByTag implements Store.
func (s *MemoryStore) DestroyByTag(ctx context.Context, tag, reason string) (int, error) {
	sessions, err := s.FindByTag(ctx, tag)
	if err != nil {
		return 0, err
	}
	destroyed := 0
	for _, sess := range sessions {
		if err := s.Destroy(ctx, sess.id, reason); err == nil {
			destroyed++
		}
	}
	return destroyed, nil
}

// Collect removes expired sessions and returns how many were removed.
func (s *MemoryStore) Collect(_ context.Context) int {
	now := s.now()
	s.mu.Lock()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	if removed > 0 {
		observability.SessionsActive.Set(float64(n))
		debug.Log("session", "expired sessions collected", "count", removed)
	}
	return removed
}

// Len returns the number of stored sessions, including expired ones not yet collected.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) expired(sess *Session, now time.Time) bool {
	return s.idleTimeout > 0 && now.Sub(sess.LastActivity()) > s.idleTimeout
}
