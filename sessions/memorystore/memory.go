package memorystore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ggoodman/mcp-retail-demo/sessions"
	"github.com/jonboulle/clockwork"
)

// Store is an in-memory implementation of sessions.Store. A single mutex
// guards the table; every operation is O(1) except SweepExpired.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*sessions.Session

	clock clockwork.Clock
	// ttl bounds session age for the opportunistic sweep run by Create.
	ttl time.Duration
}

var _ sessions.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock injects the clock used for CreatedAt stamps and expiry.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithTTL sets the age after which Create sweeps sessions away. Zero disables
// the sweep.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*sessions.Session),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Create(ctx context.Context) (*sessions.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.sweepLocked(now, s.ttl)

	sess := &sessions.Session{ID: sessions.NewID(), CreatedAt: now.UTC()}
	for {
		if _, exists := s.sessions[sess.ID]; !exists {
			break
		}
		sess.ID = sessions.NewID()
	}
	s.sessions[sess.ID] = sess
	return sess.Clone(), nil
}

func (s *Store) Ensure(ctx context.Context, id string) (*sessions.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", sessions.ErrInvalidSession)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.sessions[id]; ok {
		return cur.Clone(), nil
	}
	sess := &sessions.Session{ID: id, CreatedAt: s.clock.Now().UTC()}
	s.sessions[id] = sess
	return sess.Clone(), nil
}

func (s *Store) Get(ctx context.Context, id string) (*sessions.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[id]
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	return cur.Clone(), nil
}

func (s *Store) Mutate(ctx context.Context, id string, fn func(*sessions.Session) error) (*sessions.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[id]
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	next, err := sessions.ApplyMutation(cur, fn)
	if err != nil {
		return nil, err
	}
	s.sessions[id] = next
	return next.Clone(), nil
}

func (s *Store) MarkAuthenticated(ctx context.Context, id string, ident sessions.Identity) (*sessions.Session, error) {
	if ident.AuthenticatedAt.IsZero() {
		ident.AuthenticatedAt = s.clock.Now().UTC()
	}
	return s.Mutate(ctx, id, sessions.Authenticate(ident))
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

func (s *Store) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.clock.Now(), maxAge), nil
}

func (s *Store) sweepLocked(now time.Time, maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	n := 0
	for id, sess := range s.sessions {
		if sess.Expired(now, maxAge) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Len reports the number of stored sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
