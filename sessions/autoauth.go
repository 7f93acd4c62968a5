package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// AutoAuthenticator marks sessions authenticated after a delay, simulating a
// login that completes out of band. Each session has at most one pending
// timer; scheduling again replaces it.
type AutoAuthenticator struct {
	store Store
	clock clockwork.Clock
	log   *slog.Logger

	mu     sync.Mutex
	timers map[string]*pendingAuth
	closed bool
}

type pendingAuth struct {
	timer clockwork.Timer
}

// AutoAuthOption configures an AutoAuthenticator.
type AutoAuthOption func(*AutoAuthenticator)

// WithAutoAuthClock overrides the clock used to schedule timers.
func WithAutoAuthClock(c clockwork.Clock) AutoAuthOption {
	return func(a *AutoAuthenticator) { a.clock = c }
}

// WithAutoAuthLogger sets the logger. Defaults to slog.Default().
func WithAutoAuthLogger(l *slog.Logger) AutoAuthOption {
	return func(a *AutoAuthenticator) { a.log = l }
}

// NewAutoAuthenticator builds an AutoAuthenticator over store.
func NewAutoAuthenticator(store Store, opts ...AutoAuthOption) *AutoAuthenticator {
	a := &AutoAuthenticator{
		store:  store,
		clock:  clockwork.NewRealClock(),
		log:    slog.Default(),
		timers: make(map[string]*pendingAuth),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Schedule arranges for id to be authenticated with ident after delay.
// A non-positive delay is ignored.
func (a *AutoAuthenticator) Schedule(id string, delay time.Duration, ident Identity) {
	if delay <= 0 || id == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if prev, ok := a.timers[id]; ok {
		prev.timer.Stop()
	}
	p := &pendingAuth{}
	p.timer = a.clock.AfterFunc(delay, func() { a.fire(id, p, ident) })
	a.timers[id] = p
	a.log.Debug("autoauth.schedule", slog.String("session_id", id), slog.Duration("delay", delay))
}

func (a *AutoAuthenticator) fire(id string, p *pendingAuth, ident Identity) {
	a.mu.Lock()
	if cur, ok := a.timers[id]; !ok || cur != p {
		// cancelled or superseded
		a.mu.Unlock()
		return
	}
	delete(a.timers, id)
	a.mu.Unlock()

	if ident.AuthenticatedAt.IsZero() {
		ident.AuthenticatedAt = a.clock.Now().UTC()
	}
	// A sign-in that landed while the timer was firing keeps its identity.
	skipped := false
	_, err := a.store.Mutate(context.Background(), id, func(s *Session) error {
		if s.Authenticated {
			skipped = true
			return nil
		}
		return Authenticate(ident)(s)
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			a.log.Debug("autoauth.fire.miss", slog.String("session_id", id))
			return
		}
		a.log.Error("autoauth.fire.fail", slog.String("session_id", id), slog.String("err", err.Error()))
		return
	}
	if skipped {
		a.log.Info("autoauth.fire.skip", slog.String("session_id", id))
		return
	}
	a.log.Info("autoauth.fire.ok", slog.String("session_id", id))
}

// Cancel stops the pending timer for id and reports whether one existed.
func (a *AutoAuthenticator) Cancel(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.timers[id]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(a.timers, id)
	return true
}

// Pending reports the number of scheduled timers.
func (a *AutoAuthenticator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.timers)
}

// Stop cancels every pending timer. Later calls to Schedule are ignored.
func (a *AutoAuthenticator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for id, p := range a.timers {
		p.timer.Stop()
		delete(a.timers, id)
	}
}
