package sessions_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ggoodman/mcp-retail-demo/sessions"
	"github.com/ggoodman/mcp-retail-demo/sessions/memorystore"
	"github.com/jonboulle/clockwork"
)

var shopper = sessions.Identity{ID: "CUST-1", Email: "a@b.com", Name: "Jane"}

// waitAuthenticated polls because the fake clock runs AfterFunc callbacks on
// their own goroutine.
func waitAuthenticated(t *testing.T, store sessions.Store, id string) *sessions.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s, err := store.Get(context.Background(), id)
		if err == nil && s.Authenticated {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s was never authenticated", id)
	return nil
}

func TestAutoAuthenticatorFires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := memorystore.New(memorystore.WithClock(clock))
	sess, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	a := sessions.NewAutoAuthenticator(store, sessions.WithAutoAuthClock(clock))
	a.Schedule(sess.ID, 10*time.Second, shopper)
	if want, got := 1, a.Pending(); want != got {
		t.Fatalf("pending: want %d got %d", want, got)
	}

	clock.Advance(9 * time.Second)
	if s, _ := store.Get(context.Background(), sess.ID); s.Authenticated {
		t.Fatalf("authenticated before delay elapsed")
	}

	clock.Advance(time.Second)
	got := waitAuthenticated(t, store, sess.ID)
	if got.Identity.Email != shopper.Email {
		t.Fatalf("identity email: want %q got %q", shopper.Email, got.Identity.Email)
	}
	if got.Identity.AuthenticatedAt.IsZero() {
		t.Fatalf("expected AuthenticatedAt to be stamped")
	}
}

func TestAutoAuthenticatorCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := memorystore.New(memorystore.WithClock(clock))
	sess, _ := store.Create(context.Background())

	a := sessions.NewAutoAuthenticator(store, sessions.WithAutoAuthClock(clock))
	a.Schedule(sess.ID, time.Second, shopper)
	if !a.Cancel(sess.ID) {
		t.Fatalf("Cancel reported no pending timer")
	}
	if a.Cancel(sess.ID) {
		t.Fatalf("second Cancel should report false")
	}
	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if s, _ := store.Get(context.Background(), sess.ID); s.Authenticated {
		t.Fatalf("cancelled timer still authenticated the session")
	}
}

func TestAutoAuthenticatorMissingSessionIsNoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := memorystore.New(memorystore.WithClock(clock))

	a := sessions.NewAutoAuthenticator(store, sessions.WithAutoAuthClock(clock))
	a.Schedule("sess_gone", time.Second, shopper)
	clock.Advance(time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for a.Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := store.Get(context.Background(), "sess_gone"); err == nil {
		t.Fatalf("timer must not create sessions")
	}
}

func TestAutoAuthenticatorIgnoresZeroDelayAndStop(t *testing.T) {
	store := memorystore.New()
	a := sessions.NewAutoAuthenticator(store)
	a.Schedule("sess_x", 0, shopper)
	if got := a.Pending(); got != 0 {
		t.Fatalf("zero delay scheduled a timer")
	}
	a.Schedule("sess_x", time.Hour, shopper)
	a.Stop()
	if got := a.Pending(); got != 0 {
		t.Fatalf("Stop left %d timers", got)
	}
	a.Schedule("sess_y", time.Hour, shopper)
	if got := a.Pending(); got != 0 {
		t.Fatalf("Schedule after Stop registered a timer")
	}
}

// eventHandler forwards record messages so tests can wait for a timer to
// finish its store write.
type eventHandler struct {
	slog.Handler
	events chan string
}

func newEventLogger() (*slog.Logger, <-chan string) {
	events := make(chan string, 16)
	h := eventHandler{
		Handler: slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}),
		events:  events,
	}
	return slog.New(h), events
}

func (h eventHandler) Handle(ctx context.Context, r slog.Record) error {
	select {
	case h.events <- r.Message:
	default:
	}
	return nil
}

func waitEvent(t *testing.T, events <-chan string, want string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-events:
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
		}
	}
}

func TestAutoAuthenticatorKeepsExplicitSignIn(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := memorystore.New(memorystore.WithClock(clock))
	sess, _ := store.Create(context.Background())

	log, events := newEventLogger()
	a := sessions.NewAutoAuthenticator(store, sessions.WithAutoAuthClock(clock), sessions.WithAutoAuthLogger(log))
	a.Schedule(sess.ID, 10*time.Second, sessions.Identity{ID: "CUST-2", Email: "fixture@example.com", Name: "Fixture"})

	// The explicit sign-in commits without cancelling, as when it races a
	// timer that has already started firing.
	if _, err := store.MarkAuthenticated(context.Background(), sess.ID, shopper); err != nil {
		t.Fatalf("MarkAuthenticated: %v", err)
	}
	clock.Advance(10 * time.Second)
	waitEvent(t, events, "autoauth.fire.skip")

	got, err := store.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Identity.Name != shopper.Name || got.Identity.Email != shopper.Email {
		t.Fatalf("explicit identity replaced: %+v", got.Identity)
	}
}
