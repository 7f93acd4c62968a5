package sessionstoretest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-retail-demo/sessions"
	"github.com/jonboulle/clockwork"
)

// StoreFactory creates a new, empty Store driven by clock.
type StoreFactory func(t *testing.T, clock clockwork.FakeClock) sessions.Store

// RunStoreTests runs the complete Store conformance suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("Create_ReturnsUnauthenticatedSession", func(t *testing.T) { testCreate(t, factory) })
	t.Run("Create_IDsAreUnique", func(t *testing.T) { testCreateUnique(t, factory) })
	t.Run("Get_UnknownIsNotFound", func(t *testing.T) { testGetUnknown(t, factory) })
	t.Run("Mutate_UnknownDoesNotCreate", func(t *testing.T) { testMutateUnknown(t, factory) })
	t.Run("Mutate_InvariantViolationIsRejected", func(t *testing.T) { testMutateInvariant(t, factory) })
	t.Run("Mutate_HandlerErrorLeavesSessionUnchanged", func(t *testing.T) { testMutateHandlerError(t, factory) })
	t.Run("MarkAuthenticated_AttachesIdentity", func(t *testing.T) { testMarkAuthenticated(t, factory) })
	t.Run("MarkAuthenticated_UnknownIsNotFound", func(t *testing.T) { testMarkAuthenticatedUnknown(t, factory) })
	t.Run("Ensure_CreatesLazilyOnce", func(t *testing.T) { testEnsure(t, factory) })
	t.Run("Delete_ReportsExistence", func(t *testing.T) { testDelete(t, factory) })
	t.Run("SweepExpired_RemovesOnlyOldSessions", func(t *testing.T) { testSweep(t, factory) })
	t.Run("Concurrent_MutationsKeepInvariant", func(t *testing.T) { testConcurrent(t, factory) })
}

func newStore(t *testing.T, factory StoreFactory) (sessions.Store, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 11, 21, 9, 0, 0, 0, time.UTC))
	return factory(t, clock), clock
}

func demoIdentity(name string) sessions.Identity {
	return sessions.Identity{
		ID:    "CUST-1",
		Email: strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		Name:  name,
	}
}

func testCreate(t *testing.T, factory StoreFactory) {
	store, clock := newStore(t, factory)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(sess.ID, sessions.IDPrefix) {
		t.Fatalf("session id %q missing %q prefix", sess.ID, sessions.IDPrefix)
	}
	if sess.Authenticated || sess.Identity != nil {
		t.Fatalf("new session should be unauthenticated without identity, got %+v", sess)
	}
	if want, got := clock.Now().UTC(), sess.CreatedAt.UTC(); !want.Equal(got) {
		t.Fatalf("unexpected CreatedAt: want %v got %v", want, got)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != sess.ID {
		t.Fatalf("unexpected id: want %q got %q", sess.ID, got.ID)
	}
}

func testCreateUnique(t *testing.T, factory StoreFactory) {
	store, _ := newStore(t, factory)
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		sess, err := store.Create(context.Background())
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, dup := seen[sess.ID]; dup {
			t.Fatalf("duplicate session id %q", sess.ID)
		}
		seen[sess.ID] = struct{}{}
	}
}

func testGetUnknown(t *testing.T, factory StoreFactory) {
	store, _ := newStore(t, factory)
	if _, err := store.Get(context.Background(), "sess_does_not_exist"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func testMutateUnknown(t *testing.T, factory StoreFactory) {
	store, _ := newStore(t, factory)
	ctx := context.Background()
	called := false
	_, err := store.Mutate(ctx, "sess_missing", func(s *sessions.Session) error {
		called = true
		return nil
	})
	if !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if called {
		t.Fatalf("mutation must not run for unknown sessions")
	}
	if _, err := store.Get(ctx, "sess_missing"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("Mutate must not create sessions, Get returned %v", err)
	}
}

func testMutateInvariant(t *testing.T, factory StoreFactory) {
	store, _ := newStore(t, factory)
	ctx := context.Background()
	sess, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = store.Mutate(ctx, sess.ID, func(s *sessions.Session) error {
		s.Authenticated = true
		return nil
	})
	if !errors.Is(err, sessions.ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Authenticated {
		t.Fatalf("rejected mutation must leave session unchanged")
	}
}

func testMutateHandlerError(t *testing.T, factory StoreFactory) {
	store, _ := newStore(t, factory)
	ctx := context.Background()
	sess, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	boom := errors.New("boom")
	_, err = store.Mutate(ctx, sess.ID, func(s *sessions.Session) error {
		ident := demoIdentity("Half Written")
		s.Identity = &ident
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Identity != nil {
		t.Fatalf("failed mutation leaked identity %+v", got.Identity)
	}
}

func testMarkAuthenticated(t *testing.T, factory StoreFactory) {
	store, clock := newStore(t, factory)
	ctx := context.Background()
	sess, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clock.Advance(2 * time.Second)
	updated, err := store.MarkAuthenticated(ctx, sess.ID, demoIdentity("Jane Doe"))
	if err != nil {
		t.Fatalf("MarkAuthenticated: %v", err)
	}
	if !updated.Authenticated || updated.Identity == nil {
		t.Fatalf("expected authenticated session with identity, got %+v", updated)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if want, got := "Jane Doe", got.Identity.Name; want != got {
		t.Fatalf("unexpected name: want %q got %q", want, got)
	}
	if want, got := clock.Now().UTC(), got.Identity.AuthenticatedAt.UTC(); !want.Equal(got) {
		t.Fatalf("unexpected AuthenticatedAt: want %v got %v", want, got)
	}

	// Returned sessions are copies.
	got.Identity.Name = "Mallory"
	again, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Identity.Name != "Jane Doe" {
		t.Fatalf("store shares memory with callers")
	}
}

func testMarkAuthenticatedUnknown(t *testing.T, factory StoreFactory) {
	store, _ := newStore(t, factory)
	_, err := store.MarkAuthenticated(context.Background(), "sess_nope", demoIdentity("Jane Doe"))
	if !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func testEnsure(t *testing.T, factory StoreFactory) {
	store, clock := newStore(t, factory)
	ctx := context.Background()

	first, err := store.Ensure(ctx, "sess_component")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if first.Authenticated {
		t.Fatalf("lazily created session must start unauthenticated")
	}

	if _, err := store.MarkAuthenticated(ctx, "sess_component", demoIdentity("Jane Doe")); err != nil {
		t.Fatalf("MarkAuthenticated: %v", err)
	}

	clock.Advance(time.Minute)
	second, err := store.Ensure(ctx, "sess_component")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !second.Authenticated {
		t.Fatalf("Ensure must return the existing session, got %+v", second)
	}
	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("Ensure recreated the session: %v != %v", first.CreatedAt, second.CreatedAt)
	}

	if _, err := store.Ensure(ctx, ""); !errors.Is(err, sessions.ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession for empty id, got %v", err)
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	store, _ := newStore(t, factory)
	ctx := context.Background()
	sess, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ok, err := store.Delete(ctx, sess.ID)
	if err != nil || !ok {
		t.Fatalf("Delete existing: ok=%v err=%v", ok, err)
	}
	ok, err = store.Delete(ctx, sess.ID)
	if err != nil || ok {
		t.Fatalf("Delete missing: ok=%v err=%v", ok, err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func testSweep(t *testing.T, factory StoreFactory) {
	store, clock := newStore(t, factory)
	ctx := context.Background()

	old, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(6 * time.Minute)
	young, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(5 * time.Minute)

	n, err := store.SweepExpired(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if want, got := 1, n; want != got {
		t.Fatalf("unexpected sweep count: want %d got %d", want, got)
	}
	if _, err := store.Get(ctx, old.ID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("old session should be swept, got %v", err)
	}
	if _, err := store.Get(ctx, young.ID); err != nil {
		t.Fatalf("young session should survive: %v", err)
	}

	if n, _ := store.SweepExpired(ctx, 0); n != 0 {
		t.Fatalf("non-positive maxAge must not sweep, removed %d", n)
	}
}

func testConcurrent(t *testing.T, factory StoreFactory) {
	store, _ := newStore(t, factory)
	ctx := context.Background()
	sess, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if _, err := store.MarkAuthenticated(ctx, sess.ID, demoIdentity(fmt.Sprintf("User %d", i))); err != nil {
					errs <- err
					return
				}
				got, err := store.Get(ctx, sess.ID)
				if err != nil {
					errs <- err
					return
				}
				if err := got.Validate(); err != nil {
					errs <- err
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent access failed: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Authenticated || !strings.HasPrefix(got.Identity.Name, "User ") {
		t.Fatalf("unexpected final session %+v", got)
	}
}
