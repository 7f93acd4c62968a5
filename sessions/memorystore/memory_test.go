package memorystore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/mcp-retail-demo/sessions"
	"github.com/ggoodman/mcp-retail-demo/sessions/sessionstoretest"
	"github.com/jonboulle/clockwork"
)

func TestMemoryStore(t *testing.T) {
	sessionstoretest.RunStoreTests(t, func(t *testing.T, clock clockwork.FakeClock) sessions.Store {
		return New(WithClock(clock))
	})
}

func TestCreateSweepsExpiredSessions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := New(WithClock(clock), WithTTL(10*time.Minute))
	ctx := context.Background()

	stale, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(11 * time.Minute)

	if _, err := store.Get(ctx, stale.ID); err != nil {
		t.Fatalf("sweep must be opportunistic, not timer driven: %v", err)
	}

	if _, err := store.Create(ctx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Get(ctx, stale.ID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected stale session to be swept on create, got %v", err)
	}
	if want, got := 1, store.Len(); want != got {
		t.Fatalf("unexpected session count: want %d got %d", want, got)
	}
}
