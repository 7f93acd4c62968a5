package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/mcp-retail-demo/sessions"
	"github.com/ggoodman/mcp-retail-demo/sessions/sessionstoretest"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	r := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: r.Addr()})
	t.Cleanup(func() { _ = cl.Close() })
	return r, cl
}

func TestRedisStore(t *testing.T) {
	sessionstoretest.RunStoreTests(t, func(t *testing.T, clock clockwork.FakeClock) sessions.Store {
		_, cl := newTestClient(t)
		return NewWithClient(cl, WithClock(clock), WithKeyPrefix("test:"))
	})
}

func TestSessionKeysCarryTTL(t *testing.T) {
	r, cl := newTestClient(t)
	store := NewWithClient(cl, WithTTL(10*time.Minute))
	ctx := context.Background()

	sess, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if want, got := 10*time.Minute, r.TTL("retail:session:"+sess.ID); want != got {
		t.Fatalf("unexpected ttl: want %v got %v", want, got)
	}

	if _, err := store.MarkAuthenticated(ctx, sess.ID, sessions.Identity{ID: "CUST-1", Name: "Jane", Email: "jane@example.com"}); err != nil {
		t.Fatalf("MarkAuthenticated: %v", err)
	}
	if got := r.TTL("retail:session:" + sess.ID); got <= 0 {
		t.Fatalf("mutation dropped the key ttl")
	}

	r.FastForward(11 * time.Minute)
	if _, err := store.Get(ctx, sess.ID); err != sessions.ErrSessionNotFound {
		t.Fatalf("expected key to expire, got %v", err)
	}
}
