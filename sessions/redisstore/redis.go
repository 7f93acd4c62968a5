package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-retail-demo/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed Store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: REDIS_KEY_PREFIX
	KeyPrefix string `env:"REDIS_KEY_PREFIX,default=retail:"`
	// TTL applied to each session key. Zero keeps keys until swept or deleted.
	// ENV: SESSION_TTL
	TTL time.Duration `env:"SESSION_TTL,default=10m"`
}

// maxTxAttempts bounds optimistic-lock retries in Mutate.
const maxTxAttempts = 64

// Store is a sessions.Store backed by Redis. Each session is a JSON value
// under <prefix>session:<id>; Mutate uses WATCH/MULTI so concurrent writers
// never lose updates.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	clock     clockwork.Clock
	ownClient bool
}

var _ sessions.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock injects the clock used for CreatedAt stamps and expiry.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithKeyPrefix overrides the key prefix.
func WithKeyPrefix(p string) Option {
	return func(s *Store) { s.keyPrefix = p }
}

// WithTTL sets the expiry applied to session keys.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, keyPrefix: "retail:", clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// New connects to Redis using cfg and verifies the connection.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	base := []Option{WithTTL(cfg.TTL)}
	if cfg.KeyPrefix != "" {
		base = append(base, WithKeyPrefix(cfg.KeyPrefix))
	}
	s := NewWithClient(cl, append(base, opts...)...)
	s.ownClient = true
	return s, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(ctx context.Context, opts ...Option) (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(ctx, cfg, opts...)
}

// Close closes the Redis client when the Store created it.
func (s *Store) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(id string) string { return s.keyPrefix + "session:" + id }

func (s *Store) expiry() time.Duration {
	if s.ttl > 0 {
		return s.ttl
	}
	return 0
}

func (s *Store) Create(ctx context.Context) (*sessions.Session, error) {
	for {
		sess := &sessions.Session{ID: sessions.NewID(), CreatedAt: s.clock.Now().UTC()}
		b, err := json.Marshal(sess)
		if err != nil {
			return nil, fmt.Errorf("encode session: %w", err)
		}
		ok, err := s.client.SetNX(ctx, s.key(sess.ID), b, s.expiry()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return sess, nil
		}
	}
}

func (s *Store) Ensure(ctx context.Context, id string) (*sessions.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", sessions.ErrInvalidSession)
	}
	sess := &sessions.Session{ID: id, CreatedAt: s.clock.Now().UTC()}
	b, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.key(id), b, s.expiry()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx: %w", err)
	}
	if created {
		return sess, nil
	}
	return s.Get(ctx, id)
}

func (s *Store) Get(ctx context.Context, id string) (*sessions.Session, error) {
	b, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sessions.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decode(b)
}

func decode(b []byte) (*sessions.Session, error) {
	var sess sessions.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *Store) Mutate(ctx context.Context, id string, fn func(*sessions.Session) error) (*sessions.Session, error) {
	key := s.key(id)
	var out *sessions.Session

	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return sessions.ErrSessionNotFound
			}
			return fmt.Errorf("redis get: %w", err)
		}
		cur, err := decode(b)
		if err != nil {
			return err
		}
		next, err := sessions.ApplyMutation(cur, fn)
		if err != nil {
			return err
		}
		nb, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, nb, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("redis mutate %s: too much contention", id)
}

func (s *Store) MarkAuthenticated(ctx context.Context, id string, ident sessions.Identity) (*sessions.Session, error) {
	if ident.AuthenticatedAt.IsZero() {
		ident.AuthenticatedAt = s.clock.Now().UTC()
	}
	return s.Mutate(ctx, id, sessions.Authenticate(ident))
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis del: %w", err)
	}
	return n > 0, nil
}

// SweepExpired scans the session keyspace and removes records older than
// maxAge. Key TTLs normally expire sessions first; the sweep covers keys
// written without one.
func (s *Store) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	now := s.clock.Now()
	removed := 0
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"session:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		b, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return removed, fmt.Errorf("redis get: %w", err)
		}
		sess, err := decode(b)
		if err != nil {
			// unreadable records cannot be aged; leave them for the TTL
			continue
		}
		if !sess.Expired(now, maxAge) {
			continue
		}
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("redis del: %w", err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}
