package sessions

import (
	"context"
	"time"
)

// Store is the process-wide session table shared by every logical server
// and the REST surface. Implementations must be safe for concurrent use and
// serialize mutations per id so concurrent authenticate and status calls
// never lose updates.
type Store interface {
	// Create allocates a new unauthenticated session.
	Create(ctx context.Context) (*Session, error)
	// Ensure returns the session for id, creating an unauthenticated one
	// when absent. It is the only lazily-creating operation and exists for
	// the component login form, which posts back an id minted by a tool.
	Ensure(ctx context.Context, id string) (*Session, error)
	// Get returns a copy of the session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)
	// Mutate applies fn to the session under the store's lock. It never
	// creates a session and returns ErrSessionNotFound when id is unknown.
	Mutate(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
	// MarkAuthenticated attaches ident to an existing session.
	MarkAuthenticated(ctx context.Context, id string, ident Identity) (*Session, error)
	// Delete removes the session and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// SweepExpired removes sessions older than maxAge and returns how many
	// were removed.
	SweepExpired(ctx context.Context, maxAge time.Duration) (int, error)
}

// Authenticator is the narrow view of a Store that external callers such as
// the REST handlers use to drive authentication.
type Authenticator interface {
	Create(ctx context.Context) (*Session, error)
	Ensure(ctx context.Context, id string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	MarkAuthenticated(ctx context.Context, id string, ident Identity) (*Session, error)
	Delete(ctx context.Context, id string) (bool, error)
}

var _ Authenticator = Store(nil)
