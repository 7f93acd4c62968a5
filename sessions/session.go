package sessions

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned when no session exists for an id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidSession is returned when a mutation would leave a session in
	// an inconsistent state. The stored record is left unchanged.
	ErrInvalidSession = errors.New("invalid session")
)

// IDPrefix starts every generated session id.
const IDPrefix = "sess_"

// NewID returns a fresh session id. The id is unique for the life of the
// process but is not a security token.
func NewID() string {
	return IDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Session is the authentication state of one shopper.
type Session struct {
	ID            string    `json:"id"`
	Authenticated bool      `json:"authenticated"`
	Identity      *Identity `json:"identity,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Identity is the customer profile attached to an authenticated session.
type Identity struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone,omitempty"`
	RewardsMember   string    `json:"rewardsMember,omitempty"`
	MemberSince     string    `json:"memberSince,omitempty"`
	AccountStatus   string    `json:"accountStatus,omitempty"`
	AuthenticatedAt time.Time `json:"authenticatedAt"`
}

// Validate reports whether s satisfies the session invariants.
func (s *Session) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil session", ErrInvalidSession)
	}
	if s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidSession)
	}
	if s.Authenticated && s.Identity == nil {
		return fmt.Errorf("%w: authenticated session %s has no identity", ErrInvalidSession, s.ID)
	}
	return nil
}

// Clone returns a deep copy of s so callers never share store-owned memory.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Identity != nil {
		ident := *s.Identity
		out.Identity = &ident
	}
	return &out
}

// Authenticate returns a mutation that marks a session authenticated with
// ident. A zero AuthenticatedAt is left for the caller to fill.
func Authenticate(ident Identity) func(*Session) error {
	return func(s *Session) error {
		s.Authenticated = true
		s.Identity = &ident
		return nil
	}
}

// ApplyMutation runs fn against a copy of cur and returns the result if it
// still satisfies the invariants. Stores use it so every implementation
// enforces the same rules.
func ApplyMutation(cur *Session, fn func(*Session) error) (*Session, error) {
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if next.ID != cur.ID {
		return nil, fmt.Errorf("%w: id cannot change", ErrInvalidSession)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

// Expired reports whether s is older than maxAge at now. A non-positive
// maxAge never expires anything.
func (s *Session) Expired(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(s.CreatedAt) > maxAge
}
