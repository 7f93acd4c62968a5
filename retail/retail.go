// Package retail declares the demo shopping servers: authentication,
// product search, cart and checkout, and Circle membership.
//
// Each server is a declarative list of tools plus the widget resources its
// tools render. All four share the session store and the demo cart, so a
// customer who signs in through the auth server is recognised by the
// others. Tools that depend on an earlier step (create-session, then
// authenticate, then get-status) check that step themselves; there is no
// workflow state beyond the session record.
package retail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ggoodman/mcp-retail-demo/cart"
	"github.com/ggoodman/mcp-retail-demo/catalog"
	"github.com/ggoodman/mcp-retail-demo/mcp"
	"github.com/ggoodman/mcp-retail-demo/mcpservice"
	"github.com/ggoodman/mcp-retail-demo/sessions"
	"github.com/ggoodman/mcp-retail-demo/widgets"
	"github.com/jonboulle/clockwork"
)

// Server names accepted by NewServer.
const (
	ServerAuth       = "auth"
	ServerSearch     = "search"
	ServerCart       = "cart"
	ServerMembership = "membership"
)

// ErrUnknownServer is returned by NewServer for names it does not know.
var ErrUnknownServer = errors.New("unknown server")

// errSessionRequired is the guard message for tools called before
// create-session.
var errSessionRequired = errors.New("sessionId is required. Call create-session first")

// errNotAuthenticated is shown verbatim to the agent, hence the sentence case.
var errNotAuthenticated = errors.New("Not authenticated. Please sign in first.") //nolint:staticcheck // ST1005 user-facing text

// Deps are the collaborators shared by every server.
type Deps struct {
	Sessions sessions.Store
	Carts    *cart.Store
	Catalog  catalog.Searcher
	// Widgets supplies the HTML resources. Servers have no resources when
	// it is nil.
	Widgets *widgets.Set
	// AutoAuth, when set together with a positive AutoAuthDelay, signs new
	// sessions in after the delay.
	AutoAuth      *sessions.AutoAuthenticator
	AutoAuthDelay time.Duration
	// BaseURL prefixes links returned to the agent, such as the sign-in
	// component.
	BaseURL string
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Carts == nil {
		d.Carts = cart.NewStore(cart.SingleItem)
	}
	if d.Catalog == nil {
		d.Catalog = catalog.NewFixture()
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	d.BaseURL = strings.TrimSuffix(d.BaseURL, "/")
	return d
}

// ServerNames lists the servers NewServer can build.
func ServerNames() []string {
	return []string{ServerAuth, ServerSearch, ServerCart, ServerMembership}
}

// NewServer builds the named server.
func NewServer(name string, deps Deps) (*mcpservice.Server, error) {
	if deps.Sessions == nil {
		return nil, errors.New("retail: session store is required")
	}
	switch name {
	case ServerAuth:
		return NewAuthServer(deps), nil
	case ServerSearch:
		return NewSearchServer(deps), nil
	case ServerCart:
		return NewCartServer(deps), nil
	case ServerMembership:
		return NewMembershipServer(deps), nil
	default:
		return nil, fmt.Errorf("%w %q (want one of %s)", ErrUnknownServer, name, strings.Join(ServerNames(), ", "))
	}
}

func newServer(deps Deps, info mcp.ImplementationInfo, instructions string, tools []mcpservice.StaticTool, widgetNames ...string) *mcpservice.Server {
	opts := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(info),
		mcpservice.WithInstructions(instructions),
		mcpservice.WithTools(mcpservice.NewToolsContainer(tools...)),
	}
	if deps.Widgets != nil && len(widgetNames) > 0 {
		opts = append(opts, mcpservice.WithResources(deps.Widgets.Container(widgetNames...)))
	}
	return mcpservice.NewServer(opts...)
}

// respond sets v as the structured content and text as the summary shown
// to the agent.
func respond(w mcpservice.ToolResponseWriter, text string, v any) error {
	if err := w.SetStructured(v); err != nil {
		return err
	}
	return w.AppendText(text)
}

// requireSession loads an existing session or fails with a message the
// agent can act on.
func requireSession(ctx context.Context, store sessions.Store, id string) (*sessions.Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errSessionRequired
	}
	s, err := store.Get(ctx, id)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		return nil, fmt.Errorf("session %s not found. Call create-session to start a new one", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return s, nil
}

// requireAuthenticated is requireSession plus a signed-in check.
func requireAuthenticated(ctx context.Context, store sessions.Store, id string) (*sessions.Session, error) {
	s, err := requireSession(ctx, store, id)
	if err != nil {
		return nil, err
	}
	if !s.Authenticated {
		return nil, errNotAuthenticated
	}
	return s, nil
}
