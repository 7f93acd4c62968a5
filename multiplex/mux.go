// Package multiplex hosts several logical MCP servers on one http.Handler,
// each under its own path prefix with its own connection table.
//
// Routing is by exact path: a mount at "/mcp" receives "/mcp" and
// "/mcp/messages" and nothing else, so "/mcp2" is never shadowed by "/mcp".
// A single CORS middleware wraps every route, so preflight requests are
// answered the same way for every prefix.
package multiplex

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/ggoodman/mcp-retail-demo/mcpservice"
	"github.com/ggoodman/mcp-retail-demo/streaminghttp"
	"github.com/go-chi/cors"
)

var (
	// ErrInvalidPrefix is returned for prefixes that are empty, relative or
	// end in a slash.
	ErrInvalidPrefix = errors.New("invalid mount prefix")
	// ErrDuplicateMount is returned when a prefix is mounted twice.
	ErrDuplicateMount = errors.New("prefix already mounted")
)

// Mount describes one mounted logical server.
type Mount struct {
	Prefix  string
	Name    string
	Handler *streaminghttp.Handler
}

// Option configures a Mux.
type Option func(*Mux)

// WithLogger sets the logger used for routing decisions.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mux) { m.log = l }
}

// WithAllowedOrigins restricts CORS to the given origins. An empty list or
// "*" allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(m *Mux) { m.origins = origins }
}

// WithHandlerOptions appends options applied to every mounted transport
// handler.
func WithHandlerOptions(opts ...streaminghttp.Option) Option {
	return func(m *Mux) { m.handlerOpts = append(m.handlerOpts, opts...) }
}

// WithFallback serves requests that match no mount. Defaults to a 404.
func WithFallback(h http.Handler) Option {
	return func(m *Mux) { m.fallback = h }
}

// Mux routes requests to mounted transport handlers.
type Mux struct {
	log         *slog.Logger
	origins     []string
	handlerOpts []streaminghttp.Option
	fallback    http.Handler
	handler     http.Handler

	mu     sync.RWMutex
	mounts []Mount
	routes map[string]*streaminghttp.Handler
}

// New returns an empty Mux.
func New(opts ...Option) *Mux {
	m := &Mux{
		log:      slog.Default(),
		fallback: http.NotFoundHandler(),
		routes:   make(map[string]*streaminghttp.Handler),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.handler = newCORS(m.origins).Handler(http.HandlerFunc(m.route))
	return m
}

func newCORS(origins []string) *cors.Cors {
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")
	return cors.New(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return allowAll || slices.Contains(origins, origin)
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// Mount serves srv under prefix and returns its transport handler. name
// labels logs and metrics.
func (m *Mux) Mount(prefix, name string, srv *mcpservice.Server) (*streaminghttp.Handler, error) {
	if !strings.HasPrefix(prefix, "/") || strings.HasSuffix(prefix, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	if srv == nil {
		return nil, fmt.Errorf("mount %s: nil server", prefix)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[prefix]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateMount, prefix)
	}
	if name == "" {
		name = srv.Info().Name
	}
	opts := append([]streaminghttp.Option{streaminghttp.WithLogger(m.log)}, m.handlerOpts...)
	opts = append(opts, streaminghttp.WithServerName(name))
	h := streaminghttp.New(prefix, srv, opts...)
	if _, ok := m.routes[h.MessagesPath()]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateMount, h.MessagesPath())
	}
	m.routes[prefix] = h
	m.routes[h.MessagesPath()] = h
	m.mounts = append(m.mounts, Mount{Prefix: prefix, Name: name, Handler: h})
	m.log.Info("mux.mount", slog.String("prefix", prefix), slog.String("server", name))
	return h, nil
}

// Mounts lists mounted servers in the order they were mounted.
func (m *Mux) Mounts() []Mount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.mounts)
}

// ActiveConnections sums open streams across every mount.
func (m *Mux) ActiveConnections() int {
	n := 0
	for _, mt := range m.Mounts() {
		n += mt.Handler.ActiveConnections()
	}
	return n
}

// Close ends every open stream on every mount.
func (m *Mux) Close() {
	for _, mt := range m.Mounts() {
		mt.Handler.Close()
	}
}

func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}

func (m *Mux) route(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	h, ok := m.routes[r.URL.Path]
	m.mu.RUnlock()
	if !ok {
		m.fallback.ServeHTTP(w, r)
		return
	}
	h.ServeHTTP(w, r)
}
