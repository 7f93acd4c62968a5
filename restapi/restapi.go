// Package restapi serves the plain HTTP endpoints that sit beside the MCP
// transports: the sign-in form's callback, the GPT Actions API, the index,
// health, OpenAPI and privacy pages, and the widget components.
//
// Every endpoint drives the same session and cart stores as the MCP tools,
// so a sign-in completed here is visible to get-status immediately.
package restapi

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ggoodman/mcp-retail-demo/cart"
	"github.com/ggoodman/mcp-retail-demo/internal/logctx"
	"github.com/ggoodman/mcp-retail-demo/sessions"
	"github.com/ggoodman/mcp-retail-demo/widgets"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/yuin/goldmark"
)

//go:embed assets/privacy.md assets/privacy.html
var assets embed.FS

const (
	serviceName    = "target-customer-auth"
	serviceTitle   = "Target Customer Authentication"
	serviceVersion = "1.0.0"
	maxBodyBytes   = 1 << 20
)

// Endpoint is one mounted MCP server listed on the index page.
type Endpoint struct {
	Name string
	Path string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithCarts sets the cart store reset by POST /api/cart/reset.
func WithCarts(c *cart.Store) Option {
	return func(h *Handler) { h.carts = c }
}

// WithWidgets serves the widget HTML under /components/.
func WithWidgets(s *widgets.Set) Option {
	return func(h *Handler) { h.widgets = s }
}

// WithAutoAuth cancels pending automatic sign-ins when a session is signed
// in or out explicitly.
func WithAutoAuth(a *sessions.AutoAuthenticator) Option {
	return func(h *Handler) { h.auto = a }
}

// WithBaseURL fixes the public base URL. When empty it is derived from each
// request's X-Forwarded-Proto and X-Forwarded-Host headers.
func WithBaseURL(u string) Option {
	return func(h *Handler) { h.baseURL = strings.TrimSuffix(u, "/") }
}

// WithEndpoints lists the mounted MCP servers on the index page.
func WithEndpoints(fn func() []Endpoint) Option {
	return func(h *Handler) { h.endpoints = fn }
}

// WithClock overrides the clock used to stamp sign-ins.
func WithClock(c clockwork.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// Handler serves the REST surface.
type Handler struct {
	sessions  sessions.Authenticator
	carts     *cart.Store
	widgets   *widgets.Set
	auto      *sessions.AutoAuthenticator
	baseURL   string
	endpoints func() []Endpoint
	clock     clockwork.Clock
	log       *slog.Logger

	privacy []byte
	mux     *http.ServeMux
}

// New returns a Handler over store.
func New(store sessions.Authenticator, opts ...Option) (*Handler, error) {
	if store == nil {
		return nil, errors.New("restapi: session store is required")
	}
	h := &Handler{
		sessions:  store,
		endpoints: func() []Endpoint { return nil },
		clock:     clockwork.NewRealClock(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logctx.Wrap(h.log)

	page, err := renderPrivacy()
	if err != nil {
		return nil, err
	}
	h.privacy = page

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /openapi.json", h.handleOpenAPI)
	mux.HandleFunc("GET /privacy", h.handlePrivacy)
	mux.HandleFunc("GET /components/{name}", h.handleComponent)
	mux.HandleFunc("POST /api/authenticate", h.handleComponentAuthenticate)
	mux.HandleFunc("POST /api/session/authenticate", h.handleSessionAuthenticate)
	mux.HandleFunc("GET /api/session/{id}", h.handleSession)
	mux.HandleFunc("POST /api/actions/authenticate", h.handleActionsAuthenticate)
	mux.HandleFunc("GET /api/actions/profile", h.handleActionsProfile)
	mux.HandleFunc("POST /api/actions/logout", h.handleActionsLogout)
	mux.HandleFunc("POST /api/cart/reset", h.handleCartReset)
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

func renderPrivacy() ([]byte, error) {
	md, err := assets.ReadFile("assets/privacy.md")
	if err != nil {
		return nil, err
	}
	var body bytes.Buffer
	if err := goldmark.Convert(md, &body); err != nil {
		return nil, fmt.Errorf("render privacy policy: %w", err)
	}
	tmpl, err := template.ParseFS(assets, "assets/privacy.html")
	if err != nil {
		return nil, err
	}
	var page bytes.Buffer
	err = tmpl.Execute(&page, struct {
		Title   string
		Content template.HTML
	}{serviceTitle, template.HTML(body.String())})
	if err != nil {
		return nil, err
	}
	return page.Bytes(), nil
}

// publicBaseURL returns the configured base URL or one derived from the
// proxy headers on r.
func (h *Handler) publicBaseURL(r *http.Request) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return proto + "://" + host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, failure{Error: msg})
}

// decodeBody reads a JSON object into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	base := h.publicBaseURL(r)
	servers := make(map[string]string)
	endpoints := map[string]string{
		"openapi_schema": base + "/openapi.json",
		"privacy_policy": base + "/privacy",
		"auth_component": base + "/components/" + widgets.Auth,
	}
	for i, ep := range h.endpoints() {
		servers[ep.Name] = base + ep.Path
		if i == 0 {
			endpoints["mcp"] = base + ep.Path
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        serviceTitle,
		"version":     serviceVersion,
		"description": "MCP server for Target customer authentication",
		"endpoints":   endpoints,
		"servers":     servers,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName, "version": serviceVersion})
}

func (h *Handler) handlePrivacy(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(h.privacy)
}

func (h *Handler) handleComponent(w http.ResponseWriter, r *http.Request) {
	if h.widgets == nil {
		http.NotFound(w, r)
		return
	}
	html, ok := h.widgets.HTML(r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}
