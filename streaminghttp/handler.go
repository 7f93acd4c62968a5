package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-retail-demo/internal/engine"
	"github.com/ggoodman/mcp-retail-demo/internal/logctx"
	"github.com/ggoodman/mcp-retail-demo/mcpservice"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var _ http.Handler = (*Handler)(nil)

var (
	// ErrUnknownSession is returned when a POST names a connection that is
	// not (or no longer) registered.
	ErrUnknownSession = errors.New("unknown session")
	// ErrHandlerClosed is returned once Close has been called.
	ErrHandlerClosed = errors.New("handler closed")
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	sessionIDParam   = "sessionId"
	maxBodyBytes     = 1 << 20
	defaultQueueSize = 64
	defaultKeepAlive = 25 * time.Second
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections. This is
// transport-level, not JSON-RPC framing.
// Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*Handler)

// WithServerName labels logs and metrics. Defaults to the server's info name.
func WithServerName(name string) Option {
	return func(h *Handler) { h.name = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithKeepAlive sets the interval between SSE keepalive comments. Zero
// disables them.
func WithKeepAlive(d time.Duration) Option {
	return func(h *Handler) { h.keepAlive = d }
}

// WithObserver forwards per-message outcomes to o.
func WithObserver(o engine.Observer) Option {
	return func(h *Handler) { h.observer = o }
}

// WithClock overrides the clock driving keepalives.
func WithClock(c clockwork.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithQueueSize bounds the per-connection inbound and outbound queues.
func WithQueueSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// Handler serves one logical MCP server under a path prefix:
//
//	GET  <prefix>                       open an SSE stream
//	POST <prefix>/messages?sessionId=ID deliver a message to that stream
//	POST <prefix>                       stateless request/response
//
// Every SSE connection gets its own engine and worker goroutine, so messages
// on one connection are handled in arrival order.
type Handler struct {
	prefix    string
	srv       *mcpservice.Server
	name      string
	log       *slog.Logger
	observer  engine.Observer
	clock     clockwork.Clock
	keepAlive time.Duration
	queueSize int
	mux       *http.ServeMux

	mu     sync.RWMutex
	conns  map[string]*conn
	closed chan struct{}
	once   sync.Once
}

// conn is one registered SSE connection.
type conn struct {
	id       string
	eng      *engine.Engine
	inbound  chan []byte
	outbound chan []byte
	done     chan struct{}
}

// New returns a Handler for srv mounted at prefix (for example "/mcp").
func New(prefix string, srv *mcpservice.Server, opts ...Option) *Handler {
	h := &Handler{
		prefix:    prefix,
		srv:       srv,
		name:      srv.Info().Name,
		log:       slog.Default(),
		clock:     clockwork.NewRealClock(),
		keepAlive: defaultKeepAlive,
		queueSize: defaultQueueSize,
		conns:     make(map[string]*conn),
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logctx.Wrap(h.log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+prefix, h.handleGetStream)
	mux.HandleFunc("POST "+prefix, h.handlePostStateless)
	mux.HandleFunc("POST "+h.MessagesPath(), h.handlePostMessage)
	h.mux = mux
	return h
}

// Prefix returns the mount prefix.
func (h *Handler) Prefix() string { return h.prefix }

// MessagesPath returns the path clients POST connection messages to.
func (h *Handler) MessagesPath() string { return h.prefix + "/messages" }

// ActiveConnections reports the number of registered SSE connections.
func (h *Handler) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close ends every open stream and rejects new ones. Use it before
// http.Server.Shutdown, which otherwise waits on long-lived streams.
func (h *Handler) Close() {
	h.once.Do(func() { close(h.closed) })
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

func (h *Handler) newEngine(connID string) *engine.Engine {
	return engine.NewEngine(h.srv,
		engine.WithConnID(connID),
		engine.WithServerName(h.name),
		engine.WithLogger(h.log),
		engine.WithObserver(h.observer),
	)
}

func (h *Handler) register(c *conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.closed:
		return ErrHandlerClosed
	default:
	}
	h.conns[c.id] = c
	return nil
}

// unregister removes the connection and closes its done channel. It is only
// called by the GET goroutine that owns the connection.
func (h *Handler) unregister(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	close(c.done)
}

func (h *Handler) lookup(id string) (*conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

func (h *Handler) handleGetStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		h.log.WarnContext(ctx, "http.get.not_acceptable")
		writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	id := uuid.NewString()
	ctx = logctx.WithConnData(ctx, &logctx.ConnData{ConnID: id, Server: h.name, Transport: "sse"})
	c := &conn{
		id:       id,
		eng:      h.newEngine(id),
		inbound:  make(chan []byte, h.queueSize),
		outbound: make(chan []byte, h.queueSize),
		done:     make(chan struct{}),
	}
	if err := h.register(c); err != nil {
		h.log.InfoContext(ctx, "sse.stream.rejected", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	defer h.unregister(c)

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	endpoint := h.MessagesPath() + "?" + sessionIDParam + "=" + url.QueryEscape(id)
	if err := writeSSEEvent(wf, "endpoint", []byte(endpoint)); err != nil {
		h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "sse.stream.start")

	// Handlers outlive the GET: they run on a context that keeps the log
	// data but is never cancelled, and their results are dropped once the
	// connection is gone.
	go h.work(context.WithoutCancel(ctx), c)

	var changed <-chan struct{}
	if res := h.srv.Resources(); res != nil {
		sub := res.Subscriber()
		defer res.Unsubscribe(sub)
		changed = sub
	}

	var tick <-chan time.Time
	if h.keepAlive > 0 {
		ticker := h.clock.NewTicker(h.keepAlive)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
			return
		case <-h.closed:
			h.log.InfoContext(ctx, "sse.stream.shutdown", slog.Duration("dur", time.Since(start)))
			return
		case payload := <-c.outbound:
			if err := writeSSEEvent(wf, "message", payload); err != nil {
				h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return
			}
			h.log.DebugContext(ctx, "sse.message.deliver")
		case _, ok := <-changed:
			if !ok {
				changed = nil
				continue
			}
			payload, err := json.Marshal(engine.ListChangedNotification())
			if err != nil {
				h.log.ErrorContext(ctx, "sse.notification.encode_fail", slog.String("err", err.Error()))
				continue
			}
			if err := writeSSEEvent(wf, "message", payload); err != nil {
				h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return
			}
			h.log.InfoContext(ctx, "sse.resources.list_changed")
		case <-tick:
			if err := writeSSEComment(wf, "keepalive"); err != nil {
				h.log.InfoContext(ctx, "sse.keepalive.fail", slog.String("err", err.Error()))
				return
			}
		}
	}
}

// work feeds inbound messages to the connection's engine one at a time.
func (h *Handler) work(ctx context.Context, c *conn) {
	for {
		select {
		case <-c.done:
			return
		case raw := <-c.inbound:
			res := c.eng.Handle(ctx, raw)
			if res == nil {
				continue
			}
			payload, err := json.Marshal(res)
			if err != nil {
				h.log.ErrorContext(ctx, "sse.response.encode_fail", slog.String("err", err.Error()))
				continue
			}
			select {
			case c.outbound <- payload:
			case <-c.done:
				h.log.InfoContext(ctx, "sse.response.dropped")
				return
			}
		}
	}
}

func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := r.URL.Query().Get(sessionIDParam)
	if id == "" {
		h.log.InfoContext(ctx, "http.post.session_missing")
		writeJSONError(w, http.StatusBadRequest, "missing sessionId query parameter")
		return
	}
	ctx = logctx.WithConnData(ctx, &logctx.ConnData{ConnID: id, Server: h.name, Transport: "sse"})

	c, ok := h.lookup(id)
	if !ok {
		h.log.InfoContext(ctx, "session.load.miss")
		writeJSONError(w, http.StatusNotFound, ErrUnknownSession.Error())
		return
	}

	body, status, err := readJSONBody(w, r)
	if err != nil {
		h.log.InfoContext(ctx, "http.post.rejected", slog.Int("status", status), slog.String("err", err.Error()))
		writeJSONError(w, status, err.Error())
		return
	}

	select {
	case c.inbound <- body:
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "Accepted")
	case <-c.done:
		h.log.InfoContext(ctx, "session.closed")
		writeJSONError(w, http.StatusNotFound, ErrUnknownSession.Error())
	case <-ctx.Done():
		h.log.InfoContext(ctx, "http.post.abandoned")
	}
}

func (h *Handler) handlePostStateless(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	body, status, err := readJSONBody(w, r)
	if err != nil {
		h.log.InfoContext(ctx, "http.post.rejected", slog.Int("status", status), slog.String("err", err.Error()))
		writeJSONError(w, status, err.Error())
		return
	}

	id := uuid.NewString()
	ctx = logctx.WithConnData(ctx, &logctx.ConnData{ConnID: id, Server: h.name, Transport: "http"})
	res := h.newEngine(id).Handle(ctx, body)
	if res == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.log.ErrorContext(ctx, "http.response.write_fail", slog.String("err", err.Error()))
		return
	}
	h.log.DebugContext(ctx, "http.post.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}

// readJSONBody enforces the JSON content type and the body size limit. On
// failure it returns the HTTP status to answer with.
func readJSONBody(w http.ResponseWriter, r *http.Request) ([]byte, int, error) {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		return nil, http.StatusUnsupportedMediaType, errors.New("content-type must be application/json")
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
		}
		return nil, http.StatusBadRequest, fmt.Errorf("failed to read body: %w", err)
	}
	return body, 0, nil
}
