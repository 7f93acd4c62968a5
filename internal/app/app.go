// Package app assembles the retail demo process from its configuration:
// session and cart stores, the four retail servers, the multiplexer, the
// REST surface and metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ggoodman/mcp-retail-demo/cart"
	"github.com/ggoodman/mcp-retail-demo/catalog"
	"github.com/ggoodman/mcp-retail-demo/internal/config"
	"github.com/ggoodman/mcp-retail-demo/internal/metrics"
	"github.com/ggoodman/mcp-retail-demo/multiplex"
	"github.com/ggoodman/mcp-retail-demo/restapi"
	"github.com/ggoodman/mcp-retail-demo/retail"
	"github.com/ggoodman/mcp-retail-demo/sessions"
	"github.com/ggoodman/mcp-retail-demo/sessions/memorystore"
	"github.com/ggoodman/mcp-retail-demo/sessions/redisstore"
	"github.com/ggoodman/mcp-retail-demo/stdio"
	"github.com/ggoodman/mcp-retail-demo/streaminghttp"
	"github.com/ggoodman/mcp-retail-demo/widgets"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Option configures an App.
type Option func(*App)

// WithSessionStore replaces the store New would build from the config.
func WithSessionStore(s sessions.Store) Option {
	return func(a *App) { a.store = s }
}

// WithClock overrides the clock used by stores, timers and keepalives.
func WithClock(c clockwork.Clock) Option {
	return func(a *App) { a.clock = c }
}

// App is one configured process.
type App struct {
	cfg   *config.Config
	log   *slog.Logger
	clock clockwork.Clock

	store   sessions.Store
	closers []io.Closer
	auto    *sessions.AutoAuthenticator
	carts   *cart.Store
	widgets *widgets.Set
	deps    retail.Deps
	mux     *multiplex.Mux
	metrics *metrics.Metrics
	rest    *restapi.Handler
	handler http.Handler
}

// New wires every component described by cfg. Close releases what New
// opened.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, log: log, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	if err := a.buildStore(ctx); err != nil {
		return err
	}
	if a.cfg.AutoAuthDelay > 0 {
		a.auto = sessions.NewAutoAuthenticator(a.store,
			sessions.WithAutoAuthClock(a.clock),
			sessions.WithAutoAuthLogger(a.log),
		)
	}
	a.carts = cart.NewStore(a.cfg.Policy())

	searcher, err := a.buildCatalog()
	if err != nil {
		return err
	}

	a.widgets, err = widgets.New(widgets.WithDir(a.cfg.WidgetsDir), widgets.WithLogger(a.log))
	if err != nil {
		return fmt.Errorf("load widgets: %w", err)
	}

	a.deps = retail.Deps{
		Sessions:      a.store,
		Carts:         a.carts,
		Catalog:       searcher,
		Widgets:       a.widgets,
		AutoAuth:      a.auto,
		AutoAuthDelay: a.cfg.AutoAuthDelay,
		BaseURL:       a.toolBaseURL(),
		Clock:         a.clock,
		Logger:        a.log,
	}

	a.metrics = metrics.New()
	if mem, ok := a.store.(*memorystore.Store); ok {
		if err := a.metrics.TrackSessions(mem.Len); err != nil {
			return err
		}
	}

	a.rest, err = restapi.New(a.store,
		restapi.WithLogger(a.log),
		restapi.WithCarts(a.carts),
		restapi.WithWidgets(a.widgets),
		restapi.WithAutoAuth(a.auto),
		restapi.WithBaseURL(a.cfg.BaseURL),
		restapi.WithClock(a.clock),
		restapi.WithEndpoints(a.endpoints),
	)
	if err != nil {
		return err
	}

	a.mux = multiplex.New(
		multiplex.WithLogger(a.log),
		multiplex.WithAllowedOrigins(a.cfg.AllowedOrigins()...),
		multiplex.WithFallback(a.rest),
		multiplex.WithHandlerOptions(
			streaminghttp.WithKeepAlive(a.cfg.KeepAliveInterval),
			streaminghttp.WithObserver(a.metrics),
			streaminghttp.WithClock(a.clock),
		),
	)
	mounts, err := config.LoadMounts(a.cfg.MountsFile)
	if err != nil {
		return err
	}
	for _, m := range mounts {
		srv, err := retail.NewServer(m.Server, a.deps)
		if err != nil {
			return fmt.Errorf("mount %s: %w", m.Prefix, err)
		}
		h, err := a.mux.Mount(m.Prefix, m.Server, srv)
		if err != nil {
			return err
		}
		if err := a.metrics.TrackConnections(m.Server, m.Prefix, h.ActiveConnections); err != nil {
			return err
		}
	}

	root := http.NewServeMux()
	root.Handle("GET /metrics", a.metrics.Handler())
	root.Handle("/", a.mux)
	a.handler = root
	return nil
}

func (a *App) buildStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.cfg.RedisAddr == "" {
		a.store = memorystore.New(memorystore.WithClock(a.clock), memorystore.WithTTL(a.cfg.SessionTTL))
		return nil
	}
	rs, err := redisstore.New(ctx, redisstore.Config{
		RedisAddr: a.cfg.RedisAddr,
		KeyPrefix: a.cfg.RedisKeyPrefix,
		TTL:       a.cfg.SessionTTL,
	}, redisstore.WithClock(a.clock))
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	a.store = rs
	a.closers = append(a.closers, rs)
	a.log.Info("app.store.redis", slog.String("addr", a.cfg.RedisAddr))
	return nil
}

func (a *App) buildCatalog() (catalog.Searcher, error) {
	if a.cfg.SearchAPIURL == "" {
		return catalog.NewFixture(), nil
	}
	s, err := catalog.NewHTTPSearcher(a.cfg.SearchAPIURL,
		catalog.WithAPIKey(a.cfg.SearchAPIKey),
		catalog.WithTimeout(a.cfg.SearchTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("search api: %w", err)
	}
	return s, nil
}

// toolBaseURL is the base for links in tool results. Tools have no request
// to derive it from, so it falls back to the local listener.
func (a *App) toolBaseURL() string {
	if a.cfg.BaseURL != "" {
		return a.cfg.BaseURL
	}
	host := a.cfg.Host
	if host == "" {
		host = "localhost"
	}
	return "http://" + host + ":" + strconv.Itoa(a.cfg.Port)
}

func (a *App) endpoints() []restapi.Endpoint {
	mounts := a.mux.Mounts()
	out := make([]restapi.Endpoint, len(mounts))
	for i, m := range mounts {
		out[i] = restapi.Endpoint{Name: m.Name, Path: m.Prefix}
	}
	return out
}

// Handler serves the whole HTTP surface: MCP mounts, REST and /metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Widgets exposes the widget set so callers can watch its directory.
func (a *App) Widgets() *widgets.Set { return a.widgets }

// Sessions returns the shared session store.
func (a *App) Sessions() sessions.Store { return a.store }

// Close stops timers and releases stores. It is safe to call more than once.
func (a *App) Close() error {
	if a.auto != nil {
		a.auto.Stop()
	}
	if a.mux != nil {
		a.mux.Close()
	}
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Run serves HTTP on the configured address until ctx is cancelled, then
// shuts down gracefully. The widget watcher and session sweeper run
// alongside the listener.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("app.http.listen", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		// SSE streams never finish on their own; end them before Shutdown
		// waits for active requests.
		a.mux.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		a.log.Info("app.http.shutdown")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.widgets.Watch(ctx) })
	g.Go(func() error { return a.Sweep(ctx) })
	return g.Wait()
}

// ServeStdio serves the named retail server over stdin and stdout until EOF
// or ctx is cancelled.
func (a *App) ServeStdio(ctx context.Context, name string, r io.Reader, w io.Writer) error {
	srv, err := retail.NewServer(name, a.deps)
	if err != nil {
		return err
	}
	h := stdio.NewHandler(srv,
		stdio.WithIO(r, w),
		stdio.WithLogger(a.log),
		stdio.WithServerName(name),
		stdio.WithObserver(a.metrics),
	)
	// EOF on the input ends the process, so it also stops the helpers.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.widgets.Watch(gctx) })
	g.Go(func() error { return a.Sweep(gctx) })
	g.Go(func() error {
		defer cancel()
		if err := h.Serve(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// Sweep removes expired sessions every SessionSweepInterval until ctx is
// cancelled. A zero interval or TTL disables it.
func (a *App) Sweep(ctx context.Context) error {
	if a.cfg.SessionSweepInterval <= 0 || a.cfg.SessionTTL <= 0 {
		return nil
	}
	t := a.clock.NewTicker(a.cfg.SessionSweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			n, err := a.store.SweepExpired(ctx, a.cfg.SessionTTL)
			if err != nil {
				a.log.ErrorContext(ctx, "app.sweep.fail", slog.String("err", err.Error()))
				continue
			}
			if n > 0 {
				a.log.InfoContext(ctx, "app.sweep.ok", slog.Int("removed", n))
			}
		}
	}
}
