// Package widgets serves the HTML components rendered by widget-capable
// hosts alongside tool results.
//
// The components are embedded in the binary. A directory may overlay them
// file by file; when one is configured, Watch reloads changed files and
// swaps the new contents into every resources container built from the Set,
// which in turn notifies connected clients that the resource list changed.
package widgets

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/mcp-retail-demo/mcp"
	"github.com/ggoodman/mcp-retail-demo/mcpservice"
)

//go:embed assets/*.html
var assets embed.FS

// Widget file names.
const (
	Auth       = "auth.html"
	Products   = "products.html"
	Cart       = "cart.html"
	Membership = "membership.html"
)

// Widget describes one component.
type Widget struct {
	Name        string
	Title       string
	Description string
}

// URI is the resource URI tools reference in their output template.
func (w Widget) URI() string { return mcp.ResourceURISchemeWidget + w.Name }

// URI returns the resource URI for the widget file name.
func URI(name string) string { return mcp.ResourceURISchemeWidget + name }

var builtin = []Widget{
	{Name: Auth, Title: "Target sign in", Description: "Sign-in form that completes authentication for a session."},
	{Name: Products, Title: "Product results", Description: "Carousel of products returned by a search."},
	{Name: Cart, Title: "Shopping cart", Description: "Cart contents with totals and order status."},
	{Name: Membership, Title: "Target Circle", Description: "Circle membership tier and member offers."},
}

// Widgets lists the built-in components.
func Widgets() []Widget {
	out := make([]Widget, len(builtin))
	copy(out, builtin)
	return out
}

func lookup(name string) (Widget, bool) {
	for _, w := range builtin {
		if w.Name == name {
			return w, true
		}
	}
	return Widget{}, false
}

// Option configures a Set.
type Option func(*Set)

// WithDir overlays files from dir on the embedded components.
func WithDir(dir string) Option {
	return func(s *Set) { s.dir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Set) { s.log = l }
}

// Set holds the current HTML of every widget.
type Set struct {
	dir string
	log *slog.Logger

	mu      sync.RWMutex
	html    map[string]string
	targets []target
}

type target struct {
	rc    *mcpservice.ResourcesContainer
	names []string
}

// New loads every widget.
func New(opts ...Option) (*Set, error) {
	s := &Set{log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	html, err := s.load()
	if err != nil {
		return nil, err
	}
	s.html = html
	return s, nil
}

func (s *Set) load() (map[string]string, error) {
	out := make(map[string]string, len(builtin))
	for _, w := range builtin {
		b, err := fs.ReadFile(assets, "assets/"+w.Name)
		if err != nil {
			return nil, fmt.Errorf("read embedded widget %s: %w", w.Name, err)
		}
		if s.dir != "" {
			ob, err := os.ReadFile(filepath.Join(s.dir, w.Name))
			switch {
			case err == nil:
				b = ob
			case !errors.Is(err, fs.ErrNotExist):
				return nil, fmt.Errorf("read widget override %s: %w", w.Name, err)
			}
		}
		out[w.Name] = string(b)
	}
	return out, nil
}

// HTML returns the current markup for a widget file name.
func (s *Set) HTML(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.html[name]
	return h, ok
}

// Resources returns the named widgets as MCP resources. Unknown names are
// skipped.
func (s *Set) Resources(names ...string) []mcpservice.StaticResource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resourcesLocked(names)
}

func (s *Set) resourcesLocked(names []string) []mcpservice.StaticResource {
	out := make([]mcpservice.StaticResource, 0, len(names))
	for _, name := range names {
		w, ok := lookup(name)
		if !ok {
			continue
		}
		res := mcp.Resource{
			URI:         w.URI(),
			Name:        w.Name,
			Title:       w.Title,
			Description: w.Description,
			MimeType:    mcp.MimeTypeSkybridgeHTML,
			Meta: map[string]any{
				mcp.MetaWidgetDescription:   w.Description,
				mcp.MetaWidgetPrefersBorder: true,
			},
		}
		out = append(out, mcpservice.TextResource(res, s.html[name]))
	}
	return out
}

// Container builds a resources container holding the named widgets and keeps
// it current across reloads.
func (s *Set) Container(names ...string) *mcpservice.ResourcesContainer {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc := mcpservice.NewResourcesContainer(s.resourcesLocked(names)...)
	s.targets = append(s.targets, target{rc: rc, names: names})
	return rc
}

// Reload re-reads every widget and refreshes the containers built by
// Container. On error the previous contents stay in place.
func (s *Set) Reload() error {
	html, err := s.load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.html = html
	targets := make([]target, len(s.targets))
	copy(targets, s.targets)
	updates := make([][]mcpservice.StaticResource, len(targets))
	for i, t := range targets {
		updates[i] = s.resourcesLocked(t.names)
	}
	s.mu.Unlock()

	for i, t := range targets {
		t.rc.Replace(updates[i]...)
	}
	s.log.Info("widgets.reload.ok", slog.Int("containers", len(targets)))
	return nil
}

// Watch reloads the set whenever a widget file in the overlay directory is
// written, created, removed or renamed. It returns when ctx is done. With
// no overlay directory it returns immediately.
func (s *Set) Watch(ctx context.Context) error {
	if s.dir == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("widgets watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.log.Info("widgets.watch.start", slog.String("dir", s.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if _, known := lookup(filepath.Base(ev.Name)); !known {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.log.Warn("widgets.reload.fail", slog.String("file", ev.Name), slog.String("err", err.Error()))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("widgets.watch.error", slog.String("err", err.Error()))
		}
	}
}
