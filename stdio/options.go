package stdio

import (
	"io"
	"log/slog"

	"github.com/ggoodman/mcp-retail-demo/internal/engine"
)

// Option customizes a Handler.
type Option func(*Handler)

// WithIO sets the reader and writer for the handler.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger. Logs must not go to the writer the
// protocol uses.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithServerName labels logs and metrics. Defaults to the server's info name.
func WithServerName(name string) Option {
	return func(h *Handler) { h.name = name }
}

// WithObserver forwards per-message outcomes to o.
func WithObserver(o engine.Observer) Option {
	return func(h *Handler) { h.observer = o }
}
