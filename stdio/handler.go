package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ggoodman/mcp-retail-demo/internal/engine"
	"github.com/ggoodman/mcp-retail-demo/internal/logctx"
	"github.com/ggoodman/mcp-retail-demo/mcpservice"
	"github.com/google/uuid"
)

// maxLineBytes bounds a single inbound message.
const maxLineBytes = 4 << 20

// Handler is a single-connection transport that reads JSON-RPC messages from
// an io.Reader and writes responses to an io.Writer, one message per line.
// By default it uses os.Stdin and os.Stdout.
type Handler struct {
	srv      *mcpservice.Server
	r        io.Reader
	w        io.Writer
	log      *slog.Logger
	name     string
	observer engine.Observer
}

// NewHandler constructs a stdio Handler for srv and applies options.
func NewHandler(srv *mcpservice.Server, opts ...Option) *Handler {
	h := &Handler{
		srv:  srv,
		r:    os.Stdin,
		w:    os.Stdout,
		log:  slog.Default(),
		name: srv.Info().Name,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logctx.Wrap(h.log)
	return h
}

// Serve runs the event loop until the reader reaches EOF, the context is
// cancelled, or a write fails. EOF is a clean shutdown and returns nil.
// Serve must be called at most once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	id := uuid.NewString()
	ctx = logctx.WithConnData(ctx, &logctx.ConnData{ConnID: id, Server: h.name, Transport: "stdio"})
	eng := engine.NewEngine(h.srv,
		engine.WithConnID(id),
		engine.WithServerName(h.name),
		engine.WithLogger(h.log),
		engine.WithObserver(h.observer),
	)

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		readErr <- h.read(ctx, lines)
	}()

	var changed <-chan struct{}
	if res := h.srv.Resources(); res != nil {
		sub := res.Subscriber()
		defer res.Unsubscribe(sub)
		changed = sub
	}

	enc := json.NewEncoder(h.w)
	h.log.InfoContext(ctx, "stdio.serve.start")
	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "stdio.serve.cancelled")
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				h.log.ErrorContext(ctx, "stdio.read.fail", slog.String("err", err.Error()))
				return fmt.Errorf("stdio: read: %w", err)
			}
			h.log.InfoContext(ctx, "stdio.serve.eof")
			return nil
		case line := <-lines:
			res := eng.Handle(ctx, line)
			if res == nil {
				continue
			}
			// Encode appends the newline that frames the message.
			if err := enc.Encode(res); err != nil {
				h.log.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
				return fmt.Errorf("stdio: write: %w", err)
			}
		case _, ok := <-changed:
			if !ok {
				changed = nil
				continue
			}
			if err := enc.Encode(engine.ListChangedNotification()); err != nil {
				h.log.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
				return fmt.Errorf("stdio: write: %w", err)
			}
			h.log.InfoContext(ctx, "stdio.resources.list_changed")
		}
	}
}

// read splits the input into lines and hands each non-blank one to out. It
// returns nil at EOF.
func (h *Handler) read(ctx context.Context, out chan<- []byte) error {
	sc := bufio.NewScanner(h.r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		msg := make([]byte, len(line))
		copy(msg, line)
		select {
		case out <- msg:
		case <-ctx.Done():
			return nil
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
