package app

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-retail-demo/internal/config"
	"github.com/ggoodman/mcp-retail-demo/internal/logctx"
	"github.com/lmittmann/tint"
)

// NewLogger builds the process logger for cfg, writing to w. Records are
// decorated with request and connection data from the context.
func NewLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	var h slog.Handler
	switch cfg.LogFormat {
	case config.LogFormatText:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	case config.LogFormatDev:
		h = tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.Kitchen})
	default:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	return logctx.Wrap(slog.New(h)), nil
}
