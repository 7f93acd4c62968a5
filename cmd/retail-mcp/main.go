// Command retail-mcp serves the retail demo MCP servers over HTTP, or a
// single server over stdin/stdout when STDIO_SERVER is set.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ggoodman/mcp-retail-demo/internal/app"
	"github.com/ggoodman/mcp-retail-demo/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "retail-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries protocol frames in stdio mode.
	log, err := app.NewLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("app.close.fail", slog.String("err", err.Error()))
		}
	}()

	if cfg.StdioServer != "" {
		log.Info("app.stdio.start", slog.String("server", cfg.StdioServer))
		return a.ServeStdio(ctx, cfg.StdioServer, os.Stdin, os.Stdout)
	}
	return a.Run(ctx)
}
