// Command fxhost serves the reference effect engine over stdin/stdout using
// the bridge protocol. It is spawned by fxquickstart with engine.kind=bridge.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/e7canasta/effect-quickstart/internal/engine/bridge"
	"github.com/e7canasta/effect-quickstart/internal/engine/soft"
)

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// stdout carries protocol frames; logs go to stderr where the client
	// re-logs them.
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bridge.Serve(ctx, os.Stdin, os.Stdout, soft.New()); err != nil {
		slog.Error("engine host failed", "error", err)
		stop()
		os.Exit(1)
	}
}
