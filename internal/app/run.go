package app

import (
	"context"
	"os/signal"
	"syscall"

	"chatlink/internal/engine"
)

// Run is the CLI entrypoint used by cmd/chatlink.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogPretty)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := New(ctx, cfg, log, engine.NopListener{})
	if err != nil {
		return err
	}

	return rt.Run(ctx)
}
