package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

// shutdownContext cancels on the first SIGINT/SIGTERM, giving the engine a
// chance to finish an in-flight reconciliation tick, and force-exits on a
// second signal.
func shutdownContext(parent context.Context, log zerolog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			log.Warn().Str("signal", sig.String()).Msg("forcing exit")
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
