package system

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// OsSignalContext returns a context that is cancelled when the process
// receives SIGINT or SIGTERM, or when cancel is called.
func OsSignalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	// Create signals channel to run the app until interrupted
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
