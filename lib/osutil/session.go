package osutil

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Returns a context that is cancelled when Ctrl+C is pressed or the process
// is asked to terminate. A second signal exits right away.
func SignalContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		slog.Warn("cancellation requested, finishing the current index", "signal", sig.String())
		cancel()
		<-sigs
		os.Exit(130)
	}()

	return ctx
}
