package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// shutdownContext is signal.NotifyContext with an escape hatch: the first
// SIGINT or SIGTERM cancels ctx, the second exits the process. stop cancels
// ctx and releases the signal handler; callers defer it.
func shutdownContext(parent context.Context, logger *slog.Logger) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	released := make(chan struct{})

	go func() {
		defer signal.Stop(sigCh)

		for received := 0; ; {
			select {
			case sig := <-sigCh:
				received++

				if received > 1 {
					logger.Warn("second signal, exiting now", slog.String("signal", sig.String()))
					os.Exit(1)
				}

				logger.Info("signal received, stopping", slog.String("signal", sig.String()))
				cancel()
			case <-released:
				return
			}
		}
	}()

	var once sync.Once

	return ctx, func() {
		once.Do(func() { close(released) })
		cancel()
	}
}
