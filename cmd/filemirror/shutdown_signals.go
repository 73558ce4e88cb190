package main

import (
	"context"
	"os"
	"sync/atomic"

	"filemirror/internal/logging"
)

// forceExit ends the process when a second signal arrives while shutdown
// is still running. Replaced in tests.
var forceExit = func() {
	os.Exit(exitCodeInterrupted)
}

// watchShutdownSignals cancels the command on the first signal and calls
// force on the second one.
func watchShutdownSignals(logger *logging.Logger, shutdownCancel context.CancelFunc, signalCh <-chan os.Signal, force func()) func() {
	if signalCh == nil {
		return func() {}
	}

	done := make(chan struct{})
	var stopOnce atomic.Bool
	var received atomic.Int32

	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signalCh:
				if !ok {
					return
				}
				fields := map[string]string{}
				if sig != nil {
					fields["signal"] = sig.String()
				}
				if received.Add(1) == 1 {
					logger.Info("shutdown signal received", fields)
					if shutdownCancel != nil {
						shutdownCancel()
					}
					continue
				}
				logger.Warn("second signal received, exiting", fields)
				if force != nil {
					force()
				}
				return
			}
		}
	}()

	return func() {
		if stopOnce.CompareAndSwap(false, true) {
			close(done)
		}
	}
}
