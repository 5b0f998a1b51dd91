// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// shutdownRequestChannel is used to initiate shutdown from one of the
// subsystems using the same code paths as when an interrupt signal is
// received.
var shutdownRequestChannel = make(chan struct{})

// interruptSignals defines the signals that trigger a clean shutdown.
var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// withShutdownCancel creates a copy of a context that is canceled whenever
// shutdown is requested through an interrupt signal or from an explicit
// shutdown request.
func withShutdownCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-shutdownRequested
		cancel()
	}()
	return ctx
}

// shutdownRequested is closed by shutdownListener on the first interrupt
// signal or shutdown request.
var shutdownRequested = make(chan struct{})

// requestShutdown signals for starting the clean shutdown of the process
// through an internal component instead of a system signal.
func requestShutdown() {
	shutdownRequestChannel <- struct{}{}
}

// shutdownListener listens for interrupt signals and shutdown requests from
// shutdownRequestChannel. It signals completion of the first shutdown request
// by closing shutdownRequested, then blocks, reporting any subsequent
// requests until the process exits.
func shutdownListener() {
	interruptChannel := make(chan os.Signal, 1)
	signal.Notify(interruptChannel, interruptSignals...)

	select {
	case sig := <-interruptChannel:
		log.Infof("Received signal (%s). Shutting down...", sig)
	case <-shutdownRequestChannel:
		log.Info("Shutdown requested. Shutting down...")
	}
	close(shutdownRequested)

	for {
		select {
		case <-interruptChannel:
		case <-shutdownRequestChannel:
		}
		log.Info("Shutdown signaled. Already shutting down...")
	}
}
