package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/escalation"
)

const shutdownTimeout = 30 * time.Second

// Escalator runs the escalation sweeper as a long-lived service.
type Escalator struct {
	id      string
	sweeper *escalation.Sweeper
	logger  *slog.Logger
}

// NewEscalator creates a new Escalator instance.
func NewEscalator(id string, sweeper *escalation.Sweeper, logger *slog.Logger) *Escalator {
	return &Escalator{
		id:      id,
		sweeper: sweeper,
		logger:  logger.With("module", "escalator"),
	}
}

// Start begins sweeping and blocks until the context is cancelled or a
// termination signal arrives.
func (e *Escalator) Start(ctx context.Context) error {
	eCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.logger.Info("Starting escalator")

	if err := e.sweeper.Start(eCtx); err != nil {
		return err
	}

	e.handleSignals(cancel)

	<-eCtx.Done()

	return nil
}

// handleSignals sets up signal handling for graceful shutdown.
func (e *Escalator) handleSignals(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		e.logger.Info("Received signal", "signal", sig)
		e.logger.Info("Shutting down gracefully...")

		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()

		if err := e.sweeper.Stop(stopCtx); err != nil {
			e.logger.Error("Failed to stop sweeper", "error", err)
		}

		cancel()
	}()
}
