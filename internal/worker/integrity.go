package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Checker validates a storage backend's persisted state
type Checker interface {
	Check(ctx context.Context) error
}

// FailureFunc is called with every failed check
type FailureFunc func(err error)

// IntegrityChecker periodically re-validates the JSON storage file
type IntegrityChecker struct {
	checker   Checker
	interval  time.Duration
	onFailure FailureFunc
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewIntegrityChecker creates a new integrity checker
func NewIntegrityChecker(
	checker Checker,
	interval time.Duration,
	onFailure FailureFunc,
	logger *slog.Logger,
) *IntegrityChecker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &IntegrityChecker{
		checker:   checker,
		interval:  interval,
		onFailure: onFailure,
		logger:    logger,
	}
}

// Start begins the background check loop
func (w *IntegrityChecker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	w.logger.Info("integrity checker started", "interval", w.interval)

	go w.run(ctx, stopCh, doneCh)
	return nil
}

// Stop stops the background check loop and waits for it to exit
func (w *IntegrityChecker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("integrity checker stopped")
	return nil
}

func (w *IntegrityChecker) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single check, reporting any failure
func (w *IntegrityChecker) RunOnce(ctx context.Context) error {
	err := w.checker.Check(ctx)
	if err == nil {
		w.logger.Debug("storage integrity check passed")
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	w.logger.Error("storage integrity check failed", "error", err)
	if w.onFailure != nil {
		w.onFailure(err)
	}
	return err
}

// IsRunning returns whether the checker loop is active
func (w *IntegrityChecker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
