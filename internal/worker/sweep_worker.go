package worker

import (
	"context"
	"sync"
	"time"

	"github.com/kemiade/salon-stock-engine/internal/observability"
	"github.com/kemiade/salon-stock-engine/internal/service"
	"go.uber.org/zap"
)

// SweepWorker polls for transactions stuck past the grace period and replays
// them through the processor. The persisted markers keep a sweep pass safe
// against a concurrently running listener.
type SweepWorker struct {
	sweep        *service.SweepService
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewSweepWorker(sweep *service.SweepService) *SweepWorker {
	return &SweepWorker{
		sweep:        sweep,
		pollInterval: time.Minute,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *SweepWorker) WithPollInterval(interval time.Duration) *SweepWorker {
	w.pollInterval = interval
	return w
}

// Start runs the loop until Stop is called or the context is canceled.
func (w *SweepWorker) Start(ctx context.Context) {
	zap.L().Info("sweep worker starting", zap.Duration("interval", w.pollInterval))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("sweep worker stopping: context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("sweep worker stopping: stop requested")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop signals the worker to stop. Safe to call more than once.
func (w *SweepWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Run starts the worker in a goroutine and returns its stop function.
func (w *SweepWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce runs a single sweep pass immediately.
func (w *SweepWorker) ProcessOnce(ctx context.Context) error {
	return w.sweep.Run(ctx)
}

func (w *SweepWorker) runOnce(ctx context.Context) {
	if err := w.sweep.Run(ctx); err != nil {
		observability.IncrementWorkerRun("sweep", "error")
		zap.L().Error("sweep pass failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("sweep", "ok")
}
