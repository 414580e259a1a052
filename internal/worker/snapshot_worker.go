// Package worker hosts the background loops: the weekly snapshot recorder and
// the sweep that repairs transactions the change stream missed.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/kemiade/salon-stock-engine/internal/observability"
	"github.com/kemiade/salon-stock-engine/internal/service"
	"go.uber.org/zap"
)

// SnapshotWorker periodically copies live stock into the week slot for every
// configured branch. Re-running within the same week is harmless; the slot is
// simply overwritten with the current value.
type SnapshotWorker struct {
	snapshots *service.SnapshotService
	branches  []string
	actor     string
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewSnapshotWorker(snapshots *service.SnapshotService, branches []string, actor string) *SnapshotWorker {
	return &SnapshotWorker{
		snapshots: snapshots,
		branches:  branches,
		actor:     actor,
		interval:  7 * 24 * time.Hour,
		stopCh:    make(chan struct{}),
	}
}

// WithInterval sets the recording interval.
func (w *SnapshotWorker) WithInterval(interval time.Duration) *SnapshotWorker {
	w.interval = interval
	return w
}

// Start runs the loop until Stop is called or the context is canceled.
func (w *SnapshotWorker) Start(ctx context.Context) {
	zap.L().Info("snapshot worker starting",
		zap.Duration("interval", w.interval),
		zap.Strings("branches", w.branches),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("snapshot worker stopping: context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("snapshot worker stopping: stop requested")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop signals the worker to stop. Safe to call more than once.
func (w *SnapshotWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Run starts the worker in a goroutine and returns its stop function.
func (w *SnapshotWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce records the current week for every branch immediately.
func (w *SnapshotWorker) ProcessOnce(ctx context.Context) {
	w.runOnce(ctx)
}

func (w *SnapshotWorker) runOnce(ctx context.Context) {
	result := "ok"
	for _, branch := range w.branches {
		report, err := w.snapshots.RecordCurrentWeek(ctx, branch, w.actor)
		if err != nil {
			result = "error"
			zap.L().Error("snapshot run failed for branch",
				zap.String("branch_id", branch),
				zap.Error(err),
			)
			continue
		}
		if len(report.Errors) > 0 {
			result = "partial"
		}
	}
	observability.IncrementWorkerRun("snapshot", result)
}
