package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SweepService repairs transactions the change stream missed: settled sales
// whose deduction marker never landed and voided sales stuck without
// compensation (dropped notifications, process restarts). The persisted
// markers make the repair idempotent against a concurrently running listener.
type SweepService struct {
	store     QueryStore
	processor *Processor
	grace     time.Duration
	batchSize int32
}

func NewSweepService(store QueryStore, processor *Processor, grace time.Duration, batchSize int32) *SweepService {
	return &SweepService{
		store:     store,
		processor: processor,
		grace:     grace,
		batchSize: batchSize,
	}
}

// Run performs one sweep pass over both stuck paths.
func (s *SweepService) Run(ctx context.Context) error {
	q := s.store.Queries()

	sales, err := q.ListUnsweptSales(ctx, s.grace, s.batchSize)
	if err != nil {
		return fmt.Errorf("list unswept sales: %w", err)
	}
	voids, err := q.ListUnsweptVoids(ctx, s.grace, s.batchSize)
	if err != nil {
		return fmt.Errorf("list unswept voids: %w", err)
	}

	repaired, failed := 0, 0
	for _, id := range append(sales, voids...) {
		action, err := s.processor.Reprocess(ctx, id)
		if err != nil {
			failed++
			zap.L().Error("sweep reprocess failed",
				zap.String("transaction_id", id),
				zap.Error(err),
			)
			continue
		}
		repaired++
		zap.L().Info("sweep repaired stuck transaction",
			zap.String("transaction_id", id),
			zap.String("action", action),
		)
	}

	if repaired > 0 || failed > 0 {
		zap.L().Warn("sweep found transactions missed by the change stream",
			zap.Int("repaired", repaired),
			zap.Int("failed", failed),
		)
	}
	return nil
}
