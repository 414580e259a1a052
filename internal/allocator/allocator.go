// Package allocator drains receiving lots oldest-first to satisfy a stock
// deduction.
package allocator

import (
	"context"
	"fmt"

	"github.com/kemiade/salon-stock-engine/internal/models"
)

// BatchStore is the slice of the query set the allocator needs. It must be
// transaction-scoped by the caller: ListBatchesForUpdate takes row locks that
// serialize concurrent allocations for the same branch+product until commit.
type BatchStore interface {
	ListBatchesForUpdate(ctx context.Context, branchID, productID string) ([]models.Batch, error)
	UpdateBatchRemaining(ctx context.Context, id string, remaining int) error
}

// Result describes one allocation attempt.
type Result struct {
	// BatchesUsed lists every lot touched, oldest first, with the amount
	// taken and what the lot holds afterwards.
	BatchesUsed []models.BatchUse
	Requested   int
	// Satisfied is how much the lots actually covered. Satisfied < Requested
	// means the branch ran dry mid-allocation; the caller surfaces that as an
	// under-allocation warning.
	Satisfied int
	// Available is the total held across all lots before this allocation.
	Available int
	// FallbackRequired is set when the product has no lots at all. Nothing is
	// mutated in that case; the caller deducts from the aggregate record.
	FallbackRequired bool
}

// Shortfall is the quantity the lots could not cover.
func (r Result) Shortfall() int {
	return r.Requested - r.Satisfied
}

// Allocate walks the branch+product lots in (received_at, seq) order and
// deducts up to quantity across them. Lots only ever decrease and floor at
// zero; a retry after a partial failure re-reads current remainings, so
// draining an already-drained lot is a no-op.
func Allocate(ctx context.Context, store BatchStore, branchID, productID string, quantity int) (Result, error) {
	res := Result{Requested: quantity}
	if quantity <= 0 {
		return res, fmt.Errorf("allocation quantity must be positive, got %d", quantity)
	}

	batches, err := store.ListBatchesForUpdate(ctx, branchID, productID)
	if err != nil {
		return res, fmt.Errorf("load batches for %s/%s: %w", branchID, productID, err)
	}
	if len(batches) == 0 {
		res.FallbackRequired = true
		return res, nil
	}

	for _, batch := range batches {
		if batch.Remaining > 0 {
			res.Available += batch.Remaining
		}
	}

	outstanding := quantity
	for _, batch := range batches {
		if outstanding == 0 {
			break
		}
		if batch.Remaining <= 0 {
			continue
		}

		take := batch.Remaining
		if outstanding < take {
			take = outstanding
		}
		after := batch.Remaining - take

		if err := store.UpdateBatchRemaining(ctx, batch.ID, after); err != nil {
			return res, fmt.Errorf("drain batch %s: %w", batch.BatchNumber, err)
		}

		res.BatchesUsed = append(res.BatchesUsed, models.BatchUse{
			BatchID:     batch.ID,
			BatchNumber: batch.BatchNumber,
			Deducted:    take,
			Remaining:   after,
		})
		res.Satisfied += take
		outstanding -= take
	}

	return res, nil
}
