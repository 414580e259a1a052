package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kemiade/salon-stock-engine/internal/allocator"
	"github.com/kemiade/salon-stock-engine/internal/domain"
	"github.com/kemiade/salon-stock-engine/internal/models"
	"github.com/kemiade/salon-stock-engine/internal/observability"
	"go.uber.org/zap"
)

var (
	// ErrMarkerNotPersisted signals that every line item was applied but the
	// transaction marker write failed. The caller must keep its in-process
	// dedup entry so the mutation is not re-applied within this process
	// lifetime; a restart may legitimately retry.
	ErrMarkerNotPersisted = errors.New("stock mutation applied but marker not persisted")

	// ErrLineItemsFailed signals that at least one line item hit a store
	// write failure. The marker is withheld so a re-delivery retries the
	// whole transaction; items that did apply stay applied.
	ErrLineItemsFailed = errors.New("one or more line items failed")

	// ErrNotEligible is returned by Reprocess when a transaction matches
	// neither the deduction nor the return path.
	ErrNotEligible = errors.New("transaction is not eligible for processing")
)

// Processor applies a transaction's line items to branch stock: FIFO batch
// deduction on sale, aggregate compensation on void.
type Processor struct {
	store QueryStore
	audit *AuditService
}

func NewProcessor(store QueryStore, audit *AuditService) *Processor {
	return &Processor{store: store, audit: audit}
}

type lineResult struct {
	method    string
	before    int
	after     int
	satisfied int
	shortfall int
	batches   []models.BatchUse
}

// ProcessSale deducts stock for every line item of a settled transaction and
// sets the stock_deducted marker. Each line item runs in its own database
// transaction; a failure on one item never aborts the others.
//
// Concurrent appliers (a listener delivery racing the sweep, or two engine
// instances) serialize on a per-transaction advisory lock. The marker is
// re-checked against a fresh load inside the lock, so a transaction applied
// while we waited becomes a no-op instead of a second deduction.
func (p *Processor) ProcessSale(ctx context.Context, tx *models.Transaction) error {
	if tx.StockDeducted {
		return nil
	}

	return p.store.WithLock(ctx, txLockKey(tx.ID), func() error {
		current, err := p.store.Queries().GetTransaction(ctx, tx.ID)
		if err != nil {
			return fmt.Errorf("reload transaction %s: %w", tx.ID, err)
		}
		if current.StockDeducted {
			return nil
		}
		return p.applySale(ctx, current)
	})
}

func (p *Processor) applySale(ctx context.Context, tx *models.Transaction) error {
	var provenance []models.BatchUse
	writeFailures := 0

	for _, item := range tx.Products {
		if !processable(item) {
			zap.L().Warn("skipping unprocessable line item",
				zap.String("transaction_id", tx.ID),
				zap.String("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
			)
			continue
		}

		res, err := p.deductItem(ctx, tx.BranchID, item)
		if err != nil {
			if errors.Is(err, models.ErrNoActiveStockRecord) {
				zap.L().Warn("line item skipped: product unresolvable",
					zap.String("transaction_id", tx.ID),
					zap.String("product_id", item.ProductID),
					zap.Error(err),
				)
				continue
			}
			writeFailures++
			zap.L().Error("line item deduction failed",
				zap.String("transaction_id", tx.ID),
				zap.String("product_id", item.ProductID),
				zap.Error(err),
			)
			continue
		}

		provenance = append(provenance, res.batches...)
		observability.IncrementDeduction(tx.BranchID, res.method)
		if res.shortfall > 0 {
			observability.IncrementUnderAllocation(tx.BranchID)
			zap.L().Warn("under-allocation: batches could not cover requested quantity",
				zap.String("transaction_id", tx.ID),
				zap.String("product_id", item.ProductID),
				zap.Int("requested", item.Quantity),
				zap.Int("satisfied", res.satisfied),
			)
		}

		p.audit.Record(ctx, deductEntry(tx, item, res))
	}

	if writeFailures > 0 {
		return fmt.Errorf("%d line item(s) of transaction %s: %w", writeFailures, tx.ID, ErrLineItemsFailed)
	}

	if _, err := p.store.Queries().MarkStockDeducted(ctx, tx.ID, provenance); err != nil {
		zap.L().Error("stock_deducted marker not persisted",
			zap.String("transaction_id", tx.ID),
			zap.Error(err),
		)
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrMarkerNotPersisted)
	}
	return nil
}

// deductItem mutates stock for one line item inside a single database
// transaction: FIFO over batches, falling back to the aggregate record when
// the product has no batches at all.
func (p *Processor) deductItem(ctx context.Context, branchID string, item models.LineItem) (lineResult, error) {
	var res lineResult
	err := p.store.RunInTx(ctx, func(q Queries) error {
		alloc, err := allocator.Allocate(ctx, q, branchID, item.ProductID, item.Quantity)
		if err != nil {
			return err
		}

		if !alloc.FallbackRequired {
			res = lineResult{
				method:    domain.MethodFIFO,
				before:    alloc.Available,
				after:     alloc.Available - alloc.Satisfied,
				satisfied: alloc.Satisfied,
				shortfall: alloc.Shortfall(),
				batches:   alloc.BatchesUsed,
			}
			return nil
		}

		rec, err := q.GetActiveStockRecordForUpdate(ctx, branchID, item.ProductID)
		if err != nil {
			return err
		}
		after := rec.RealTimeStock - item.Quantity
		if after < 0 {
			after = 0
		}
		if err := q.UpdateRealTimeStock(ctx, rec.ID, after); err != nil {
			return err
		}
		res = lineResult{
			method:    domain.MethodFallback,
			before:    rec.RealTimeStock,
			after:     after,
			satisfied: rec.RealTimeStock - after,
			shortfall: item.Quantity - (rec.RealTimeStock - after),
		}
		return nil
	})
	return res, err
}

// ProcessVoid compensates a previously deducted transaction by returning each
// line item's quantity to the aggregate stock record. Batches are never
// restored; the aggregate is the single target of compensation. Appliers
// serialize on the same per-transaction lock as ProcessSale and re-check the
// stock_returned marker inside it.
func (p *Processor) ProcessVoid(ctx context.Context, tx *models.Transaction) error {
	if !tx.StockDeducted || tx.StockReturned {
		return nil
	}

	return p.store.WithLock(ctx, txLockKey(tx.ID), func() error {
		current, err := p.store.Queries().GetTransaction(ctx, tx.ID)
		if err != nil {
			return fmt.Errorf("reload transaction %s: %w", tx.ID, err)
		}
		if !current.StockDeducted || current.StockReturned {
			return nil
		}
		return p.applyVoid(ctx, current)
	})
}

func (p *Processor) applyVoid(ctx context.Context, tx *models.Transaction) error {
	writeFailures := 0

	for _, item := range tx.Products {
		if !processable(item) {
			zap.L().Warn("skipping unprocessable line item",
				zap.String("transaction_id", tx.ID),
				zap.String("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
			)
			continue
		}

		var before, after int
		err := p.store.RunInTx(ctx, func(q Queries) error {
			rec, err := q.GetActiveStockRecordForUpdate(ctx, tx.BranchID, item.ProductID)
			if err != nil {
				return err
			}
			before = rec.RealTimeStock
			after = before + item.Quantity
			return q.UpdateRealTimeStock(ctx, rec.ID, after)
		})
		if err != nil {
			if errors.Is(err, models.ErrNoActiveStockRecord) {
				zap.L().Warn("line item skipped: no stock record to compensate",
					zap.String("transaction_id", tx.ID),
					zap.String("product_id", item.ProductID),
				)
				continue
			}
			writeFailures++
			zap.L().Error("line item compensation failed",
				zap.String("transaction_id", tx.ID),
				zap.String("product_id", item.ProductID),
				zap.Error(err),
			)
			continue
		}

		observability.IncrementReturn(tx.BranchID)
		p.audit.Record(ctx, returnEntry(tx, item, before, after))
	}

	if writeFailures > 0 {
		return fmt.Errorf("%d line item(s) of transaction %s: %w", writeFailures, tx.ID, ErrLineItemsFailed)
	}

	if _, err := p.store.Queries().MarkStockReturned(ctx, tx.ID); err != nil {
		zap.L().Error("stock_returned marker not persisted",
			zap.String("transaction_id", tx.ID),
			zap.Error(err),
		)
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrMarkerNotPersisted)
	}
	return nil
}

// Reprocess loads a transaction, classifies it and runs the matching path.
// Used by the sweep worker and the manual re-trigger endpoint.
func (p *Processor) Reprocess(ctx context.Context, txID string) (string, error) {
	tx, err := p.store.Queries().GetTransaction(ctx, txID)
	if err != nil {
		return "", fmt.Errorf("load transaction %s: %w", txID, err)
	}

	switch {
	case domain.DeductionEligible(tx):
		return domain.ActionDeduct, p.ProcessSale(ctx, tx)
	case domain.ReturnEligible(tx):
		return domain.ActionReturn, p.ProcessVoid(ctx, tx)
	default:
		return "", fmt.Errorf("transaction %s (status %q): %w", txID, tx.Status, ErrNotEligible)
	}
}

func processable(item models.LineItem) bool {
	return item.Quantity > 0 && strings.TrimSpace(item.ProductID) != ""
}

func txLockKey(txID string) string {
	return "transactions:" + txID
}

func deductEntry(tx *models.Transaction, item models.LineItem, res lineResult) models.ActivityLog {
	changes := map[string]any{
		"transaction_id": tx.ID,
		"method":         res.method,
		"quantity":       item.Quantity,
		"before":         res.before,
		"after":          res.after,
	}
	if len(res.batches) > 0 {
		changes["batches_used"] = res.batches
	}
	if res.shortfall > 0 {
		changes["shortfall"] = res.shortfall
	}
	return models.ActivityLog{
		Action:     domain.ActionDeduct,
		EntityID:   item.ProductID,
		EntityName: item.Name,
		BranchID:   tx.BranchID,
		UserID:     tx.CreatedBy,
		Changes:    changes,
		Reason:     "stock deducted for sales transaction " + tx.ID,
	}
}

func returnEntry(tx *models.Transaction, item models.LineItem, before, after int) models.ActivityLog {
	return models.ActivityLog{
		Action:     domain.ActionReturn,
		EntityID:   item.ProductID,
		EntityName: item.Name,
		BranchID:   tx.BranchID,
		UserID:     tx.CreatedBy,
		Changes: map[string]any{
			"transaction_id": tx.ID,
			"quantity":       item.Quantity,
			"before":         before,
			"after":          after,
		},
		Reason: "stock returned for voided transaction " + tx.ID,
	}
}
