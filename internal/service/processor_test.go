package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kemiade/salon-stock-engine/internal/domain"
	"github.com/kemiade/salon-stock-engine/internal/models"
	"github.com/stretchr/testify/require"
)

func saleTx(id, branch string, items ...models.LineItem) *models.Transaction {
	return &models.Transaction{
		ID:        id,
		BranchID:  branch,
		Status:    domain.TxStatusPaid,
		Products:  items,
		CreatedBy: "user-1",
	}
}

func TestProcessSaleDrainsBatchesOldestFirst(t *testing.T) {
	q, processor, _ := newFixture()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	q.addBatch("batch-a", "br-1", "prod-1", "BN-0", base, 1, 2)
	q.addBatch("batch-b", "br-1", "prod-1", "BN-1", base.Add(time.Hour), 2, 10)
	tx := q.addTransaction(saleTx("tx-1", "br-1", models.LineItem{ProductID: "prod-1", Name: "Shampoo", Quantity: 5}))

	require.NoError(t, processor.ProcessSale(context.Background(), tx))

	require.Equal(t, 0, q.batches[0].Remaining)
	require.Equal(t, 7, q.batches[1].Remaining)

	stored, err := q.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	require.True(t, stored.StockDeducted)
	require.NotNil(t, stored.StockDeductedAt)
	require.Equal(t, []models.BatchUse{
		{BatchID: "batch-a", BatchNumber: "BN-0", Deducted: 2, Remaining: 0},
		{BatchID: "batch-b", BatchNumber: "BN-1", Deducted: 3, Remaining: 7},
	}, stored.BatchesUsed)

	require.Len(t, q.logs, 1)
	entry := q.logs[0]
	require.Equal(t, domain.ActionDeduct, entry.Action)
	require.Equal(t, domain.MethodFIFO, entry.Changes["method"])
	require.Contains(t, entry.Changes, "batches_used")
}

func TestProcessSaleIsIdempotentAcrossDeliveries(t *testing.T) {
	q, processor, _ := newFixture()
	q.addBatch("batch-a", "br-1", "prod-1", "BN-0", time.Now(), 1, 10)
	tx := q.addTransaction(saleTx("tx-1", "br-1", models.LineItem{ProductID: "prod-1", Quantity: 4}))

	require.NoError(t, processor.ProcessSale(context.Background(), tx))
	require.Equal(t, 6, q.batches[0].Remaining)

	// Duplicate delivery re-reads the transaction; the persisted marker
	// short-circuits the second pass.
	stored, err := q.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	require.NoError(t, processor.ProcessSale(context.Background(), stored))
	require.Equal(t, 6, q.batches[0].Remaining)
	require.Len(t, q.logs, 1)
}

func TestProcessSaleConcurrentDeliveriesDeductOnce(t *testing.T) {
	q, processor, _ := newFixture()
	q.addBatch("batch-a", "br-1", "prod-1", "BN-0", time.Now(), 1, 10)
	q.addTransaction(saleTx("tx-1", "br-1", models.LineItem{ProductID: "prod-1", Quantity: 4}))

	// A listener delivery and a sweep pass can each load the transaction
	// before either has applied it; both copies carry the unset marker.
	first, err := q.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	second, err := q.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, tx := range []*models.Transaction{first, second} {
		i, tx := i, tx
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = processor.ProcessSale(context.Background(), tx)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, 6, q.batches[0].Remaining)
	require.Len(t, q.logs, 1)

	stored, err := q.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	require.True(t, stored.StockDeducted)
	require.Len(t, stored.BatchesUsed, 1)
}

func TestProcessVoidConcurrentDeliveriesReturnOnce(t *testing.T) {
	q, processor, _ := newFixture()
	rec := q.addRecord("rec-1", "br-1", "prod-1", 8)
	q.addTransaction(&models.Transaction{
		ID:            "tx-1",
		BranchID:      "br-1",
		Status:        domain.TxStatusVoided,
		StockDeducted: true,
		Products:      []models.LineItem{{ProductID: "prod-1", Quantity: 2}},
	})

	first, err := q.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	second, err := q.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, tx := range []*models.Transaction{first, second} {
		i, tx := i, tx
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = processor.ProcessVoid(context.Background(), tx)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, 10, rec.RealTimeStock)
	require.Len(t, q.logs, 1)
}

func TestProcessSaleFallsBackToAggregateRecord(t *testing.T) {
	q, processor, _ := newFixture()
	rec := q.addRecord("rec-1", "br-1", "prod-1", 10)
	tx := q.addTransaction(saleTx("tx-1", "br-1", models.LineItem{ProductID: "prod-1", Quantity: 4}))

	require.NoError(t, processor.ProcessSale(context.Background(), tx))

	require.Equal(t, 6, rec.RealTimeStock)
	require.Len(t, q.logs, 1)
	require.Equal(t, domain.MethodFallback, q.logs[0].Changes["method"])
}

func TestProcessSaleFallbackFloorsAtZero(t *testing.T) {
	q, processor, _ := newFixture()
	rec := q.addRecord("rec-1", "br-1", "prod-1", 3)
	tx := q.addTransaction(saleTx("tx-1", "br-1", models.LineItem{ProductID: "prod-1", Quantity: 10}))

	require.NoError(t, processor.ProcessSale(context.Background(), tx))

	require.Equal(t, 0, rec.RealTimeStock)
	require.Equal(t, 7, q.logs[0].Changes["shortfall"])
}

func TestProcessSaleSkipsUnresolvableItemAndStillMarks(t *testing.T) {
	q, processor, _ := newFixture()
	q.addRecord("rec-1", "br-1", "prod-1", 10)
	// prod-2 has neither batches nor a stock record.
	tx := q.addTransaction(saleTx("tx-1", "br-1",
		models.LineItem{ProductID: "prod-1", Quantity: 2},
		models.LineItem{ProductID: "prod-2", Quantity: 3},
	))

	require.NoError(t, processor.ProcessSale(context.Background(), tx))

	stored, err := q.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	require.True(t, stored.StockDeducted)
	require.Len(t, q.logs, 1)
}

func TestProcessSaleSkipsZeroQuantityItems(t *testing.T) {
	q, processor, _ := newFixture()
	rec := q.addRecord("rec-1", "br-1", "prod-1", 10)
	tx := q.addTransaction(saleTx("tx-1", "br-1",
		models.LineItem{ProductID: "prod-1", Quantity: 0},
		models.LineItem{ProductID: "  ", Quantity: 5},
	))

	require.NoError(t, processor.ProcessSale(context.Background(), tx))
	require.Equal(t, 10, rec.RealTimeStock)
	require.Empty(t, q.logs)
}

func TestProcessSaleWithholdsMarkerOnWriteFailure(t *testing.T) {
	q, processor, _ := newFixture()
	q.addBatch("batch-a", "br-1", "prod-1", "BN-0", time.Now(), 1, 10)
	q.updateBatchErr = errors.New("connection reset")
	tx := q.addTransaction(saleTx("tx-1", "br-1", models.LineItem{ProductID: "prod-1", Quantity: 4}))

	err := processor.ProcessSale(context.Background(), tx)
	require.ErrorIs(t, err, ErrLineItemsFailed)

	stored, gerr := q.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, gerr)
	require.False(t, stored.StockDeducted)
}

func TestProcessSaleReportsMarkerPersistFailure(t *testing.T) {
	q, processor, _ := newFixture()
	q.addBatch("batch-a", "br-1", "prod-1", "BN-0", time.Now(), 1, 10)
	q.markDeductErr = errors.New("connection reset")
	tx := q.addTransaction(saleTx("tx-1", "br-1", models.LineItem{ProductID: "prod-1", Quantity: 4}))

	err := processor.ProcessSale(context.Background(), tx)
	require.ErrorIs(t, err, ErrMarkerNotPersisted)

	// The mutation itself went through.
	require.Equal(t, 6, q.batches[0].Remaining)
}

func TestProcessVoidCompensatesAggregateOnly(t *testing.T) {
	q, processor, _ := newFixture()
	rec := q.addRecord("rec-1", "br-1", "prod-1", 8)
	q.addBatch("batch-a", "br-1", "prod-1", "BN-0", time.Now(), 1, 0)
	tx := q.addTransaction(&models.Transaction{
		ID:            "tx-1",
		BranchID:      "br-1",
		Status:        domain.TxStatusVoided,
		StockDeducted: true,
		Products:      []models.LineItem{{ProductID: "prod-1", Quantity: 2}},
	})

	require.NoError(t, processor.ProcessVoid(context.Background(), tx))

	require.Equal(t, 10, rec.RealTimeStock)
	// Batches stay drained.
	require.Equal(t, 0, q.batches[0].Remaining)

	stored, err := q.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	require.True(t, stored.StockReturned)
	require.Len(t, q.logs, 1)
	require.Equal(t, domain.ActionReturn, q.logs[0].Action)
}

func TestProcessVoidRequiresPriorDeduction(t *testing.T) {
	q, processor, _ := newFixture()
	rec := q.addRecord("rec-1", "br-1", "prod-1", 8)
	tx := q.addTransaction(&models.Transaction{
		ID:       "tx-1",
		BranchID: "br-1",
		Status:   domain.TxStatusVoided,
		Products: []models.LineItem{{ProductID: "prod-1", Quantity: 2}},
	})

	require.NoError(t, processor.ProcessVoid(context.Background(), tx))
	require.Equal(t, 8, rec.RealTimeStock)

	stored, err := q.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	require.False(t, stored.StockReturned)
}

func TestProcessVoidDoesNotReturnTwice(t *testing.T) {
	q, processor, _ := newFixture()
	rec := q.addRecord("rec-1", "br-1", "prod-1", 8)
	tx := q.addTransaction(&models.Transaction{
		ID:            "tx-1",
		BranchID:      "br-1",
		Status:        domain.TxStatusVoided,
		StockDeducted: true,
		Products:      []models.LineItem{{ProductID: "prod-1", Quantity: 2}},
	})

	require.NoError(t, processor.ProcessVoid(context.Background(), tx))
	require.Equal(t, 10, rec.RealTimeStock)

	stored, err := q.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	require.NoError(t, processor.ProcessVoid(context.Background(), stored))
	require.Equal(t, 10, rec.RealTimeStock)
}

func TestReprocessDispatchesByClassification(t *testing.T) {
	q, processor, _ := newFixture()
	q.addRecord("rec-1", "br-1", "prod-1", 10)
	q.addTransaction(saleTx("tx-sale", "br-1", models.LineItem{ProductID: "prod-1", Quantity: 2}))
	q.addTransaction(&models.Transaction{
		ID:            "tx-void",
		BranchID:      "br-1",
		Status:        domain.TxStatusVoided,
		StockDeducted: true,
		Products:      []models.LineItem{{ProductID: "prod-1", Quantity: 2}},
	})
	q.addTransaction(&models.Transaction{ID: "tx-pending", BranchID: "br-1", Status: domain.TxStatusPending})

	action, err := processor.Reprocess(context.Background(), "tx-sale")
	require.NoError(t, err)
	require.Equal(t, domain.ActionDeduct, action)

	action, err = processor.Reprocess(context.Background(), "tx-void")
	require.NoError(t, err)
	require.Equal(t, domain.ActionReturn, action)

	_, err = processor.Reprocess(context.Background(), "tx-pending")
	require.ErrorIs(t, err, ErrNotEligible)

	_, err = processor.Reprocess(context.Background(), "tx-missing")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestAuditRecordEnrichesNamesAndSwallowsFailure(t *testing.T) {
	q, _, audit := newFixture()
	q.branches["br-1"] = models.Branch{ID: "br-1", Name: "Ikeja"}
	q.users["user-1"] = models.User{ID: "user-1", Name: "Ada", Role: "manager"}

	audit.Record(context.Background(), models.ActivityLog{
		Action:   domain.ActionDeduct,
		BranchID: "br-1",
		UserID:   "user-1",
	})
	require.Len(t, q.logs, 1)
	require.Equal(t, domain.ModuleStocks, q.logs[0].Module)
	require.Equal(t, "Ikeja", q.logs[0].BranchName)
	require.Equal(t, "Ada", q.logs[0].UserName)
	require.Equal(t, "manager", q.logs[0].UserRole)

	audit.Record(context.Background(), models.ActivityLog{Action: domain.ActionDeduct, BranchID: "br-x"})
	require.Equal(t, domain.UnknownName, q.logs[1].BranchName)
	require.Equal(t, domain.UnknownName, q.logs[1].UserName)

	q.insertLogErr = errors.New("connection reset")
	audit.Record(context.Background(), models.ActivityLog{Action: domain.ActionDeduct})
	require.Len(t, q.logs, 2)
}
