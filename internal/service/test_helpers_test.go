package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kemiade/salon-stock-engine/internal/models"
)

// fakeQueries is an in-memory stand-in for the pgx-backed query set.
type fakeQueries struct {
	mu sync.Mutex

	txs      map[string]*models.Transaction
	batches  []*models.Batch
	records  map[string]*models.StockRecord // branch|product
	branches map[string]models.Branch
	users    map[string]models.User
	logs     []models.ActivityLog

	markDeductErr  error
	markReturnErr  error
	updateBatchErr error
	updateStockErr error
	insertLogErr   error
}

func newFakeQueries() *fakeQueries {
	return &fakeQueries{
		txs:      map[string]*models.Transaction{},
		records:  map[string]*models.StockRecord{},
		branches: map[string]models.Branch{},
		users:    map[string]models.User{},
	}
}

func recordKey(branchID, productID string) string { return branchID + "|" + productID }

func (f *fakeQueries) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (f *fakeQueries) MarkStockDeducted(_ context.Context, id string, batchesUsed []models.BatchUse) (int64, error) {
	if f.markDeductErr != nil {
		return 0, f.markDeductErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok || tx.StockDeducted {
		return 0, nil
	}
	now := time.Now()
	tx.StockDeducted = true
	tx.StockDeductedAt = &now
	tx.BatchesUsed = batchesUsed
	return 1, nil
}

func (f *fakeQueries) MarkStockReturned(_ context.Context, id string) (int64, error) {
	if f.markReturnErr != nil {
		return 0, f.markReturnErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok || tx.StockReturned {
		return 0, nil
	}
	now := time.Now()
	tx.StockReturned = true
	tx.StockReturnedAt = &now
	return 1, nil
}

func (f *fakeQueries) ListUnsweptSales(_ context.Context, _ time.Duration, limit int32) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, tx := range f.txs {
		if (tx.Status == "paid" || tx.Status == "completed") && !tx.StockDeducted && len(tx.Products) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if int32(len(ids)) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeQueries) ListUnsweptVoids(_ context.Context, _ time.Duration, limit int32) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, tx := range f.txs {
		if (tx.Status == "voided" || tx.Status == "cancelled") && tx.StockDeducted && !tx.StockReturned && len(tx.Products) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if int32(len(ids)) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeQueries) ListBatchesForUpdate(_ context.Context, branchID, productID string) ([]models.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Batch
	for _, b := range f.batches {
		if b.BranchID == branchID && b.ProductID == productID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (f *fakeQueries) UpdateBatchRemaining(_ context.Context, id string, remaining int) error {
	if f.updateBatchErr != nil {
		return f.updateBatchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.batches {
		if b.ID == id {
			b.Remaining = remaining
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeQueries) GetActiveStockRecordForUpdate(_ context.Context, branchID, productID string) (*models.StockRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[recordKey(branchID, productID)]
	if !ok {
		return nil, models.ErrNoActiveStockRecord
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeQueries) UpdateRealTimeStock(_ context.Context, id string, value int) error {
	if f.updateStockErr != nil {
		return f.updateStockErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.ID == id {
			rec.RealTimeStock = value
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeQueries) ListActiveStockRecords(_ context.Context, branchID string) ([]models.StockRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.StockRecord
	for _, rec := range f.records {
		if rec.BranchID == branchID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (f *fakeQueries) SetWeekStock(_ context.Context, id string, week, value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.ID != id {
			continue
		}
		v := value
		switch week {
		case 1:
			rec.Week1Stock = &v
		case 2:
			rec.Week2Stock = &v
		case 3:
			rec.Week3Stock = &v
		case 4:
			rec.Week4Stock = &v
		}
		return nil
	}
	return models.ErrNotFound
}

func (f *fakeQueries) InsertActivityLog(_ context.Context, entry models.ActivityLog) error {
	if f.insertLogErr != nil {
		return f.insertLogErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeQueries) GetBranch(_ context.Context, id string) (*models.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.branches[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &b, nil
}

func (f *fakeQueries) GetUser(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &u, nil
}

// fakeStore runs "transactions" by just invoking fn against the shared fake.
// WithLock serializes callers per key the way the advisory lock does.
type fakeStore struct {
	q *fakeQueries

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func (s *fakeStore) Queries() Queries { return s.q }

func (s *fakeStore) RunInTx(_ context.Context, fn func(q Queries) error) error {
	return fn(s.q)
}

func (s *fakeStore) WithLock(_ context.Context, key string, fn func() error) error {
	s.locksMu.Lock()
	if s.locks == nil {
		s.locks = map[string]*sync.Mutex{}
	}
	mu, ok := s.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[key] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	return fn()
}

func newFixture() (*fakeQueries, *Processor, *AuditService) {
	q := newFakeQueries()
	store := &fakeStore{q: q}
	audit := NewAuditService(store)
	return q, NewProcessor(store, audit), audit
}

func (f *fakeQueries) addBatch(id, branch, product, number string, receivedAt time.Time, seq int64, remaining int) {
	f.batches = append(f.batches, &models.Batch{
		ID: id, BranchID: branch, ProductID: product, BatchNumber: number,
		ReceivedAt: receivedAt, Seq: seq, Remaining: remaining,
	})
}

func (f *fakeQueries) addRecord(id, branch, product string, stock int) *models.StockRecord {
	rec := &models.StockRecord{
		ID: id, BranchID: branch, ProductID: product,
		Status: "active", RealTimeStock: stock, BeginningStock: stock,
	}
	f.records[recordKey(branch, product)] = rec
	return rec
}

func (f *fakeQueries) addTransaction(tx *models.Transaction) *models.Transaction {
	f.txs[tx.ID] = tx
	return tx
}
