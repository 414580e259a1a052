package service

import (
	"context"
	"time"

	"github.com/kemiade/salon-stock-engine/internal/models"
	"github.com/kemiade/salon-stock-engine/internal/repository"
)

// Queries is the data access contract required by the services. It is
// satisfied by *repository.Queries; tests substitute in-memory fakes.
type Queries interface {
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	MarkStockDeducted(ctx context.Context, id string, batchesUsed []models.BatchUse) (int64, error)
	MarkStockReturned(ctx context.Context, id string) (int64, error)
	ListUnsweptSales(ctx context.Context, grace time.Duration, limit int32) ([]string, error)
	ListUnsweptVoids(ctx context.Context, grace time.Duration, limit int32) ([]string, error)

	ListBatchesForUpdate(ctx context.Context, branchID, productID string) ([]models.Batch, error)
	UpdateBatchRemaining(ctx context.Context, id string, remaining int) error

	GetActiveStockRecordForUpdate(ctx context.Context, branchID, productID string) (*models.StockRecord, error)
	UpdateRealTimeStock(ctx context.Context, id string, value int) error
	ListActiveStockRecords(ctx context.Context, branchID string) ([]models.StockRecord, error)
	SetWeekStock(ctx context.Context, id string, week, value int) error

	InsertActivityLog(ctx context.Context, entry models.ActivityLog) error
	GetBranch(ctx context.Context, id string) (*models.Branch, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// QueryStore scopes query sets to database transactions and provides keyed
// mutual exclusion for multi-statement sections.
type QueryStore interface {
	Queries() Queries
	RunInTx(ctx context.Context, fn func(q Queries) error) error
	WithLock(ctx context.Context, key string, fn func() error) error
}

type pgQueryStore struct {
	inner *repository.Store
}

// NewQueryStore adapts the pgx-backed store to the service contract.
func NewQueryStore(inner *repository.Store) QueryStore {
	return &pgQueryStore{inner: inner}
}

func (s *pgQueryStore) Queries() Queries {
	return s.inner.Queries()
}

func (s *pgQueryStore) RunInTx(ctx context.Context, fn func(q Queries) error) error {
	return s.inner.RunInTx(ctx, func(q *repository.Queries) error {
		return fn(q)
	})
}

func (s *pgQueryStore) WithLock(ctx context.Context, key string, fn func() error) error {
	return s.inner.WithLock(ctx, key, fn)
}
