// Package stream consumes transaction change notifications and drives the
// stock mutation paths. Postgres NOTIFY is the transport; the manager fans
// events out to one consumer per subscribed branch.
package stream

import (
	"context"

	"github.com/kemiade/salon-stock-engine/internal/models"
)

// Event is one transaction change notification.
type Event struct {
	TransactionID string `json:"transaction_id"`
	BranchID      string `json:"branch_id"`
	Status        string `json:"status"`
}

// Source delivers change events to out until ctx is canceled. Implementations
// own their reconnect behavior; Subscribe returns only on ctx cancellation or
// an unrecoverable error.
type Source interface {
	Subscribe(ctx context.Context, out chan<- Event) error
}

// TxProcessor applies the stock mutation for a classified transaction.
type TxProcessor interface {
	ProcessSale(ctx context.Context, tx *models.Transaction) error
	ProcessVoid(ctx context.Context, tx *models.Transaction) error
}

// TransactionLoader resolves an event's transaction id to the full document.
type TransactionLoader interface {
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
}
