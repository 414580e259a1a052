package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kemiade/salon-stock-engine/internal/models"
)

// StockReader serves the read-only stock views.
type StockReader interface {
	ListActiveStockRecords(ctx context.Context, branchID string) ([]models.StockRecord, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
}

// StockHandler exposes read-only views of branch stock and transaction markers.
type StockHandler struct {
	reader StockReader
}

func NewStockHandler(reader StockReader) *StockHandler {
	return &StockHandler{reader: reader}
}

// ListBranchStocks returns every active stock record for a branch, including
// the week slots.
func (h *StockHandler) ListBranchStocks(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")

	records, err := h.reader.ListActiveStockRecords(r.Context(), branchID)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"branch_id": branchID,
		"stocks":    records,
	})
}

// GetTransaction returns a transaction with its markers and batch provenance.
func (h *StockHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.reader.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, tx)
}
