package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kemiade/salon-stock-engine/internal/service"
)

// Reprocessor replays a transaction through the classification paths.
type Reprocessor interface {
	Reprocess(ctx context.Context, txID string) (string, error)
}

// ReprocessHandler is the manual re-trigger for stuck transactions.
type ReprocessHandler struct {
	processor Reprocessor
}

func NewReprocessHandler(processor Reprocessor) *ReprocessHandler {
	return &ReprocessHandler{processor: processor}
}

// Reprocess loads the transaction and runs whichever path its status and
// markers call for. Already-applied transactions come back as a conflict, not
// a double mutation.
func (h *ReprocessHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	action, err := h.processor.Reprocess(r.Context(), txID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotEligible):
			RespondError(w, r, http.StatusConflict, "transaction/not-eligible", err.Error())
		case errors.Is(err, service.ErrMarkerNotPersisted):
			RespondError(w, r, http.StatusInternalServerError, "transaction/marker-not-persisted", err.Error())
		case errors.Is(err, service.ErrLineItemsFailed):
			RespondError(w, r, http.StatusInternalServerError, "transaction/line-items-failed", err.Error())
		default:
			respondStoreError(w, r, err)
		}
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{
		"transaction_id": txID,
		"action":         action,
		"status":         "applied",
	})
}
