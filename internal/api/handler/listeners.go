package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kemiade/salon-stock-engine/internal/stream"
)

// ListenerManager is the subset of the stream manager the ops API drives.
type ListenerManager interface {
	Listen(branchID string) error
	Stop(branchID string) error
	StopAll()
	Status() []stream.ListenerStatus
}

// ListenerHandler manages branch subscriptions at runtime.
type ListenerHandler struct {
	manager ListenerManager
}

func NewListenerHandler(manager ListenerManager) *ListenerHandler {
	return &ListenerHandler{manager: manager}
}

// List reports every active branch subscription with its counters.
func (h *ListenerHandler) List(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]any{
		"listeners": h.manager.Status(),
	})
}

// Subscribe starts a listener for a branch.
func (h *ListenerHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	branchID := strings.TrimSpace(chi.URLParam(r, "branchID"))
	if branchID == "" {
		RespondError(w, r, http.StatusBadRequest, "invalid-request", "branch id is required")
		return
	}

	if err := h.manager.Listen(branchID); err != nil {
		if errors.Is(err, stream.ErrAlreadySubscribed) {
			RespondError(w, r, http.StatusConflict, "listener/already-subscribed", err.Error())
			return
		}
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "could not start listener")
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]string{"branch_id": branchID, "status": "listening"})
}

// Unsubscribe stops a branch listener.
func (h *ListenerHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")
	if err := h.manager.Stop(branchID); err != nil {
		if errors.Is(err, stream.ErrNotSubscribed) {
			RespondError(w, r, http.StatusNotFound, "listener/not-subscribed", err.Error())
			return
		}
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "could not stop listener")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"branch_id": branchID, "status": "stopped"})
}

// UnsubscribeAll stops every branch listener.
func (h *ListenerHandler) UnsubscribeAll(w http.ResponseWriter, r *http.Request) {
	h.manager.StopAll()
	RespondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
