package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kemiade/salon-stock-engine/internal/domain"
	"github.com/kemiade/salon-stock-engine/internal/service"
)

// SnapshotRecorder triggers week snapshot runs.
type SnapshotRecorder interface {
	RecordWeek(ctx context.Context, branchID string, week int, actor string) (*service.SnapshotReport, error)
	RecordCurrentWeek(ctx context.Context, branchID, actor string) (*service.SnapshotReport, error)
}

// SnapshotHandler exposes the manual snapshot trigger.
type SnapshotHandler struct {
	snapshots    SnapshotRecorder
	defaultActor string
}

func NewSnapshotHandler(snapshots SnapshotRecorder, defaultActor string) *SnapshotHandler {
	return &SnapshotHandler{snapshots: snapshots, defaultActor: defaultActor}
}

type snapshotRequest struct {
	Week  *int   `json:"week,omitempty"`
	Actor string `json:"actor,omitempty"`
}

// Record runs a snapshot for one branch. Omitting week in the body records
// into the slot derived from today's date.
func (h *SnapshotHandler) Record(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")

	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		RespondError(w, r, http.StatusBadRequest, "invalid-request", "invalid JSON body")
		return
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = h.defaultActor
	}

	var (
		report *service.SnapshotReport
		err    error
	)
	if req.Week != nil {
		if verr := domain.ValidateWeek(*req.Week); verr != nil {
			RespondError(w, r, http.StatusBadRequest, "invalid-request", verr.Error())
			return
		}
		report, err = h.snapshots.RecordWeek(r.Context(), branchID, *req.Week, actor)
	} else {
		report, err = h.snapshots.RecordCurrentWeek(r.Context(), branchID, actor)
	}
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}
