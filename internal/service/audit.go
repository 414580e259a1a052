package service

import (
	"context"

	"github.com/kemiade/salon-stock-engine/internal/domain"
	"github.com/kemiade/salon-stock-engine/internal/models"
	"github.com/kemiade/salon-stock-engine/internal/observability"
	"go.uber.org/zap"
)

// AuditService writes activity log entries for stock mutations. The log is a
// best-effort trail, not a ledger of record: a failed write is counted and
// dropped, and must never undo or block the mutation it describes.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Record enriches the entry with branch and user names and inserts it.
// Lookups are best-effort; a miss degrades to "Unknown".
func (s *AuditService) Record(ctx context.Context, entry models.ActivityLog) {
	q := s.store.Queries()

	entry.Module = domain.ModuleStocks
	entry.BranchName = domain.UnknownName
	entry.UserName = domain.UnknownName

	if entry.BranchID != "" {
		if branch, err := q.GetBranch(ctx, entry.BranchID); err == nil {
			entry.BranchName = branch.Name
		}
	}
	if entry.UserID != "" {
		if user, err := q.GetUser(ctx, entry.UserID); err == nil {
			entry.UserName = user.Name
			entry.UserRole = user.Role
		}
	}

	if err := q.InsertActivityLog(ctx, entry); err != nil {
		observability.IncrementAuditWriteFailure()
		zap.L().Error("activity log write dropped",
			zap.String("action", entry.Action),
			zap.String("entity_id", entry.EntityID),
			zap.String("branch_id", entry.BranchID),
			zap.Error(err),
		)
	}
}
