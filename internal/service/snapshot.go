package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kemiade/salon-stock-engine/internal/domain"
	"github.com/kemiade/salon-stock-engine/internal/models"
	"github.com/kemiade/salon-stock-engine/internal/observability"
	"go.uber.org/zap"
)

// SnapshotService copies live stock levels into the four week slots for trend
// reporting. Re-running a week overwrites the slot; nothing accumulates.
type SnapshotService struct {
	store QueryStore
	audit *AuditService
	now   func() time.Time
}

func NewSnapshotService(store QueryStore, audit *AuditService) *SnapshotService {
	return &SnapshotService{store: store, audit: audit, now: time.Now}
}

// WithClock overrides the time source, used by tests.
func (s *SnapshotService) WithClock(now func() time.Time) *SnapshotService {
	s.now = now
	return s
}

// RecordedSnapshot is one stock record copied into a week slot.
type RecordedSnapshot struct {
	RecordID  string `json:"record_id"`
	ProductID string `json:"product_id"`
	Previous  *int   `json:"previous,omitempty"`
	Value     int    `json:"value"`
}

// SnapshotReport summarizes one RecordWeek run.
type SnapshotReport struct {
	BranchID string             `json:"branch_id"`
	Week     int                `json:"week"`
	Recorded []RecordedSnapshot `json:"recorded"`
	Errors   []string           `json:"errors,omitempty"`
}

// RecordWeek copies real_time_stock into week<N>_stock for every active stock
// record in the branch. Per-record failures are collected, not fatal.
func (s *SnapshotService) RecordWeek(ctx context.Context, branchID string, week int, actor string) (*SnapshotReport, error) {
	if err := domain.ValidateWeek(week); err != nil {
		return nil, err
	}

	q := s.store.Queries()
	records, err := q.ListActiveStockRecords(ctx, branchID)
	if err != nil {
		return nil, fmt.Errorf("list stock records for branch %s: %w", branchID, err)
	}

	report := &SnapshotReport{BranchID: branchID, Week: week}
	for _, rec := range records {
		previous := weekSlot(&rec, week)
		if err := q.SetWeekStock(ctx, rec.ID, week, rec.RealTimeStock); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rec.ProductID, err))
			zap.L().Error("week snapshot write failed",
				zap.String("branch_id", branchID),
				zap.String("product_id", rec.ProductID),
				zap.Int("week", week),
				zap.Error(err),
			)
			continue
		}

		report.Recorded = append(report.Recorded, RecordedSnapshot{
			RecordID:  rec.ID,
			ProductID: rec.ProductID,
			Previous:  previous,
			Value:     rec.RealTimeStock,
		})
		observability.IncrementSnapshotRecord(branchID, week)

		changes := map[string]any{
			"week":  week,
			"value": rec.RealTimeStock,
		}
		if previous != nil {
			changes["previous"] = *previous
		}
		s.audit.Record(ctx, models.ActivityLog{
			Action:   domain.ActionWeeklyRecord,
			EntityID: rec.ProductID,
			BranchID: branchID,
			UserID:   actor,
			Changes:  changes,
			Reason:   fmt.Sprintf("week %d stock snapshot", week),
		})
	}

	zap.L().Info("week snapshot recorded",
		zap.String("branch_id", branchID),
		zap.Int("week", week),
		zap.Int("recorded", len(report.Recorded)),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// RecordCurrentWeek derives the slot from the day of month: 1-7, 8-14, 15-21,
// 22 and later.
func (s *SnapshotService) RecordCurrentWeek(ctx context.Context, branchID, actor string) (*SnapshotReport, error) {
	return s.RecordWeek(ctx, branchID, domain.WeekOfMonth(s.now()), actor)
}

func weekSlot(rec *models.StockRecord, week int) *int {
	switch week {
	case 1:
		return rec.Week1Stock
	case 2:
		return rec.Week2Stock
	case 3:
		return rec.Week3Stock
	case 4:
		return rec.Week4Stock
	}
	return nil
}
