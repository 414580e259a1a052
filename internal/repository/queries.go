package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kemiade/salon-stock-engine/internal/models"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx so the same query set
// runs inside and outside transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the hand-written query set over the stock documents.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a query set scoped to the given transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const transactionColumns = `id, branch_id, status, products, stock_deducted, stock_deducted_at,
	stock_returned, stock_returned_at, batches_used, created_by, created_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var (
		tx          models.Transaction
		products    []byte
		batchesUsed []byte
	)
	err := row.Scan(&tx.ID, &tx.BranchID, &tx.Status, &products, &tx.StockDeducted, &tx.StockDeductedAt,
		&tx.StockReturned, &tx.StockReturnedAt, &batchesUsed, &tx.CreatedBy, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	if len(products) > 0 {
		if err := json.Unmarshal(products, &tx.Products); err != nil {
			return nil, fmt.Errorf("decode products: %w", err)
		}
	}
	if len(batchesUsed) > 0 {
		if err := json.Unmarshal(batchesUsed, &tx.BatchesUsed); err != nil {
			return nil, fmt.Errorf("decode batches_used: %w", err)
		}
	}
	return &tx, nil
}

func (q *Queries) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	row := q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

// MarkStockDeducted flips the deduction marker exactly once. The WHERE clause
// makes the flag monotonic: a second call affects zero rows and is a no-op.
func (q *Queries) MarkStockDeducted(ctx context.Context, id string, batchesUsed []models.BatchUse) (int64, error) {
	payload, err := json.Marshal(batchesUsed)
	if err != nil {
		return 0, fmt.Errorf("encode batches_used: %w", err)
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE transactions
		SET stock_deducted = TRUE, stock_deducted_at = NOW(), batches_used = $2
		WHERE id = $1 AND stock_deducted = FALSE`,
		id, payload)
	if err != nil {
		return 0, fmt.Errorf("mark stock deducted: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkStockReturned flips the return marker exactly once; stock_deducted is
// never touched here.
func (q *Queries) MarkStockReturned(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE transactions
		SET stock_returned = TRUE, stock_returned_at = NOW()
		WHERE id = $1 AND stock_returned = FALSE`,
		id)
	if err != nil {
		return 0, fmt.Errorf("mark stock returned: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListUnsweptSales returns settled transactions older than the grace period
// whose deduction marker never landed (missed notifications, restarts).
func (q *Queries) ListUnsweptSales(ctx context.Context, grace time.Duration, limit int32) ([]string, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id FROM transactions
		WHERE LOWER(status) IN ('paid', 'completed')
		  AND stock_deducted = FALSE
		  AND jsonb_array_length(products) > 0
		  AND created_at < NOW() - make_interval(secs => $1)
		ORDER BY created_at
		LIMIT $2`,
		grace.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("list unswept sales: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// ListUnsweptVoids returns voided transactions that were deducted but whose
// compensation never ran.
func (q *Queries) ListUnsweptVoids(ctx context.Context, grace time.Duration, limit int32) ([]string, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id FROM transactions
		WHERE LOWER(status) IN ('voided', 'cancelled')
		  AND stock_deducted = TRUE
		  AND stock_returned = FALSE
		  AND jsonb_array_length(products) > 0
		  AND created_at < NOW() - make_interval(secs => $1)
		ORDER BY created_at
		LIMIT $2`,
		grace.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("list unswept voids: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan transaction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListBatchesForUpdate loads the receiving lots for a branch+product in FIFO
// order and locks the rows for the duration of the enclosing transaction.
// The lock is what serializes concurrent allocations on the same key; seq
// breaks received_at ties deterministically.
func (q *Queries) ListBatchesForUpdate(ctx context.Context, branchID, productID string) ([]models.Batch, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, branch_id, product_id, batch_number, received_at, seq, remaining
		FROM product_batches
		WHERE branch_id = $1 AND product_id = $2
		ORDER BY received_at, seq
		FOR UPDATE`,
		branchID, productID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []models.Batch
	for rows.Next() {
		var b models.Batch
		if err := rows.Scan(&b.ID, &b.BranchID, &b.ProductID, &b.BatchNumber, &b.ReceivedAt, &b.Seq, &b.Remaining); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (q *Queries) UpdateBatchRemaining(ctx context.Context, id string, remaining int) error {
	if remaining < 0 {
		return fmt.Errorf("batch remaining cannot go negative: %d", remaining)
	}
	tag, err := q.db.Exec(ctx, `UPDATE product_batches SET remaining = $2 WHERE id = $1`, id, remaining)
	if err != nil {
		return fmt.Errorf("update batch remaining: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("update batch remaining affected %d rows", tag.RowsAffected())
	}
	return nil
}

const stockRecordColumns = `id, branch_id, product_id, status, real_time_stock, beginning_stock,
	week1_stock, week2_stock, week3_stock, week4_stock, updated_at`

func scanStockRecord(row pgx.Row) (*models.StockRecord, error) {
	var rec models.StockRecord
	err := row.Scan(&rec.ID, &rec.BranchID, &rec.ProductID, &rec.Status, &rec.RealTimeStock, &rec.BeginningStock,
		&rec.Week1Stock, &rec.Week2Stock, &rec.Week3Stock, &rec.Week4Stock, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetActiveStockRecordForUpdate locks and returns the single active aggregate
// record for a branch+product.
func (q *Queries) GetActiveStockRecordForUpdate(ctx context.Context, branchID, productID string) (*models.StockRecord, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+stockRecordColumns+`
		FROM stock_records
		WHERE branch_id = $1 AND product_id = $2 AND status = 'active'
		FOR UPDATE`,
		branchID, productID)
	rec, err := scanStockRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNoActiveStockRecord
		}
		return nil, fmt.Errorf("get active stock record: %w", err)
	}
	return rec, nil
}

func (q *Queries) UpdateRealTimeStock(ctx context.Context, id string, value int) error {
	tag, err := q.db.Exec(ctx, `UPDATE stock_records SET real_time_stock = $2, updated_at = NOW() WHERE id = $1`, id, value)
	if err != nil {
		return fmt.Errorf("update real time stock: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("update real time stock affected %d rows", tag.RowsAffected())
	}
	return nil
}

func (q *Queries) ListActiveStockRecords(ctx context.Context, branchID string) ([]models.StockRecord, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+stockRecordColumns+`
		FROM stock_records
		WHERE branch_id = $1 AND status = 'active'
		ORDER BY product_id`,
		branchID)
	if err != nil {
		return nil, fmt.Errorf("list active stock records: %w", err)
	}
	defer rows.Close()

	var records []models.StockRecord
	for rows.Next() {
		rec, err := scanStockRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// SetWeekStock overwrites one of the four snapshot slots. Last write wins.
func (q *Queries) SetWeekStock(ctx context.Context, id string, week, value int) error {
	if week < 1 || week > 4 {
		return fmt.Errorf("invalid week slot: %d", week)
	}
	sql := fmt.Sprintf(`UPDATE stock_records SET week%d_stock = $2, updated_at = NOW() WHERE id = $1`, week)
	tag, err := q.db.Exec(ctx, sql, id, value)
	if err != nil {
		return fmt.Errorf("set week stock: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("set week stock affected %d rows", tag.RowsAffected())
	}
	return nil
}

func (q *Queries) InsertActivityLog(ctx context.Context, entry models.ActivityLog) error {
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO activity_logs (module, action, entity_id, entity_name, branch_id, branch_name,
			user_id, user_name, user_role, changes, reason, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())`,
		entry.Module, entry.Action, entry.EntityID, entry.EntityName, entry.BranchID, entry.BranchName,
		entry.UserID, entry.UserName, entry.UserRole, changes, entry.Reason, entry.Notes)
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

func (q *Queries) GetBranch(ctx context.Context, id string) (*models.Branch, error) {
	var b models.Branch
	err := q.db.QueryRow(ctx, `SELECT id, name FROM branches WHERE id = $1`, id).Scan(&b.ID, &b.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get branch: %w", err)
	}
	return &b, nil
}

func (q *Queries) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := q.db.QueryRow(ctx, `SELECT id, name, role FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Name, &u.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
