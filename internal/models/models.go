package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrNoActiveStockRecord = errors.New("no active stock record for branch and product")
)

// LineItem is one sold product line inside a transaction. The wire shape
// matches the checkout flow's documents: {productId, name, quantity}.
type LineItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}

// Transaction mirrors the sales transaction document. The engine owns only the
// two marker booleans (plus their timestamps) and the batches-used provenance;
// everything else is written by the checkout flow and read-only here.
type Transaction struct {
	ID              string     `json:"id"`
	BranchID        string     `json:"branch_id"`
	Status          string     `json:"status"`
	Products        []LineItem `json:"products"`
	StockDeducted   bool       `json:"stock_deducted"`
	StockDeductedAt *time.Time `json:"stock_deducted_at,omitempty"`
	StockReturned   bool       `json:"stock_returned"`
	StockReturnedAt *time.Time `json:"stock_returned_at,omitempty"`
	BatchesUsed     []BatchUse `json:"batches_used,omitempty"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Batch is a receiving lot for one branch+product. FIFO order is defined by
// (ReceivedAt, Seq); Seq is assigned at insert time and breaks timestamp ties
// deterministically.
type Batch struct {
	ID          string    `json:"id"`
	BranchID    string    `json:"branch_id"`
	ProductID   string    `json:"product_id"`
	BatchNumber string    `json:"batch_number"`
	ReceivedAt  time.Time `json:"received_at"`
	Seq         int64     `json:"seq"`
	Remaining   int       `json:"remaining"`
}

// BatchUse records how much a single allocation took from one batch.
type BatchUse struct {
	BatchID     string `json:"batch_id"`
	BatchNumber string `json:"batch_number"`
	Deducted    int    `json:"deducted"`
	Remaining   int    `json:"remaining"`
}

// StockRecord is the active aggregate stock document per branch+product.
// RealTimeStock is the fallback counter when no batches exist and is always
// the target of void compensation. The four week slots are written only by the
// snapshot recorder.
type StockRecord struct {
	ID             string    `json:"id"`
	BranchID       string    `json:"branch_id"`
	ProductID      string    `json:"product_id"`
	Status         string    `json:"status"`
	RealTimeStock  int       `json:"real_time_stock"`
	BeginningStock int       `json:"beginning_stock"`
	Week1Stock     *int      `json:"week1_stock,omitempty"`
	Week2Stock     *int      `json:"week2_stock,omitempty"`
	Week3Stock     *int      `json:"week3_stock,omitempty"`
	Week4Stock     *int      `json:"week4_stock,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ActivityLog is one append-only audit entry per stock mutation.
type ActivityLog struct {
	ID         int64          `json:"id"`
	Module     string         `json:"module"`
	Action     string         `json:"action"`
	EntityID   string         `json:"entity_id"`
	EntityName string         `json:"entity_name"`
	BranchID   string         `json:"branch_id"`
	BranchName string         `json:"branch_name"`
	UserID     string         `json:"user_id"`
	UserName   string         `json:"user_name"`
	UserRole   string         `json:"user_role"`
	Changes    map[string]any `json:"changes"`
	Reason     string         `json:"reason"`
	Notes      string         `json:"notes"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Branch and User exist only for best-effort audit enrichment.
type Branch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}
