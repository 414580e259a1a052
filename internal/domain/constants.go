package domain

// Transaction statuses as written by the checkout flow. Comparison is
// case-insensitive everywhere; these are the canonical lowercase forms.
const (
	TxStatusPending   = "pending"
	TxStatusPaid      = "paid"
	TxStatusCompleted = "completed"
	TxStatusVoided    = "voided"
	TxStatusCancelled = "cancelled"
)

// Activity log identifiers.
const (
	ModuleStocks       = "stocks"
	ActionDeduct       = "deduct"
	ActionReturn       = "return"
	ActionWeeklyRecord = "weekly_record"
)

// Mutation methods recorded on deduction entries.
const (
	MethodFIFO     = "fifo"
	MethodFallback = "fallback"
)

// StockRecordActive is the status of the single aggregate record per
// branch+product this engine operates on.
const StockRecordActive = "active"

// UnknownName is the enrichment placeholder when a branch or user lookup
// fails; absence of a name never blocks a mutation.
const UnknownName = "Unknown"
