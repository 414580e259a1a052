package domain

import (
	"strings"

	"github.com/kemiade/salon-stock-engine/internal/models"
)

// VoidSuffix distinguishes the return-path dedup key from the deduction key
// for the same transaction id.
const VoidSuffix = "_voided"

func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// IsSaleStatus reports whether a status counts as a settled sale.
func IsSaleStatus(status string) bool {
	switch normalizeStatus(status) {
	case TxStatusPaid, TxStatusCompleted:
		return true
	}
	return false
}

// IsVoidStatus reports whether a status counts as a voided sale.
func IsVoidStatus(status string) bool {
	switch normalizeStatus(status) {
	case TxStatusVoided, TxStatusCancelled:
		return true
	}
	return false
}

// DeductionEligible reports whether a transaction change should trigger the
// deduction path: settled status, at least one line item, not yet deducted.
func DeductionEligible(tx *models.Transaction) bool {
	return IsSaleStatus(tx.Status) && len(tx.Products) > 0 && !tx.StockDeducted
}

// ReturnEligible reports whether a transaction change should trigger the
// compensation path. A transaction voided before it was ever deducted produces
// nothing to return.
func ReturnEligible(tx *models.Transaction) bool {
	return IsVoidStatus(tx.Status) && len(tx.Products) > 0 && tx.StockDeducted && !tx.StockReturned
}

// DeductionKey and ReturnKey are the dedup-set keys for the two paths.
func DeductionKey(txID string) string { return txID }

func ReturnKey(txID string) string { return txID + VoidSuffix }
