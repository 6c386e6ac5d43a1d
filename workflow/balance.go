package workflow

import (
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DeriveDueStatus is the single source of truth for a transaction's due
// status. It is a pure function of the remaining balance and the due date,
// evaluated against now. A settled transaction is paid regardless of date.
func DeriveDueStatus(remainingBalance decimal.Decimal, dueDate time.Time, now time.Time) models.DueStatus {
	if remainingBalance.LessThanOrEqual(decimal.Zero) {
		return models.DueStatusPaid
	}
	if dueDate.Before(now) {
		return models.DueStatusOverdue
	}
	return models.DueStatusPending
}

// RecomputeRemainingBalance rebuilds remaining_balance from scratch as
// amount minus the sum of all surviving payments, and refreshes the stored
// due status. Called inside every payment mutation so the balance never
// drifts from its payments, whatever order mutations were applied in.
// The caller must hold the transaction row lock.
func RecomputeRemainingBalance(tx *gorm.DB, transaction *models.Transaction) error {
	var row struct {
		Total decimal.Decimal
	}
	err := tx.Raw(`
		SELECT COALESCE(SUM(amount_paid), 0) AS total
		FROM payments
		WHERE transaction_id = ?
	`, transaction.ID).Scan(&row).Error
	if err != nil {
		return err
	}

	remaining := transaction.Amount.Sub(row.Total)
	status := DeriveDueStatus(remaining, transaction.DueDate, time.Now())

	err = tx.Model(&models.Transaction{}).Where("id = ?", transaction.ID).
		Updates(map[string]interface{}{
			"remaining_balance": remaining,
			"due_status":        status,
		}).Error
	if err != nil {
		return err
	}
	transaction.RemainingBalance = remaining
	transaction.DueStatus = status
	return nil
}

// RefreshDueStatusOnRead re-derives the due status for transactions about to
// be returned to a caller, so one that crossed its due date without any
// write still reports overdue. The stored column is not updated here.
func RefreshDueStatusOnRead(transactions []models.Transaction, now time.Time) {
	for i := range transactions {
		transactions[i].DueStatus = DeriveDueStatus(transactions[i].RemainingBalance, transactions[i].DueDate, now)
	}
}
