package workflow

import (
	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// stockDirection returns the signed multiplier applied to line quantities
// for a transaction type. Sales take stock out, purchases bring it in.
// LEGACY_PURCHASE_STOCK_DECREMENT reproduces the historical behavior where
// purchases also decremented stock, for installations that depend on it.
func stockDirection(txType models.TransactionType) decimal.Decimal {
	if txType == models.TransactionTypeDebit && !config.LegacyPurchaseStockDecrement() {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// ApplyStockForItems mutates product stock for every line of a transaction
// inside the caller's DB transaction. Rows are locked per product; a sale
// that would drive any product negative fails the whole posting.
func ApplyStockForItems(tx *gorm.DB, txType models.TransactionType, items []models.TransactionProduct) error {
	direction := stockDirection(txType)
	for _, item := range items {
		delta := item.Quantity.Mul(direction)
		if _, err := models.AdjustProductStock(tx, item.ProductId, delta); err != nil {
			return err
		}
	}
	return nil
}

// RestoreStockForItems reverses a prior ApplyStockForItems for the same
// lines, used when a transaction is updated or deleted. Applying and
// restoring the same lines nets to zero.
func RestoreStockForItems(tx *gorm.DB, txType models.TransactionType, items []models.TransactionProduct) error {
	direction := stockDirection(txType).Neg()
	for _, item := range items {
		delta := item.Quantity.Mul(direction)
		if _, err := models.AdjustProductStock(tx, item.ProductId, delta); err != nil {
			return err
		}
	}
	return nil
}
