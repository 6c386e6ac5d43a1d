package workflow

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Cost basis resolution. Every posted line captures a historical cost price:
// the most recently recorded cost for that product at or before the
// transaction date, across all prior line items regardless of transaction
// type. A sale seeded from the fallback establishes the basis just like a
// purchase does. The captured value is immutable once posted; repricing a
// product later never rewrites history.

// LookupHistoricalCost returns the cost basis for a product as of a given
// date. Ties on date break on the later posting, then the higher cost, so
// the result is deterministic under same-day postings. When the product has
// no recorded history the submitted unit price is the fallback.
func LookupHistoricalCost(tx *gorm.DB, productId int, asOf time.Time, fallback decimal.Decimal) (decimal.Decimal, error) {
	var row struct {
		Cost decimal.Decimal
	}
	err := tx.Raw(`
		SELECT tp.historical_cost_price AS cost
		FROM transaction_products tp
		JOIN transactions t ON t.id = tp.transaction_id
		WHERE tp.product_id = ? AND t.date <= ?
		ORDER BY t.date DESC, t.id DESC, tp.historical_cost_price DESC
		LIMIT 1
	`, productId, asOf).Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	if row.Cost.IsZero() {
		// Distinguish "no row" from a genuine zero-cost line.
		var count int64
		err = tx.Raw(`
			SELECT COUNT(*)
			FROM transaction_products tp
			JOIN transactions t ON t.id = tp.transaction_id
			WHERE tp.product_id = ? AND t.date <= ?
		`, productId, asOf).Scan(&count).Error
		if err != nil {
			return decimal.Zero, err
		}
		if count == 0 {
			return fallback, nil
		}
	}
	return row.Cost, nil
}

// ResolvePurchaseCost ratchets the recorded cost basis upward: a purchase
// line is booked at the higher of the submitted unit price and the resolved
// historical cost, so an unusually cheap restock cannot lower the basis of
// stock already on hand.
func ResolvePurchaseCost(unitPrice, historicalCost decimal.Decimal) decimal.Decimal {
	if historicalCost.GreaterThan(unitPrice) {
		return historicalCost
	}
	return unitPrice
}

// SaleCoversCost reports whether a sale line's unit price is at or above its
// resolved cost basis. Selling below cost is rejected at posting time.
func SaleCoversCost(unitPrice, historicalCost decimal.Decimal) bool {
	return !historicalCost.GreaterThan(unitPrice)
}
