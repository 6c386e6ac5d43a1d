package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
)

type Payment struct {
	ID              int             `gorm:"primary_key" json:"id"`
	TransactionId   int             `gorm:"index;not null" json:"transaction_id"`
	AmountPaid      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount_paid"`
	PaymentDate     time.Time       `gorm:"index;not null" json:"payment_date"`
	PaymentMethodId int             `json:"payment_method_id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// PaymentDate is optional; the workflow stamps the current time when the
// client omits it.
type NewPayment struct {
	TransactionId   int             `json:"transaction_id" binding:"required"`
	AmountPaid      decimal.Decimal `json:"amount_paid" binding:"required"`
	PaymentDate     time.Time       `json:"payment_date"`
	PaymentMethodId int             `json:"payment_method_id" binding:"required"`
}

type PaymentPatch struct {
	AmountPaid      *decimal.Decimal `json:"amount_paid"`
	PaymentDate     *time.Time       `json:"payment_date"`
	PaymentMethodId *int             `json:"payment_method_id"`
}

func GetPayment(ctx context.Context, id int) (*Payment, error) {
	return utils.FetchModel[Payment](ctx, id)
}

func ListPaymentsByTransaction(ctx context.Context, transactionId int) ([]Payment, error) {
	db := config.GetDB()
	var payments []Payment
	err := db.WithContext(ctx).
		Where("transaction_id = ?", transactionId).
		Order("payment_date ASC, id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
