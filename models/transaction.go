package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TransactionType string

const (
	// TransactionTypeCredit is a sale to a client (stock leaves).
	TransactionTypeCredit TransactionType = "credit"
	// TransactionTypeDebit is a purchase from a supplier (stock arrives).
	TransactionTypeDebit TransactionType = "debit"
)

type DueStatus string

const (
	DueStatusPending DueStatus = "pending"
	DueStatusPaid    DueStatus = "paid"
	DueStatusOverdue DueStatus = "overdue"
)

type Transaction struct {
	ID               int             `gorm:"primary_key" json:"id"`
	Type             TransactionType `gorm:"type:enum('credit','debit');not null" json:"type"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	TotalCost        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_cost"`
	RemainingBalance decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"remaining_balance"`
	Date             time.Time       `gorm:"index;not null" json:"date"`
	ClientId         *int            `gorm:"index" json:"client_id"`
	SupplierId       *int            `gorm:"index" json:"supplier_id"`
	PaymentMethodId  int             `json:"payment_method_id"`
	ReferenceNumber  string          `gorm:"size:100;uniqueIndex;not null" json:"reference_number"`
	DueDate          time.Time       `gorm:"index;not null" json:"due_date"`
	// DueStatus is derived from (remaining_balance, due_date); the stored
	// value is refreshed on every balance mutation and again on read so a
	// transaction that crossed its due date without a write still reports
	// overdue.
	DueStatus DueStatus            `gorm:"type:enum('pending','paid','overdue');default:'pending'" json:"due_status"`
	Products  []TransactionProduct `gorm:"foreignKey:TransactionId" json:"products"`
	Payments  []Payment            `gorm:"foreignKey:TransactionId" json:"payments"`
	CreatedAt time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

type TransactionProduct struct {
	ID            int             `gorm:"primary_key" json:"id"`
	TransactionId int             `gorm:"index;not null" json:"transaction_id"`
	ProductId     int             `gorm:"index;not null" json:"product_id"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	// HistoricalCostPrice is the resolved cost basis captured at posting
	// time; it never changes afterwards.
	HistoricalCostPrice decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"historical_cost_price"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTransactionProduct struct {
	ProductId int             `json:"product_id" binding:"required"`
	Quantity  decimal.Decimal `json:"quantity" binding:"required"`
	UnitPrice decimal.Decimal `json:"unit_price" binding:"required"`
}

type NewTransaction struct {
	Type            TransactionType         `json:"type" binding:"required"`
	Amount          decimal.Decimal         `json:"amount" binding:"required"`
	Date            time.Time               `json:"date" binding:"required"`
	ClientId        *int                    `json:"client_id"`
	SupplierId      *int                    `json:"supplier_id"`
	PaymentMethodId int                     `json:"payment_method_id" binding:"required"`
	ReferenceNumber string                  `json:"reference_number" binding:"required"`
	DueDate         time.Time               `json:"due_date" binding:"required"`
	InitialPayment  decimal.Decimal         `json:"initial_payment"`
	Products        []NewTransactionProduct `json:"products" binding:"required,dive"`
}

// FetchTransactionForUpdate locks the transaction row so concurrent payment
// mutations against the same transaction serialize. Must be called inside a
// transaction; associations are loaded after the lock is taken.
func FetchTransactionForUpdate(tx *gorm.DB, transactionId int) (*Transaction, error) {
	var transaction Transaction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&transaction, transactionId).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := tx.Model(&transaction).Association("Products").Find(&transaction.Products); err != nil {
		return nil, err
	}
	if err := tx.Model(&transaction).Association("Payments").Find(&transaction.Payments); err != nil {
		return nil, err
	}
	return &transaction, nil
}

func GetTransaction(ctx context.Context, id int) (*Transaction, error) {
	return utils.FetchModel[Transaction](ctx, id, "Products", "Payments")
}

type TransactionFilter struct {
	Type       *TransactionType
	ClientId   *int
	SupplierId *int
	DateFrom   *time.Time
	DateTo     *time.Time
	Limit      int
	Offset     int
}

func ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	db := config.GetDB()

	query := db.WithContext(ctx).Model(&Transaction{}).
		Preload("Products").Preload("Payments")
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.ClientId != nil {
		query = query.Where("client_id = ?", *filter.ClientId)
	}
	if filter.SupplierId != nil {
		query = query.Where("supplier_id = ?", *filter.SupplierId)
	}
	if filter.DateFrom != nil {
		query = query.Where("date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("date <= ?", *filter.DateTo)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = config.SearchLimit
	}

	var transactions []Transaction
	err := query.Order("date DESC, id DESC").
		Limit(limit).Offset(filter.Offset).
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}
