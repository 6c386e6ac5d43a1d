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

// TotalBudget holds the available funds ceiling. A single active row
// (BudgetRowId) is read as a precondition for transaction posting.
type TotalBudget struct {
	ID        int             `gorm:"primary_key" json:"id"`
	Budget    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"budget"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TotalBudget) TableName() string { return "total_budget" }

const BudgetRowId = 1

type NewTotalBudget struct {
	Budget decimal.Decimal `json:"budget" binding:"required"`
}

func GetBudget(ctx context.Context) (*TotalBudget, error) {
	db := config.GetDB()
	var budget TotalBudget
	err := db.WithContext(ctx).First(&budget, BudgetRowId).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &budget, nil
}

// GetBudgetForUpdate reads the budget row under a row lock so concurrent
// posting requests serialize on it. Must be called inside a transaction.
// A missing row is treated as a zero budget.
func GetBudgetForUpdate(tx *gorm.DB) (decimal.Decimal, error) {
	var budget TotalBudget
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&budget, BudgetRowId).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return budget.Budget, nil
}

func UpdateBudget(ctx context.Context, id int, input *NewTotalBudget) (*TotalBudget, error) {
	db := config.GetDB()

	if input.Budget.IsNegative() {
		return nil, utils.NewValidationError("budget cannot be negative")
	}

	var budget TotalBudget
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&budget, id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		return tx.Model(&budget).Update("budget", input.Budget).Error
	})
	if err != nil {
		return nil, err
	}
	budget.Budget = input.Budget
	return &budget, nil
}
