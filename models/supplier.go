package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
)

type Supplier struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Email     string    `gorm:"size:255;default:null" json:"email"`
	Phone     string    `gorm:"size:50;default:null" json:"phone"`
	Address   string    `gorm:"size:255;default:null" json:"address"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSupplier struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func CreateSupplier(ctx context.Context, input *NewSupplier) (*Supplier, error) {
	db := config.GetDB()

	supplier := Supplier{
		Name:    input.Name,
		Email:   input.Email,
		Phone:   input.Phone,
		Address: input.Address,
	}
	if err := db.WithContext(ctx).Create(&supplier).Error; err != nil {
		return nil, err
	}
	return &supplier, nil
}

// UnpaidTransactionsBySupplier lists transactions with an outstanding balance
// for one supplier.
func UnpaidTransactionsBySupplier(ctx context.Context, supplierId int) ([]Transaction, error) {
	db := config.GetDB()

	if err := utils.ValidateResourceId[Supplier](ctx, supplierId); err != nil {
		return nil, err
	}
	var transactions []Transaction
	err := db.WithContext(ctx).
		Where("supplier_id = ? AND remaining_balance > 0", supplierId).
		Order("due_date ASC").
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}
