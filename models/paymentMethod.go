package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
)

type PaymentMethod struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPaymentMethod struct {
	Name string `json:"name" binding:"required"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewPaymentMethod) validate(ctx context.Context, id int) error {
	// name
	if err := utils.ValidateUnique[PaymentMethod](ctx, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func CreatePaymentMethod(ctx context.Context, input *NewPaymentMethod) (*PaymentMethod, error) {
	db := config.GetDB()

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	paymentMethod := PaymentMethod{
		Name: input.Name,
	}
	if err := db.WithContext(ctx).Create(&paymentMethod).Error; err != nil {
		return nil, err
	}
	return &paymentMethod, nil
}

func ListPaymentMethods(ctx context.Context) ([]*PaymentMethod, error) {
	return utils.FetchAllModels[PaymentMethod](ctx)
}
