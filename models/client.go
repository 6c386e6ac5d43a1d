package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
)

type Client struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Email     string    `gorm:"size:255;default:null" json:"email"`
	Phone     string    `gorm:"size:50;default:null" json:"phone"`
	Address   string    `gorm:"size:255;default:null" json:"address"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewClient struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func CreateClient(ctx context.Context, input *NewClient) (*Client, error) {
	db := config.GetDB()

	client := Client{
		Name:    input.Name,
		Email:   input.Email,
		Phone:   input.Phone,
		Address: input.Address,
	}
	if err := db.WithContext(ctx).Create(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

// UnpaidTransactionsByClient lists transactions with an outstanding balance
// for one client.
func UnpaidTransactionsByClient(ctx context.Context, clientId int) ([]Transaction, error) {
	db := config.GetDB()

	if err := utils.ValidateResourceId[Client](ctx, clientId); err != nil {
		return nil, err
	}
	var transactions []Transaction
	err := db.WithContext(ctx).
		Where("client_id = ? AND remaining_balance > 0", clientId).
		Order("due_date ASC").
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}
