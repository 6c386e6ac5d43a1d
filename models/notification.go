package models

import (
	"time"

	"gorm.io/gorm"
)

// Notification rows reference a transaction (due-date reminders); they are
// cleaned up when the transaction is deleted.
type Notification struct {
	ID            int       `gorm:"primary_key" json:"id"`
	TransactionId int       `gorm:"index;not null" json:"transaction_id"`
	Message       string    `gorm:"type:text" json:"message"`
	IsRead        *bool     `gorm:"not null;default:false" json:"is_read"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func DeleteNotificationsByTransaction(tx *gorm.DB, transactionId int) error {
	return tx.Where("transaction_id = ?", transactionId).Delete(&Notification{}).Error
}
