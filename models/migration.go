package models

import (
	"log"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Client{}, &Supplier{},
		&Product{},
		&PaymentMethod{},
		&TotalBudget{},
		&Transaction{}, &TransactionProduct{},
		&Payment{},
		&Notification{},
		&AuditExportRecord{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
