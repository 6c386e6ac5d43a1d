package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/workflow"
	"gorm.io/gorm"
)

// Repair tool: rebuilds remaining_balance and due_status for every
// transaction (or a single one) from its payment rows. Safe to run while
// the API is serving; each transaction is fixed under its own row lock.
func main() {
	transactionID := flag.Int("transaction-id", 0, "Optional: rebuild only one transaction. If 0, rebuilds all.")
	dryRun := flag.Bool("dry-run", false, "Report drift without writing.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	var ids []int
	query := db.WithContext(ctx).Model(&models.Transaction{}).Order("id ASC")
	if *transactionID > 0 {
		query = query.Where("id = ?", *transactionID)
	}
	if err := query.Pluck("id", &ids).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list transactions: %v\n", err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "no transactions found")
		return
	}

	var fixed, drifted int
	for _, id := range ids {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			transaction, err := models.FetchTransactionForUpdate(tx, id)
			if err != nil {
				return err
			}
			before := transaction.RemainingBalance
			if *dryRun {
				var total struct{ Total string }
				if err := tx.Raw("SELECT COALESCE(SUM(amount_paid), 0) AS total FROM payments WHERE transaction_id = ?", id).Scan(&total).Error; err != nil {
					return err
				}
				fmt.Printf("transaction %d: stored=%s payments_total=%s\n", id, before.String(), total.Total)
				return nil
			}
			if err := workflow.RecomputeRemainingBalance(tx, transaction); err != nil {
				return err
			}
			if !transaction.RemainingBalance.Equal(before) {
				drifted++
				fmt.Printf("transaction %d: %s -> %s\n", id, before.String(), transaction.RemainingBalance.String())
			}
			fixed++
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "transaction %d: %v\n", id, err)
		}
	}
	fmt.Printf("done: %d transactions processed, %d corrected\n", fixed, drifted)
}
