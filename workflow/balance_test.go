package workflow

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"github.com/shopspring/decimal"
)

func TestDeriveDueStatus(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)
	past := now.Add(-48 * time.Hour)

	cases := []struct {
		name      string
		remaining string
		dueDate   time.Time
		want      models.DueStatus
	}{
		{"settled before due date", "0", future, models.DueStatusPaid},
		{"settled after due date", "0", past, models.DueStatusPaid},
		{"outstanding before due date", "50.00", future, models.DueStatusPending},
		{"outstanding after due date", "50.00", past, models.DueStatusOverdue},
		{"outstanding exactly at due instant", "50.00", now, models.DueStatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveDueStatus(d(tc.remaining), tc.dueDate, now)
			if got != tc.want {
				t.Fatalf("DeriveDueStatus(%s, %v) = %s; want %s", tc.remaining, tc.dueDate, got, tc.want)
			}
		})
	}
}

func TestDeriveDueStatusIgnoresStoredValue(t *testing.T) {
	// A transaction that crossed its due date without any write must flip to
	// overdue purely on read.
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	transactions := []models.Transaction{
		{RemainingBalance: d("10"), DueDate: now.Add(-time.Hour), DueStatus: models.DueStatusPending},
		{RemainingBalance: decimal.Zero, DueDate: now.Add(-time.Hour), DueStatus: models.DueStatusOverdue},
	}
	RefreshDueStatusOnRead(transactions, now)
	if transactions[0].DueStatus != models.DueStatusOverdue {
		t.Fatalf("stale pending transaction should read as overdue, got %s", transactions[0].DueStatus)
	}
	if transactions[1].DueStatus != models.DueStatusPaid {
		t.Fatalf("settled transaction should read as paid, got %s", transactions[1].DueStatus)
	}
}

func TestStockDirection(t *testing.T) {
	t.Setenv("LEGACY_PURCHASE_STOCK_DECREMENT", "")
	if !stockDirection(models.TransactionTypeCredit).Equal(decimal.NewFromInt(-1)) {
		t.Fatal("sales must take stock out")
	}
	if !stockDirection(models.TransactionTypeDebit).Equal(decimal.NewFromInt(1)) {
		t.Fatal("purchases must bring stock in")
	}

	t.Setenv("LEGACY_PURCHASE_STOCK_DECREMENT", "true")
	if !stockDirection(models.TransactionTypeDebit).Equal(decimal.NewFromInt(-1)) {
		t.Fatal("legacy flag must make purchases decrement stock")
	}
}
