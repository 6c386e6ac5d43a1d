package workflow

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
)

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func readCsv(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestCsvAuditSinkWritesTransactionAndLines(t *testing.T) {
	dir := t.TempDir()
	sink := NewCsvAuditSink(dir)

	clientId := 7
	transaction := models.Transaction{
		ID:              42,
		Type:            models.TransactionTypeCredit,
		Amount:          d("150.00"),
		Date:            time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		ClientId:        &clientId,
		PaymentMethodId: 2,
		ReferenceNumber: "INV-0042",
		Products: []models.TransactionProduct{
			{ProductId: 3, Quantity: d("5"), UnitPrice: d("30.00"), HistoricalCostPrice: d("20.00")},
		},
	}
	msg := models.AuditMessage{
		ReferenceId:   42,
		ReferenceType: models.AuditReferenceTypeTransaction,
		Action:        models.AuditActionCreate,
		NewObj:        mustMarshal(t, transaction),
	}
	if err := sink.Export(msg); err != nil {
		t.Fatalf("Export: %v", err)
	}

	rows := readCsv(t, filepath.Join(dir, "transactions.csv"))
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d rows", len(rows))
	}
	if rows[0][0] != "action" || rows[0][8] != "reference_number" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	got := rows[1]
	if got[0] != "C" || got[1] != "42" || got[2] != "credit" || got[5] != "7" || got[6] != "" || got[8] != "INV-0042" {
		t.Fatalf("unexpected transaction row: %v", got)
	}

	lineRows := readCsv(t, filepath.Join(dir, "transaction_products.csv"))
	if len(lineRows) != 2 {
		t.Fatalf("expected header + 1 line row, got %d rows", len(lineRows))
	}
	if lineRows[1][1] != "42" || lineRows[1][2] != "3" || lineRows[1][5] != "20.00" {
		t.Fatalf("unexpected line row: %v", lineRows[1])
	}
}

func TestCsvAuditSinkAppendsWithoutRepeatingHeader(t *testing.T) {
	dir := t.TempDir()
	sink := NewCsvAuditSink(dir)

	payment := models.Payment{ID: 1, TransactionId: 42, AmountPaid: d("50.00"), PaymentDate: time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC), PaymentMethodId: 2}
	create := models.AuditMessage{
		ReferenceId:   1,
		ReferenceType: models.AuditReferenceTypePayment,
		Action:        models.AuditActionCreate,
		NewObj:        mustMarshal(t, payment),
	}
	if err := sink.Export(create); err != nil {
		t.Fatalf("Export create: %v", err)
	}

	payment.AmountPaid = d("60.00")
	update := models.AuditMessage{
		ReferenceId:   1,
		ReferenceType: models.AuditReferenceTypePayment,
		Action:        models.AuditActionUpdate,
		NewObj:        mustMarshal(t, payment),
		OldObj:        mustMarshal(t, models.Payment{ID: 1}),
	}
	if err := sink.Export(update); err != nil {
		t.Fatalf("Export update: %v", err)
	}
	del := models.AuditMessage{
		ReferenceId:   1,
		ReferenceType: models.AuditReferenceTypePayment,
		Action:        models.AuditActionDelete,
		OldObj:        mustMarshal(t, payment),
	}
	if err := sink.Export(del); err != nil {
		t.Fatalf("Export delete: %v", err)
	}

	rows := readCsv(t, filepath.Join(dir, "payments.csv"))
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}
	if rows[1][0] != "C" || rows[2][0] != "U" || rows[3][0] != "D" {
		t.Fatalf("unexpected action sequence: %v %v %v", rows[1][0], rows[2][0], rows[3][0])
	}
	if rows[2][3] != "60.00" {
		t.Fatalf("update row should carry the new amount, got %v", rows[2])
	}
}

func TestCsvAuditSinkDeleteTransactionSkipsLineRows(t *testing.T) {
	dir := t.TempDir()
	sink := NewCsvAuditSink(dir)

	transaction := models.Transaction{
		ID:   9,
		Type: models.TransactionTypeDebit,
		Products: []models.TransactionProduct{
			{ProductId: 1, Quantity: d("2"), UnitPrice: d("4")},
		},
	}
	del := models.AuditMessage{
		ReferenceId:   9,
		ReferenceType: models.AuditReferenceTypeTransaction,
		Action:        models.AuditActionDelete,
		OldObj:        mustMarshal(t, transaction),
	}
	if err := sink.Export(del); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "transaction_products.csv")); !os.IsNotExist(err) {
		t.Fatal("delete events must not write line item rows")
	}
	rows := readCsv(t, filepath.Join(dir, "transactions.csv"))
	if len(rows) != 2 || rows[1][0] != "D" {
		t.Fatalf("expected one delete row, got %v", rows)
	}
}
