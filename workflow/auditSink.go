package workflow

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
)

// AuditSink appends audit events to the CSV mirror. One row per event with
// a leading action column (C/U/D), so the files are an append-only journal
// rather than a snapshot and never need rewriting in place.
type AuditSink interface {
	Export(msg models.AuditMessage) error
}

type CsvAuditSink struct {
	Dir string
}

func NewCsvAuditSink(dir string) *CsvAuditSink {
	return &CsvAuditSink{Dir: dir}
}

var (
	transactionsHeader        = []string{"action", "id", "type", "amount", "date", "client_id", "supplier_id", "payment_method_id", "reference_number"}
	transactionProductsHeader = []string{"action", "transaction_id", "product_id", "quantity", "unit_price", "historical_cost_price"}
	paymentsHeader            = []string{"action", "id", "transaction_id", "amount_paid", "payment_date", "payment_method_id"}
)

func (s *CsvAuditSink) Export(msg models.AuditMessage) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	switch msg.ReferenceType {
	case models.AuditReferenceTypeTransaction:
		return s.exportTransaction(msg)
	case models.AuditReferenceTypePayment:
		return s.exportPayment(msg)
	default:
		return fmt.Errorf("unknown audit reference type %q", msg.ReferenceType)
	}
}

func (s *CsvAuditSink) exportTransaction(msg models.AuditMessage) error {
	var transaction models.Transaction
	payload := msg.NewObj
	if msg.Action == models.AuditActionDelete {
		payload = msg.OldObj
	}
	if err := json.Unmarshal(payload, &transaction); err != nil {
		return err
	}

	row := []string{
		string(msg.Action),
		fmt.Sprintf("%d", transaction.ID),
		string(transaction.Type),
		transaction.Amount.String(),
		transaction.Date.Format("2006-01-02"),
		intPtrField(transaction.ClientId),
		intPtrField(transaction.SupplierId),
		fmt.Sprintf("%d", transaction.PaymentMethodId),
		transaction.ReferenceNumber,
	}
	if err := s.appendRows("transactions.csv", transactionsHeader, [][]string{row}); err != nil {
		return err
	}

	// Line items accompany create and update events; a delete event for the
	// parent already implies its lines are gone.
	if msg.Action == models.AuditActionDelete {
		return nil
	}
	itemRows := make([][]string, 0, len(transaction.Products))
	for _, item := range transaction.Products {
		itemRows = append(itemRows, []string{
			string(msg.Action),
			fmt.Sprintf("%d", transaction.ID),
			fmt.Sprintf("%d", item.ProductId),
			item.Quantity.String(),
			item.UnitPrice.String(),
			item.HistoricalCostPrice.String(),
		})
	}
	return s.appendRows("transaction_products.csv", transactionProductsHeader, itemRows)
}

func (s *CsvAuditSink) exportPayment(msg models.AuditMessage) error {
	var payment models.Payment
	payload := msg.NewObj
	if msg.Action == models.AuditActionDelete {
		payload = msg.OldObj
	}
	if err := json.Unmarshal(payload, &payment); err != nil {
		return err
	}

	row := []string{
		string(msg.Action),
		fmt.Sprintf("%d", payment.ID),
		fmt.Sprintf("%d", payment.TransactionId),
		payment.AmountPaid.String(),
		payment.PaymentDate.Format("2006-01-02"),
		fmt.Sprintf("%d", payment.PaymentMethodId),
	}
	return s.appendRows("payments.csv", paymentsHeader, [][]string{row})
}

func (s *CsvAuditSink) appendRows(filename string, header []string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	path := filepath.Join(s.Dir, filename)

	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func intPtrField(v *int) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", *v)
}
