package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("ledger-backend")

// Transaction posting. Preconditions are checked in a fixed order and any
// failure aborts with no mutation: non-empty products, positive amount,
// amount within budget, existing counterparty, unique reference number,
// existing products, sufficient stock and cost coverage for sales, and
// initial payment within amount. Only after all checks pass do stock and
// ledger rows change, all inside one DB transaction under the posting lock.

func CreateTransaction(ctx context.Context, input *models.NewTransaction) (*models.Transaction, error) {
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer span.End()

	logger := config.GetLogger()
	db := config.GetDB()

	if err := validateTransactionInput(input); err != nil {
		return nil, err
	}

	// Best-effort guard against double-submits of the same reference from
	// impatient clients. The advisory lock and the unique index below are
	// the correctness mechanisms; losing this lock is not an error.
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "posting:ref:"+input.ReferenceNumber, 10*time.Second, nil)
		if err == nil {
			defer lock.Release(ctx)
		}
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := AcquirePostingLock(tx); err != nil {
		config.LogError(logger, "workflow", "CreateTransaction", "acquire posting lock", nil, err)
		return nil, err
	}
	defer ReleasePostingLock(tx)

	budget, err := models.GetBudgetForUpdate(tx)
	if err != nil {
		return nil, err
	}
	if input.Amount.GreaterThan(budget) {
		return nil, utils.NewValidationError("amount exceeds available budget")
	}

	if err := validateCounterparty(tx, input.Type, input.ClientId, input.SupplierId); err != nil {
		return nil, err
	}
	if err := validatePaymentMethod(tx, input.PaymentMethodId); err != nil {
		return nil, err
	}
	if err := validateReferenceUnique(tx, input.ReferenceNumber, 0); err != nil {
		return nil, err
	}

	items, totalCost, err := resolveItems(tx, input.Type, input.Date, input.Products)
	if err != nil {
		return nil, err
	}

	if input.InitialPayment.GreaterThan(input.Amount) {
		return nil, utils.NewValidationError("initial payment exceeds transaction amount")
	}

	now := time.Now()
	remaining := input.Amount.Sub(input.InitialPayment)
	transaction := models.Transaction{
		Type:             input.Type,
		Amount:           input.Amount,
		TotalCost:        totalCost,
		RemainingBalance: remaining,
		Date:             input.Date,
		ClientId:         input.ClientId,
		SupplierId:       input.SupplierId,
		PaymentMethodId:  input.PaymentMethodId,
		ReferenceNumber:  input.ReferenceNumber,
		DueDate:          input.DueDate,
		DueStatus:        DeriveDueStatus(remaining, input.DueDate, now),
		Products:         items,
	}
	if err := tx.Create(&transaction).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, utils.NewConflictError("duplicate reference number")
		}
		config.LogError(logger, "workflow", "CreateTransaction", "insert transaction", input, err)
		return nil, err
	}

	if input.InitialPayment.IsPositive() {
		payment := models.Payment{
			TransactionId:   transaction.ID,
			AmountPaid:      input.InitialPayment,
			PaymentDate:     input.Date,
			PaymentMethodId: input.PaymentMethodId,
		}
		if err := tx.Create(&payment).Error; err != nil {
			return nil, err
		}
		transaction.Payments = append(transaction.Payments, payment)
		if err := models.PublishToAuditExport(ctx, tx, now, payment.ID, models.AuditReferenceTypePayment, payment, nil, models.AuditActionCreate); err != nil {
			return nil, err
		}
	}

	if err := ApplyStockForItems(tx, transaction.Type, transaction.Products); err != nil {
		return nil, err
	}

	if err := models.PublishToAuditExport(ctx, tx, now, transaction.ID, models.AuditReferenceTypeTransaction, transaction, nil, models.AuditActionCreate); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "workflow", "CreateTransaction", "commit", nil, err)
		return nil, err
	}
	committed = true
	return &transaction, nil
}

func UpdateTransaction(ctx context.Context, id int, input *models.NewTransaction) (*models.Transaction, error) {
	ctx, span := tracer.Start(ctx, "UpdateTransaction")
	defer span.End()

	logger := config.GetLogger()
	db := config.GetDB()

	if err := validateTransactionInput(input); err != nil {
		return nil, err
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := AcquirePostingLock(tx); err != nil {
		config.LogError(logger, "workflow", "UpdateTransaction", "acquire posting lock", nil, err)
		return nil, err
	}
	defer ReleasePostingLock(tx)

	old, err := models.FetchTransactionForUpdate(tx, id)
	if err != nil {
		return nil, err
	}
	oldSnapshot := *old

	// Only a larger amount consumes additional budget; shrinking or keeping
	// the amount never fails the budget check.
	delta := input.Amount.Sub(old.Amount)
	if delta.IsPositive() {
		budget, err := models.GetBudgetForUpdate(tx)
		if err != nil {
			return nil, err
		}
		if delta.GreaterThan(budget) {
			return nil, utils.NewValidationError("amount exceeds available budget")
		}
	}

	if err := validateCounterparty(tx, input.Type, input.ClientId, input.SupplierId); err != nil {
		return nil, err
	}
	if err := validatePaymentMethod(tx, input.PaymentMethodId); err != nil {
		return nil, err
	}
	if err := validateReferenceUnique(tx, input.ReferenceNumber, id); err != nil {
		return nil, err
	}

	var paidSoFar decimal.Decimal
	for _, payment := range old.Payments {
		paidSoFar = paidSoFar.Add(payment.AmountPaid)
	}
	if input.Amount.LessThan(paidSoFar) {
		return nil, utils.NewValidationError("amount cannot be less than the total already paid")
	}
	// An initial payment on update books an extra payment row on top of the
	// existing ones, so it is capped by what is still owed.
	if paidSoFar.Add(input.InitialPayment).GreaterThan(input.Amount) {
		return nil, utils.NewValidationError("initial payment exceeds remaining balance")
	}

	// Put back what the old items took (or brought) so the new items are
	// validated against the stock the warehouse would actually have, then
	// replace the line item set wholesale.
	if err := RestoreStockForItems(tx, old.Type, old.Products); err != nil {
		return nil, err
	}
	if err := tx.Where("transaction_id = ?", id).Delete(&models.TransactionProduct{}).Error; err != nil {
		return nil, err
	}

	items, totalCost, err := resolveItems(tx, input.Type, input.Date, input.Products)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	remaining := input.Amount.Sub(paidSoFar).Sub(input.InitialPayment)
	updates := map[string]interface{}{
		"type":              input.Type,
		"amount":            input.Amount,
		"total_cost":        totalCost,
		"remaining_balance": remaining,
		"date":              input.Date,
		"client_id":         input.ClientId,
		"supplier_id":       input.SupplierId,
		"payment_method_id": input.PaymentMethodId,
		"reference_number":  input.ReferenceNumber,
		"due_date":          input.DueDate,
		"due_status":        DeriveDueStatus(remaining, input.DueDate, now),
	}
	if err := tx.Model(&models.Transaction{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, utils.NewConflictError("duplicate reference number")
		}
		config.LogError(logger, "workflow", "UpdateTransaction", "update transaction", input, err)
		return nil, err
	}

	for i := range items {
		items[i].TransactionId = id
	}
	if len(items) > 0 {
		if err := tx.Create(&items).Error; err != nil {
			return nil, err
		}
	}

	if err := ApplyStockForItems(tx, input.Type, items); err != nil {
		return nil, err
	}

	if input.InitialPayment.IsPositive() {
		payment := models.Payment{
			TransactionId:   id,
			AmountPaid:      input.InitialPayment,
			PaymentDate:     input.Date,
			PaymentMethodId: input.PaymentMethodId,
		}
		if err := tx.Create(&payment).Error; err != nil {
			return nil, err
		}
		if err := models.PublishToAuditExport(ctx, tx, now, payment.ID, models.AuditReferenceTypePayment, payment, nil, models.AuditActionCreate); err != nil {
			return nil, err
		}
	}

	updated, err := models.FetchTransactionForUpdate(tx, id)
	if err != nil {
		return nil, err
	}
	if err := models.PublishToAuditExport(ctx, tx, now, id, models.AuditReferenceTypeTransaction, updated, oldSnapshot, models.AuditActionUpdate); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "workflow", "UpdateTransaction", "commit", nil, err)
		return nil, err
	}
	committed = true
	return updated, nil
}

func DeleteTransaction(ctx context.Context, id int) error {
	ctx, span := tracer.Start(ctx, "DeleteTransaction")
	defer span.End()

	logger := config.GetLogger()
	db := config.GetDB()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := AcquirePostingLock(tx); err != nil {
		config.LogError(logger, "workflow", "DeleteTransaction", "acquire posting lock", nil, err)
		return err
	}
	defer ReleasePostingLock(tx)

	transaction, err := models.FetchTransactionForUpdate(tx, id)
	if err != nil {
		return err
	}

	if err := models.DeleteNotificationsByTransaction(tx, id); err != nil {
		return err
	}
	if err := RestoreStockForItems(tx, transaction.Type, transaction.Products); err != nil {
		return err
	}
	if err := tx.Where("transaction_id = ?", id).Delete(&models.TransactionProduct{}).Error; err != nil {
		return err
	}
	if err := tx.Where("transaction_id = ?", id).Delete(&models.Payment{}).Error; err != nil {
		return err
	}
	if err := tx.Delete(&models.Transaction{}, id).Error; err != nil {
		return err
	}

	now := time.Now()
	if err := models.PublishToAuditExport(ctx, tx, now, id, models.AuditReferenceTypeTransaction, nil, transaction, models.AuditActionDelete); err != nil {
		return err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "workflow", "DeleteTransaction", "commit", nil, err)
		return err
	}
	committed = true
	return nil
}

func validateTransactionInput(input *models.NewTransaction) error {
	if input.Type != models.TransactionTypeCredit && input.Type != models.TransactionTypeDebit {
		return utils.NewValidationError("type must be credit or debit")
	}
	if len(input.Products) == 0 {
		return utils.NewValidationError("products cannot be empty")
	}
	if !input.Amount.IsPositive() {
		return utils.NewValidationError("amount must be positive")
	}
	for _, item := range input.Products {
		if !item.Quantity.IsPositive() {
			return utils.NewValidationError(fmt.Sprintf("quantity must be positive for product %d", item.ProductId))
		}
		if item.UnitPrice.IsNegative() {
			return utils.NewValidationError(fmt.Sprintf("unit price cannot be negative for product %d", item.ProductId))
		}
	}
	if input.InitialPayment.IsNegative() {
		return utils.NewValidationError("initial payment cannot be negative")
	}
	return nil
}

func validateCounterparty(tx *gorm.DB, txType models.TransactionType, clientId, supplierId *int) error {
	switch txType {
	case models.TransactionTypeCredit:
		if clientId == nil || supplierId != nil {
			return utils.NewValidationError("credit transactions require a client and no supplier")
		}
		var count int64
		if err := tx.Model(&models.Client{}).Where("id = ?", *clientId).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return utils.NewValidationError(fmt.Sprintf("client %d does not exist", *clientId))
		}
	case models.TransactionTypeDebit:
		if supplierId == nil || clientId != nil {
			return utils.NewValidationError("debit transactions require a supplier and no client")
		}
		var count int64
		if err := tx.Model(&models.Supplier{}).Where("id = ?", *supplierId).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return utils.NewValidationError(fmt.Sprintf("supplier %d does not exist", *supplierId))
		}
	}
	return nil
}

func validatePaymentMethod(tx *gorm.DB, paymentMethodId int) error {
	var count int64
	if err := tx.Model(&models.PaymentMethod{}).Where("id = ?", paymentMethodId).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return utils.NewValidationError(fmt.Sprintf("payment method %d does not exist", paymentMethodId))
	}
	return nil
}

func validateReferenceUnique(tx *gorm.DB, referenceNumber string, excludeId int) error {
	var count int64
	query := tx.Model(&models.Transaction{}).Where("reference_number = ?", referenceNumber)
	if excludeId > 0 {
		query = query.Where("id <> ?", excludeId)
	}
	if err := query.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return utils.NewValidationError("duplicate reference number")
	}
	return nil
}

// resolveItems locks every referenced product, validates stock for sales
// with an in-request reservation map (the same product may appear on more
// than one line), resolves each line's cost basis, and returns the line
// rows plus the transaction's total cost.
func resolveItems(tx *gorm.DB, txType models.TransactionType, txDate time.Time, inputs []models.NewTransactionProduct) ([]models.TransactionProduct, decimal.Decimal, error) {
	// Lock product rows in id order so concurrent postings cannot deadlock.
	productIds := make([]int, 0, len(inputs))
	seen := map[int]bool{}
	for _, item := range inputs {
		if !seen[item.ProductId] {
			seen[item.ProductId] = true
			productIds = append(productIds, item.ProductId)
		}
	}
	sort.Ints(productIds)

	productsById := make(map[int]*models.Product, len(productIds))
	for _, productId := range productIds {
		product, err := models.GetProductForUpdate(tx, productId)
		if err != nil {
			if err == utils.ErrorRecordNotFound {
				return nil, decimal.Zero, utils.NewValidationError(fmt.Sprintf("product %d does not exist", productId))
			}
			return nil, decimal.Zero, err
		}
		productsById[productId] = product
	}

	reserved := map[int]decimal.Decimal{}
	items := make([]models.TransactionProduct, 0, len(inputs))
	totalCost := decimal.Zero
	for _, item := range inputs {
		product := productsById[item.ProductId]

		if txType == models.TransactionTypeCredit {
			available := product.StockQuantity.Sub(reserved[item.ProductId])
			if available.LessThan(item.Quantity) {
				return nil, decimal.Zero, utils.NewValidationError("insufficient stock for product " + product.Name)
			}
		}

		cost, err := LookupHistoricalCost(tx, item.ProductId, txDate, item.UnitPrice)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if txType == models.TransactionTypeCredit {
			if !SaleCoversCost(item.UnitPrice, cost) {
				return nil, decimal.Zero, utils.NewValidationError("unit price below cost basis for product " + product.Name)
			}
		} else {
			cost = ResolvePurchaseCost(item.UnitPrice, cost)
		}

		reserved[item.ProductId] = reserved[item.ProductId].Add(item.Quantity)
		totalCost = totalCost.Add(item.Quantity.Mul(cost))
		items = append(items, models.TransactionProduct{
			ProductId:           item.ProductId,
			Quantity:            item.Quantity,
			UnitPrice:           item.UnitPrice,
			HistoricalCostPrice: cost,
		})
	}
	return items, totalCost, nil
}
