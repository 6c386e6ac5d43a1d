package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Payment settlement. Every mutation locks the parent transaction row first,
// applies the change, then rebuilds remaining_balance from the surviving
// payments. The parent lock serializes concurrent payments against the same
// transaction, so two half-balance payments cannot both pass the
// overpayment check.

func CreatePayment(ctx context.Context, input *models.NewPayment) (*models.Payment, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	if !input.AmountPaid.IsPositive() {
		return nil, utils.NewValidationError("amount paid must be positive")
	}
	paymentDate := input.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = time.Now()
	}

	var payment models.Payment
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		parent, err := models.FetchTransactionForUpdate(tx, input.TransactionId)
		if err != nil {
			return err
		}
		if err := validatePaymentMethod(tx, input.PaymentMethodId); err != nil {
			return err
		}

		if !parent.RemainingBalance.IsPositive() {
			return utils.NewValidationError("transaction is already fully paid")
		}
		if input.AmountPaid.GreaterThan(parent.RemainingBalance) {
			return utils.NewValidationError("payment exceeds remaining balance")
		}

		payment = models.Payment{
			TransactionId:   input.TransactionId,
			AmountPaid:      input.AmountPaid,
			PaymentDate:     paymentDate,
			PaymentMethodId: input.PaymentMethodId,
		}
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}
		if err := RecomputeRemainingBalance(tx, parent); err != nil {
			return err
		}
		return models.PublishToAuditExport(ctx, tx, time.Now(), payment.ID, models.AuditReferenceTypePayment, payment, nil, models.AuditActionCreate)
	})
	if err != nil {
		if !utils.IsValidationError(err) && !utils.IsNotFound(err) {
			config.LogError(logger, "workflow", "CreatePayment", "create payment", input, err)
		}
		return nil, err
	}
	return &payment, nil
}

func UpdatePayment(ctx context.Context, id int, patch *models.PaymentPatch) (*models.Payment, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	if patch.AmountPaid != nil && !patch.AmountPaid.IsPositive() {
		return nil, utils.NewValidationError("amount paid must be positive")
	}

	var payment models.Payment
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Parent first, then the payment row, so the lock order matches
		// CreatePayment and DeletePayment.
		var existing models.Payment
		if err := tx.First(&existing, id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		parent, err := models.FetchTransactionForUpdate(tx, existing.TransactionId)
		if err != nil {
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&payment, id).Error; err != nil {
			return err
		}
		oldSnapshot := payment

		if patch.AmountPaid != nil {
			// The old amount is being replaced, so it is headroom on top of
			// whatever balance remains. Paying exactly the ceiling settles
			// the transaction and is allowed.
			ceiling := parent.RemainingBalance.Add(payment.AmountPaid)
			if patch.AmountPaid.GreaterThan(ceiling) {
				return utils.NewValidationError("payment exceeds remaining balance")
			}
			payment.AmountPaid = *patch.AmountPaid
		}
		if patch.PaymentDate != nil {
			payment.PaymentDate = *patch.PaymentDate
		}
		if patch.PaymentMethodId != nil {
			if err := validatePaymentMethod(tx, *patch.PaymentMethodId); err != nil {
				return err
			}
			payment.PaymentMethodId = *patch.PaymentMethodId
		}

		if err := tx.Save(&payment).Error; err != nil {
			return err
		}
		if err := RecomputeRemainingBalance(tx, parent); err != nil {
			return err
		}
		return models.PublishToAuditExport(ctx, tx, time.Now(), payment.ID, models.AuditReferenceTypePayment, payment, oldSnapshot, models.AuditActionUpdate)
	})
	if err != nil {
		if !utils.IsValidationError(err) && !utils.IsNotFound(err) {
			config.LogError(logger, "workflow", "UpdatePayment", "update payment", patch, err)
		}
		return nil, err
	}
	return &payment, nil
}

func DeletePayment(ctx context.Context, id int) error {
	logger := config.GetLogger()
	db := config.GetDB()

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Payment
		if err := tx.First(&existing, id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		parent, err := models.FetchTransactionForUpdate(tx, existing.TransactionId)
		if err != nil {
			return err
		}

		if err := tx.Delete(&models.Payment{}, id).Error; err != nil {
			return err
		}
		if err := RecomputeRemainingBalance(tx, parent); err != nil {
			return err
		}
		return models.PublishToAuditExport(ctx, tx, time.Now(), id, models.AuditReferenceTypePayment, nil, existing, models.AuditActionDelete)
	})
	if err != nil {
		if !utils.IsNotFound(err) {
			config.LogError(logger, "workflow", "DeletePayment", "delete payment", id, err)
		}
		return err
	}
	return nil
}
