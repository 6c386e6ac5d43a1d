package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// The audit CSV mirror is maintained through a transactional outbox: every
// transaction/payment mutation enqueues a record in the same DB transaction,
// and a background dispatcher appends to the CSV files after commit. Sink
// failures retry out-of-band and can never roll back the primary write.

type AuditReferenceType string

const (
	AuditReferenceTypeTransaction AuditReferenceType = "TX"
	AuditReferenceTypePayment     AuditReferenceType = "PM"
)

type AuditAction string

const (
	AuditActionCreate AuditAction = "C"
	AuditActionUpdate AuditAction = "U"
	AuditActionDelete AuditAction = "D"
)

const (
	AuditExportStatusPending    = "PENDING"
	AuditExportStatusProcessing = "PROCESSING"
	AuditExportStatusSent       = "SENT"
	AuditExportStatusFailed     = "FAILED"
	AuditExportStatusDead       = "DEAD"
)

type AuditExportRecord struct {
	ID                  int                `gorm:"primary_key;index:idx_audit_dispatch,priority:3" json:"id"`
	TransactionDateTime time.Time          `gorm:"index;not null" json:"transaction_date_time"`
	ReferenceId         int                `json:"reference_id"`
	ReferenceType       AuditReferenceType `gorm:"type:enum('TX','PM')" json:"reference_type"`
	Action              AuditAction        `gorm:"type:enum('C','U','D')" json:"action"`
	OldObj              []byte             `gorm:"type:blob" json:"old_obj"`
	NewObj              []byte             `gorm:"type:blob" json:"new_obj"`
	// Export metadata (the CSV append happens after commit via dispatcher).
	ExportStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_audit_dispatch,priority:1" json:"export_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	ExportedAt      *time.Time `gorm:"index" json:"exported_at"`
	ExportAttempts  int        `gorm:"not null;default:0" json:"export_attempts"`
	NextAttemptAt   *time.Time `gorm:"index;index:idx_audit_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt        *time.Time `gorm:"index" json:"locked_at"`
	LockedBy        *string    `gorm:"size:100" json:"locked_by"`
	LastExportError *string    `gorm:"type:text" json:"last_export_error"`
	CorrelationId   string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// AuditMessage is the decoded form handed to the export sink.
type AuditMessage struct {
	ID                  int
	TransactionDateTime time.Time
	ReferenceId         int
	ReferenceType       AuditReferenceType
	Action              AuditAction
	OldObj              []byte
	NewObj              []byte
	CorrelationId       string
}

func ConvertToAuditMessage(record AuditExportRecord) AuditMessage {
	return AuditMessage{
		ID:                  record.ID,
		TransactionDateTime: record.TransactionDateTime,
		ReferenceId:         record.ReferenceId,
		ReferenceType:       record.ReferenceType,
		Action:              record.Action,
		OldObj:              record.OldObj,
		NewObj:              record.NewObj,
		CorrelationId:       record.CorrelationId,
	}
}

// PublishToAuditExport enqueues an outbox record inside the caller's
// transaction. obj/oldObj are marshalled according to the action.
func PublishToAuditExport(ctx context.Context, tx *gorm.DB, transactionDateTime time.Time, refId int, refType AuditReferenceType, obj interface{}, oldObj interface{}, action AuditAction) error {

	var objInByte []byte
	var oldObjInByte []byte
	var err error

	if action == AuditActionCreate || action == AuditActionUpdate {
		objInByte, err = json.Marshal(obj)
		if err != nil {
			return err
		}
	}
	if action == AuditActionUpdate || action == AuditActionDelete {
		oldObjInByte, err = json.Marshal(oldObj)
		if err != nil {
			return err
		}
	}

	record := AuditExportRecord{
		TransactionDateTime: transactionDateTime,
		ReferenceId:         refId,
		ReferenceType:       refType,
		Action:              action,
		NewObj:              objInByte,
		OldObj:              oldObjInByte,
		ExportStatus:        AuditExportStatusPending,
		CorrelationId:       correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok && cid != "" {
		return cid
	}
	return uuid.NewString()
}
