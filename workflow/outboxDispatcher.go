package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Sink         AuditSink
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger, sink AuditSink) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		Sink:           sink,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *OutboxDispatcher) dispatchOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)
	db := d.DB
	if db == nil {
		return
	}

	var claimed []models.AuditExportRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING but lock is stale (dispatcher crashed mid-batch), reclaim after LockTimeout
		q := tx.
			Where(`
				(
					export_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					export_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.AuditExportStatusPending, models.AuditExportStatusFailed}, now, models.AuditExportStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for i := range claimed {
			// Enforce max attempts: poison records go terminal.
			if d.MaxAttempts > 0 && claimed[i].ExportAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max export attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].ExportStatus = models.AuditExportStatusDead
				if err := tx.Model(&models.AuditExportRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"export_status":     models.AuditExportStatusDead,
					"last_export_error": &msg,
					"next_attempt_at":   nil,
					"locked_at":         nil,
					"locked_by":         nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			// Claim for export.
			claimed[i].ExportStatus = models.AuditExportStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &d.DispatcherID
			claimed[i].ExportAttempts = claimed[i].ExportAttempts + 1
			claimed[i].LastExportError = nil
			if err := tx.Model(&models.AuditExportRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"export_status":     claimed[i].ExportStatus,
				"locked_at":         claimed[i].LockedAt,
				"locked_by":         claimed[i].LockedBy,
				"export_attempts":   gorm.Expr("export_attempts + 1"),
				"last_export_error": nil,
				"next_attempt_at":   nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		return
	}

	for _, rec := range claimed {
		// Skip terminal rows that were marked DEAD in the claim transaction.
		if rec.ExportStatus == models.AuditExportStatusDead {
			continue
		}
		if expErr := d.exportRecord(ctx, rec); expErr != nil {
			d.markExportFailed(ctx, rec.ID, expErr, rec.ExportAttempts)
			continue
		}
		d.markExportSent(ctx, rec.ID, now)
	}
}

// exportRecord appends the record to the CSV mirror exactly once. The
// idempotency key absorbs redeliveries: a record that already reached
// SUCCEEDED is skipped without touching the files again.
func (d *OutboxDispatcher) exportRecord(ctx context.Context, rec models.AuditExportRecord) error {
	const handlerName = "audit-csv-sink"
	messageId := fmt.Sprintf("%d", rec.ID)

	return d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip, err := BeginIdempotency(tx, handlerName, messageId)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}
		if err := d.Sink.Export(models.ConvertToAuditMessage(rec)); err != nil {
			_ = MarkIdempotencyFailed(tx, handlerName, messageId, err)
			return err
		}
		return MarkIdempotencySucceeded(tx, handlerName, messageId)
	})
}

func (d *OutboxDispatcher) markExportSent(ctx context.Context, recordID int, now time.Time) {
	db := d.DB.WithContext(ctx)
	_ = db.Model(&models.AuditExportRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"export_status":   models.AuditExportStatusSent,
			"exported_at":     &now,
			"locked_at":       nil,
			"locked_by":       nil,
			"next_attempt_at": nil,
		}).Error
}

func (d *OutboxDispatcher) markExportFailed(ctx context.Context, recordID int, err error, attempt int) {
	db := d.DB.WithContext(ctx)
	now := time.Now().UTC()
	msg := err.Error()

	// Terminal after MaxAttempts.
	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		_ = db.Model(&models.AuditExportRecord{}).
			Where("id = ?", recordID).
			Updates(map[string]interface{}{
				"export_status":     models.AuditExportStatusDead,
				"last_export_error": &msg,
				"next_attempt_at":   nil,
				"locked_at":         nil,
				"locked_by":         nil,
			}).Error

		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":     "OutboxDispatcher",
				"record_id": recordID,
				"attempt":   attempt,
			}).Error("audit export moved to DEAD after max attempts: " + fmt.Sprintf("%v", err))
		}
		return
	}

	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > time.Minute*10 {
			backoff = time.Minute * 10
			break
		}
	}
	next := now.Add(backoff)
	_ = db.Model(&models.AuditExportRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"export_status":     models.AuditExportStatusFailed,
			"last_export_error": &msg,
			"next_attempt_at":   &next,
			"locked_at":         nil,
			"locked_by":         nil,
		}).Error

	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":           "OutboxDispatcher",
			"record_id":       recordID,
			"attempt":         attempt,
			"next_attempt_at": next.Format(time.RFC3339Nano),
		}).Error("audit export failed: " + fmt.Sprintf("%v", err))
	}
}

// ReplayDeadExports re-queues DEAD records so the dispatcher picks them up
// again, used by the ops replay endpoint after the underlying cause (a full
// disk, a bad mount) has been fixed. Returns how many records were requeued.
func ReplayDeadExports(ctx context.Context, db *gorm.DB) (int64, error) {
	result := db.WithContext(ctx).Model(&models.AuditExportRecord{}).
		Where("export_status = ?", models.AuditExportStatusDead).
		Updates(map[string]interface{}{
			"export_status":     models.AuditExportStatusPending,
			"export_attempts":   0,
			"last_export_error": nil,
			"next_attempt_at":   nil,
			"locked_at":         nil,
			"locked_by":         nil,
		})
	return result.RowsAffected, result.Error
}
