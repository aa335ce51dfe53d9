package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"gorm.io/gorm"
)

// Outbox publish statuses for LedgerEventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// LedgerEventRecord is the transactional outbox: written inside the business transaction,
// published by the dispatcher after commit.
type LedgerEventRecord struct {
	ID               int                      `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	ReferenceType    LedgerEventReferenceType `gorm:"size:40;not null;index:idx_ledger_event_ref,priority:1" json:"reference_type"`
	ReferenceId      int                      `gorm:"not null;index:idx_ledger_event_ref,priority:2" json:"reference_id"`
	Action           LedgerEventAction        `gorm:"size:1;not null" json:"action"`
	Payload          []byte                   `gorm:"type:blob" json:"payload"`
	PublishStatus    string                   `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishAttempts  int                      `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time               `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time               `gorm:"index" json:"locked_at"`
	LockedBy         *string                  `gorm:"size:100" json:"locked_by"`
	LastPublishError *string                  `gorm:"type:text" json:"last_publish_error"`
	PublishedAt      *time.Time               `gorm:"index" json:"published_at"`
	PubSubMessageId  *string                  `gorm:"size:255" json:"pubsub_message_id"`
	CorrelationId    string                   `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

// writeLedgerEvent records an outbox row on tx; it is published only if tx commits.
func writeLedgerEvent(ctx context.Context, tx *gorm.DB, refType LedgerEventReferenceType, refId int, action LedgerEventAction, obj interface{}) error {
	var payload []byte
	if obj != nil {
		var err error
		payload, err = json.Marshal(obj)
		if err != nil {
			return err
		}
	}

	record := LedgerEventRecord{
		ReferenceType: refType,
		ReferenceId:   refId,
		Action:        action,
		Payload:       payload,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: utils.CorrelationIdFromContextOrNew(ctx),
	}
	return tx.WithContext(ctx).Create(&record).Error
}

func ConvertToLedgerEventMessage(record LedgerEventRecord) config.LedgerEventMessage {
	return config.LedgerEventMessage{
		ID:            record.ID,
		ReferenceType: string(record.ReferenceType),
		ReferenceId:   record.ReferenceId,
		Action:        string(record.Action),
		Payload:       json.RawMessage(record.Payload),
		CorrelationId: record.CorrelationId,
		OccurredAt:    record.CreatedAt,
	}
}

// ListLedgerEvents returns the outbox rows for one referenced record, oldest first.
func ListLedgerEvents(ctx context.Context, refType LedgerEventReferenceType, refId int) ([]*LedgerEventRecord, error) {
	records, err := utils.FetchModelsWhere[LedgerEventRecord](ctx, config.GetDB(), "id", "reference_type = ? AND reference_id = ?", refType, refId)
	if err != nil {
		return nil, wrapPersistence("list ledger events", err)
	}
	return records, nil
}

// LedgerEventStatus is a caller-facing view of the newest outbox row for a record.
type LedgerEventStatus struct {
	RecordId         int                      `json:"record_id"`
	ReferenceType    LedgerEventReferenceType `json:"reference_type"`
	ReferenceId      int                      `json:"reference_id"`
	Action           LedgerEventAction        `json:"action"`
	PublishStatus    string                   `json:"publish_status"`
	PublishAttempts  int                      `json:"publish_attempts"`
	NextAttemptAt    *time.Time               `json:"next_attempt_at"`
	LastPublishError *string                  `json:"last_publish_error"`
	PublishedAt      *time.Time               `json:"published_at"`
	CreatedAt        time.Time                `json:"created_at"`
}

func GetLedgerEventStatus(ctx context.Context, refType LedgerEventReferenceType, refId int) (*LedgerEventStatus, error) {
	var record LedgerEventRecord
	result := config.GetDB().WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", refType, refId).
		Order("id DESC").Limit(1).Find(&record)
	if result.Error != nil {
		return nil, wrapPersistence("get ledger event status", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, newNotFoundError("ledger event for "+string(refType), refId)
	}
	return &LedgerEventStatus{
		RecordId:         record.ID,
		ReferenceType:    record.ReferenceType,
		ReferenceId:      record.ReferenceId,
		Action:           record.Action,
		PublishStatus:    record.PublishStatus,
		PublishAttempts:  record.PublishAttempts,
		NextAttemptAt:    record.NextAttemptAt,
		LastPublishError: record.LastPublishError,
		PublishedAt:      record.PublishedAt,
		CreatedAt:        record.CreatedAt,
	}, nil
}

// RequeueLedgerEvents puts FAILED and DEAD rows of a record back to PENDING with a fresh attempt budget.
func RequeueLedgerEvents(ctx context.Context, refType LedgerEventReferenceType, refId int) (int64, error) {
	res := config.GetDB().WithContext(ctx).
		Model(&LedgerEventRecord{}).
		Where("reference_type = ? AND reference_id = ? AND publish_status IN ?", refType, refId,
			[]string{OutboxPublishStatusFailed, OutboxPublishStatusDead}).
		Updates(map[string]interface{}{
			"publish_status":     OutboxPublishStatusPending,
			"publish_attempts":   0,
			"next_attempt_at":    nil,
			"locked_at":          nil,
			"locked_by":          nil,
			"last_publish_error": nil,
		})
	if res.Error != nil {
		return 0, wrapPersistence("requeue ledger events", res.Error)
	}
	return res.RowsAffected, nil
}
