package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/crm_backend/config"
	"github.com/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
)

// DealEventRecord is the transactional outbox row for deal lifecycle events.
// It is written in the same transaction as the deal mutation; the dispatcher
// publishes it to Pub/Sub after commit and fans out owner notifications.
type DealEventRecord struct {
	ID         int           `gorm:"primary_key;index:idx_deal_event_dispatch,priority:3" json:"id"`
	BusinessId string        `gorm:"size:64;not null;index" json:"business_id"`
	DealId     int           `gorm:"index;not null" json:"deal_id"`
	AccountId  int           `gorm:"index" json:"account_id"`
	OwnerId    int           `gorm:"index" json:"owner_id"`
	ActorId    int           `json:"actor_id"`
	EventType  DealEventType `gorm:"size:30;not null;index" json:"event_type"`
	OccurredAt time.Time     `gorm:"index;not null" json:"occurred_at"`
	Payload    []byte        `gorm:"type:blob" json:"payload"`
	// publish happens after commit via the dispatcher
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_deal_event_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_deal_event_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	NotifiedAt       *time.Time `json:"notified_at"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToPubSubMessage(record DealEventRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:            record.ID,
		BusinessId:    record.BusinessId,
		OccurredAt:    record.OccurredAt,
		DealId:        record.DealId,
		AccountId:     record.AccountId,
		OwnerId:       record.OwnerId,
		EventType:     string(record.EventType),
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}

// PublishDealEvent writes the outbox row inside the caller's transaction. The
// payload is the deal snapshot as of the mutation.
func PublishDealEvent(ctx context.Context, tx *gorm.DB, businessId string, deal *Deal, eventType DealEventType, actorId int) error {
	payload, err := json.Marshal(deal)
	if err != nil {
		return err
	}

	correlationId, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || correlationId == "" {
		correlationId = uuid.NewString()
	}

	record := DealEventRecord{
		BusinessId:    businessId,
		DealId:        deal.ID,
		AccountId:     deal.AccountId,
		OwnerId:       deal.OwnerId,
		ActorId:       actorId,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationId,
	}
	return tx.WithContext(ctx).Create(&record).Error
}
