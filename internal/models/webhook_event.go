package models

import (
	"time"

	"gorm.io/datatypes"
)

type WebhookEventStatus string

const (
	WebhookEventStatusProcessing WebhookEventStatus = "processing"
	WebhookEventStatusProcessed  WebhookEventStatus = "processed"
	WebhookEventStatusFailed     WebhookEventStatus = "failed"
)

// WebhookEvent is the dedup ledger for gateway deliveries.
// GatewayEventID is unique; rows older than the dedup window are purged.
type WebhookEvent struct {
	ID              uint               `gorm:"primaryKey" json:"id"`
	GatewayEventID  string             `gorm:"type:varchar(191);uniqueIndex;not null" json:"gateway_event_id"`
	EventType       string             `gorm:"type:varchar(100);index" json:"event_type"`
	Payload         datatypes.JSON     `gorm:"type:jsonb" json:"payload"`
	Status          WebhookEventStatus `gorm:"type:varchar(20);not null" json:"status"`
	ProcessingError string             `gorm:"type:text" json:"processing_error,omitempty"`
	ReceivedAt      time.Time          `gorm:"index" json:"received_at"`
	ProcessedAt     *time.Time         `json:"processed_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}
