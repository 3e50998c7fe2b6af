package models

import (
	"time"
)

// RefundStatus is the gateway-side state of a refund
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusProcessed RefundStatus = "PROCESSED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

// Refund records a full or partial refund issued against a captured payment
type Refund struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PaymentOrderID  string         `gorm:"type:varchar(36);index;not null" json:"payment_order_id"`
	GatewayRefundID string         `gorm:"type:varchar(100);index" json:"gateway_refund_id"`
	Gateway         PaymentGateway `gorm:"type:varchar(50)" json:"gateway"`

	Amount   int64  `gorm:"not null" json:"amount"`
	Currency string `gorm:"type:varchar(3);not null" json:"currency"`
	Reason   string `gorm:"type:text" json:"reason"`

	Status               RefundStatus  `gorm:"type:varchar(20);not null" json:"status"`
	ResultingOrderStatus PaymentStatus `gorm:"type:varchar(30)" json:"resulting_order_status"`
	ProcessedAt          *time.Time    `json:"processed_at,omitempty"`
}
