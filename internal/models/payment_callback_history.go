package models

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentGateway string

const (
	PaymentGatewayMidtrans PaymentGateway = "midtrans"
	PaymentGatewayManual   PaymentGateway = "manual"
)

type CallbackSource string

const (
	CallbackSourceClient  CallbackSource = "client_verification"
	CallbackSourceWebhook CallbackSource = "webhook"
)

// PaymentCallbackHistory is the audit trail of every confirmation the
// platform received, whether or not it was applied.
type PaymentCallbackHistory struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	PaymentGateway   PaymentGateway `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	Source           CallbackSource `gorm:"type:varchar(30);not null;index" json:"source"`
	GatewayOrderID   string         `gorm:"type:varchar(100);index" json:"gateway_order_id"`
	GatewayPaymentID string         `gorm:"type:varchar(100)" json:"gateway_payment_id"`
	GatewayEventID   string         `gorm:"type:varchar(191)" json:"gateway_event_id,omitempty"`
	EventType        string         `gorm:"type:varchar(100)" json:"event_type,omitempty"`
	SignatureValid   bool           `json:"signature_valid"`
	Outcome          string         `gorm:"type:varchar(50)" json:"outcome"`
	Metadata         datatypes.JSON `gorm:"type:jsonb" json:"metadata"`
	CreatedAt        time.Time      `json:"created_at"`
}
