package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentStatus is the lifecycle state of a PaymentOrder
type PaymentStatus string

const (
	PaymentStatusCreated           PaymentStatus = "CREATED"
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusPaid              PaymentStatus = "PAID"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// paymentTransitions lists the allowed next states for every state.
// FAILED and REFUNDED are terminal.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusCreated:           {PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPending:           {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:              {PaymentStatusRefunded, PaymentStatusPartiallyRefunded},
	PaymentStatusPartiallyRefunded: {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s PaymentStatus) IsTerminal() bool {
	return len(paymentTransitions[s]) == 0
}

// IsCaptured reports whether the funds were captured at some point.
// Refunded orders were captured before being refunded.
func (s PaymentStatus) IsCaptured() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusPartiallyRefunded, PaymentStatusRefunded:
		return true
	}
	return false
}

// IsRefundable reports whether a refund may be issued from this state
func (s PaymentStatus) IsRefundable() bool {
	return s == PaymentStatusPaid || s == PaymentStatusPartiallyRefunded
}

// StatusesTransitioningTo returns every state that may move to next
func StatusesTransitioningTo(next PaymentStatus) []PaymentStatus {
	var from []PaymentStatus
	for _, s := range []PaymentStatus{
		PaymentStatusCreated,
		PaymentStatusPending,
		PaymentStatusPaid,
		PaymentStatusPartiallyRefunded,
	} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

// ReferenceType identifies the consulting record a payment settles
type ReferenceType string

const (
	ReferenceTypeNone      ReferenceType = ""
	ReferenceTypeSession   ReferenceType = "session"
	ReferenceTypeQuotation ReferenceType = "quotation"
)

// PaymentOrder is a payment intent created against the upstream gateway
type PaymentOrder struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Gateway          PaymentGateway `gorm:"type:varchar(50);not null" json:"gateway"`
	GatewayOrderID   string         `gorm:"type:varchar(100);uniqueIndex;not null" json:"gateway_order_id"`
	GatewayPaymentID *string        `gorm:"type:varchar(100);index" json:"gateway_payment_id,omitempty"`

	// Amounts are integer minor-currency units
	Amount         int64  `gorm:"not null" json:"amount"`
	Currency       string `gorm:"type:varchar(3);not null" json:"currency"`
	RefundedAmount int64  `gorm:"not null;default:0" json:"refunded_amount"`

	ConsultantID  string        `gorm:"type:varchar(100);index;not null" json:"consultant_id"`
	ReferenceType ReferenceType `gorm:"type:varchar(20)" json:"reference_type,omitempty"`
	ReferenceID   *string       `gorm:"type:varchar(100);index" json:"reference_id,omitempty"`

	ClientName  string `gorm:"type:varchar(255)" json:"client_name"`
	ClientEmail string `gorm:"type:varchar(255)" json:"client_email"`
	ClientPhone string `gorm:"type:varchar(50)" json:"client_phone"`

	IdempotencyKey string `gorm:"type:varchar(128);index" json:"idempotency_key"`

	Status             PaymentStatus `gorm:"type:varchar(30);index;not null" json:"status"`
	FailureCode        string        `gorm:"type:varchar(100)" json:"failure_code,omitempty"`
	FailureDescription string        `gorm:"type:text" json:"failure_description,omitempty"`

	CheckoutToken string `gorm:"type:varchar(255)" json:"checkout_token,omitempty"`
	CheckoutURL   string `gorm:"type:text" json:"checkout_url,omitempty"`

	// Version is bumped on every write and guards optimistic updates
	Version int64 `gorm:"not null;default:1" json:"version"`

	PaidAt     *time.Time `json:"paid_at,omitempty"`
	FailedAt   *time.Time `json:"failed_at,omitempty"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`

	GatewayMetadata datatypes.JSON `gorm:"type:jsonb" json:"gateway_metadata,omitempty"`

	// Relationships
	Refunds []Refund `gorm:"foreignKey:PaymentOrderID" json:"refunds,omitempty"`
}

// RemainingRefundable is the captured amount not yet refunded
func (o PaymentOrder) RemainingRefundable() int64 {
	if !o.Status.IsCaptured() {
		return 0
	}
	remaining := o.Amount - o.RefundedAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HasReference reports whether a session or quotation must be marked paid
func (o PaymentOrder) HasReference() bool {
	return o.ReferenceType != ReferenceTypeNone && o.ReferenceID != nil && *o.ReferenceID != ""
}
