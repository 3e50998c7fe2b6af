package models

import (
	"time"

	"gorm.io/gorm"
)

// ReferencePaymentStatus is the payment flag carried by sessions and quotations
type ReferencePaymentStatus string

const (
	ReferencePaymentStatusUnpaid ReferencePaymentStatus = "unpaid"
	ReferencePaymentStatusPaid   ReferencePaymentStatus = "paid"
)

// Session is a bookable consulting session published by a consultant
type Session struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	ConsultantID string    `gorm:"type:varchar(100);index" json:"consultant_id"`
	Title        string    `gorm:"type:varchar(255)" json:"title"`
	StartsAt     time.Time `json:"starts_at"`
	Price        int64     `json:"price"`

	PaymentStatus  ReferencePaymentStatus `gorm:"type:varchar(20);default:'unpaid'" json:"payment_status"`
	PaymentOrderID *string                `gorm:"type:varchar(36)" json:"payment_order_id,omitempty"`
	PaidAt         *time.Time             `json:"paid_at,omitempty"`
}

func (Session) TableName() string { return "consulting_sessions" }

// Quotation is a priced offer a consultant sends to a client
type Quotation struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	ConsultantID string `gorm:"type:varchar(100);index" json:"consultant_id"`
	ClientEmail  string `gorm:"type:varchar(255)" json:"client_email"`
	TotalAmount  int64  `json:"total_amount"`

	PaymentStatus  ReferencePaymentStatus `gorm:"type:varchar(20);default:'unpaid'" json:"payment_status"`
	PaymentOrderID *string                `gorm:"type:varchar(36)" json:"payment_order_id,omitempty"`
	PaidAt         *time.Time             `json:"paid_at,omitempty"`
}
