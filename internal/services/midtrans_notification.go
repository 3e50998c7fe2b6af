package services

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

// MidtransNotification is the HTTP notification Midtrans posts on every
// transaction status change
type MidtransNotification struct {
	TransactionID     string `json:"transaction_id"`
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	GrossAmount       string `json:"gross_amount"`
	Currency          string `json:"currency"`
	PaymentType       string `json:"payment_type"`
	SignatureKey      string `json:"signature_key"`
}

// ParseMidtransNotification decodes a notification body. The signature
// travels inside the body, so it is checked on the decoded struct.
func ParseMidtransNotification(raw []byte) (*MidtransNotification, error) {
	var n MidtransNotification
	if err := sonic.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	return &n, nil
}

// EventID identifies one status change of one transaction. Midtrans
// repeats a notification until it is acknowledged, and those repeats share it.
func (n MidtransNotification) EventID() string {
	parts := []string{"midtrans", n.TransactionID, n.TransactionStatus}
	if n.FraudStatus != "" {
		parts = append(parts, n.FraudStatus)
	}
	return strings.Join(parts, ":")
}

// Event maps a verified notification onto the webhook event variants.
// Refund and chargeback statuses are ignored; refunds are recorded from
// the Core API response when they are issued.
func (n MidtransNotification) Event() (WebhookEvent, error) {
	if n.TransactionID == "" || n.TransactionStatus == "" {
		return nil, fmt.Errorf("%w: notification needs transaction_id and transaction_status", ErrMalformedWebhook)
	}
	id := n.EventID()

	switch n.TransactionStatus {
	case "capture":
		switch n.FraudStatus {
		case "challenge":
			return PaymentAuthorizedEvent{ID: id, OrderID: n.OrderID, PaymentID: n.TransactionID}, nil
		case "deny":
			return n.failed(id), nil
		}
		return n.captured(id)
	case "settlement":
		return n.captured(id)
	case "pending", "authorize":
		return PaymentAuthorizedEvent{ID: id, OrderID: n.OrderID, PaymentID: n.TransactionID}, nil
	case "deny", "expire", "cancel", "failure":
		return n.failed(id), nil
	}
	return UnknownEvent{ID: id, Type: "midtrans." + n.TransactionStatus}, nil
}

func (n MidtransNotification) captured(id string) (WebhookEvent, error) {
	gross, err := decimal.NewFromString(n.GrossAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: gross_amount %q: %v", ErrMalformedWebhook, n.GrossAmount, err)
	}
	currency := n.Currency
	if currency == "" {
		currency = "IDR"
	}
	return PaymentCapturedEvent{
		ID:        id,
		OrderID:   n.OrderID,
		PaymentID: n.TransactionID,
		Amount:    gross.IntPart(),
		Currency:  currency,
	}, nil
}

func (n MidtransNotification) failed(id string) WebhookEvent {
	code := n.TransactionStatus
	if n.FraudStatus == "deny" {
		code = "fraud_deny"
	}
	return PaymentFailedEvent{
		ID:               id,
		OrderID:          n.OrderID,
		PaymentID:        n.TransactionID,
		ErrorCode:        code,
		ErrorDescription: n.StatusMessage,
	}
}
