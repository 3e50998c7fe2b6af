package testutil

import (
	"time"

	"konsul_app_echo/internal/config"
	"konsul_app_echo/internal/models"
)

const (
	PaymentSecret = "test-payment-secret"
	WebhookSecret = "test-webhook-secret"
	MidtransKey   = "SB-Mid-server-test"
)

// Config returns settings with fast retries for tests
func Config() *config.Config {
	return &config.Config{
		PaymentSigningSecret:      PaymentSecret,
		WebhookSigningSecret:      WebhookSecret,
		MidtransServerKey:         MidtransKey,
		DefaultCurrency:           "IDR",
		SupportedCurrencies:       []string{"IDR", "USD"},
		IdempotencyWindow:         15 * time.Minute,
		WebhookDedupWindow:        24 * time.Hour,
		GatewayMaxAttempts:        3,
		GatewayInitialBackoff:     time.Millisecond,
		GatewayTimeout:            time.Second,
		CountRefundedAsSuccessful: true,
	}
}

// Order builds an order in the given status. Captured orders get a
// gateway payment id.
func Order(id string, status models.PaymentStatus, amount int64) models.PaymentOrder {
	o := models.PaymentOrder{
		ID:             id,
		CreatedAt:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Gateway:        models.PaymentGatewayMidtrans,
		GatewayOrderID: "gw_" + id,
		Amount:         amount,
		Currency:       "IDR",
		ConsultantID:   "consultant-1",
		Status:         status,
		Version:        1,
	}
	if status.IsCaptured() {
		pid := "pay_" + id
		o.GatewayPaymentID = &pid
	}
	return o
}

// WithSession links the order to a consulting session
func WithSession(o models.PaymentOrder, sessionID string) models.PaymentOrder {
	o.ReferenceType = models.ReferenceTypeSession
	o.ReferenceID = &sessionID
	return o
}
