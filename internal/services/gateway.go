package services

import (
	"context"
	"errors"
	"fmt"

	"konsul_app_echo/internal/models"
)

// GatewayOrderRequest is what the order manager asks the gateway to open
type GatewayOrderRequest struct {
	Receipt      string
	Amount       int64
	Currency     string
	ItemName     string
	CustomerName string
	Email        string
	Phone        string
}

// GatewayOrder is the gateway's answer to an order creation
type GatewayOrder struct {
	GatewayOrderID string
	Token          string
	RedirectURL    string
	Raw            []byte
}

type GatewayRefundRequest struct {
	GatewayOrderID   string
	GatewayPaymentID string
	RefundKey        string
	Amount           int64
	Currency         string
	Reason           string
}

type GatewayRefund struct {
	GatewayRefundID string
	Status          models.RefundStatus
	Raw             []byte
}

// Gateway is the external payment provider
type Gateway interface {
	Name() models.PaymentGateway
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error)
	Refund(ctx context.Context, req GatewayRefundRequest) (*GatewayRefund, error)
}

// GatewayError wraps a failed gateway call
type GatewayError struct {
	Op         string
	StatusCode int
	Transient  bool
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s failed (status %d): %s", e.Op, e.StatusCode, e.Message)
}

// IsTransient reports whether a gateway call may succeed if retried.
// Errors of unknown origin are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Transient
	}
	return true
}

// transientStatus classifies an HTTP status returned by a gateway
func transientStatus(code int) bool {
	return code == 0 || code == 408 || code == 429 || code >= 500
}
