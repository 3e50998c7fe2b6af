package services

import (
	"context"
	"time"

	"konsul_app_echo/internal/models"
)

// Lookups return (nil, nil) when nothing matches.

// OrderTransition describes a conditional status change. It is applied only
// while the stored status is one of From.
type OrderTransition struct {
	OrderID            string
	From               []models.PaymentStatus
	To                 models.PaymentStatus
	GatewayPaymentID   *string
	FailureCode        string
	FailureDescription string
	At                 time.Time
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.PaymentOrder) error
	FindOrderByID(ctx context.Context, id string) (*models.PaymentOrder, error)
	FindOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.PaymentOrder, error)
	FindOrderByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.PaymentOrder, error)
	// FindReusableOrder returns the newest non-failed order created with key since the given time
	FindReusableOrder(ctx context.Context, idempotencyKey string, since time.Time) (*models.PaymentOrder, error)
	// TransitionOrder reports false when the stored status was not in From
	TransitionOrder(ctx context.Context, t OrderTransition) (bool, error)
}

type RefundStore interface {
	// RecordRefund inserts refund and moves order to next in one transaction,
	// guarded by order.Version. It reports false when the order changed.
	RecordRefund(ctx context.Context, order *models.PaymentOrder, refund *models.Refund, next models.PaymentStatus) (bool, error)
	FindRefundByGatewayID(ctx context.Context, gatewayRefundID string) (*models.Refund, error)
	MarkRefundProcessed(ctx context.Context, refundID string, at time.Time) error
	ListRefunds(ctx context.Context, orderID string) ([]models.Refund, error)
}

type AuditStore interface {
	RecordCallback(ctx context.Context, entry *models.PaymentCallbackHistory) error
}

type AnalyticsStore interface {
	// SnapshotOrders returns the consultant's orders created in [start, end)
	// with their refunds, read from a single consistent snapshot.
	SnapshotOrders(ctx context.Context, consultantID string, start, end time.Time) ([]models.PaymentOrder, error)
}

// EventDeduper claims webhook event ids so each is processed once
type EventDeduper interface {
	// Claim reports false when the event was already claimed
	Claim(ctx context.Context, eventID, eventType string, payload []byte) (bool, error)
	Complete(ctx context.Context, eventID string) error
	// Release drops a claim so a redelivery can process the event again
	Release(ctx context.Context, eventID string, cause error) error
}

// ReferenceMarker flags the linked session or quotation as paid
type ReferenceMarker interface {
	MarkReferencePaid(ctx context.Context, order *models.PaymentOrder) error
}

// ReconciliationQueue defers a downstream update that failed after capture
type ReconciliationQueue interface {
	EnqueueReferenceReconciliation(ctx context.Context, order *models.PaymentOrder, cause error) error
}
