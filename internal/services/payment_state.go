package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"konsul_app_echo/internal/logger"
	"konsul_app_echo/internal/models"
)

// PaymentVerification is a client-submitted payment confirmation
type PaymentVerification struct {
	GatewayOrderID   string `json:"gateway_order_id" validate:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" validate:"required"`
	Signature        string `json:"signature" validate:"required"`
}

// PaymentStateMachine applies gateway outcomes to orders. Every transition
// is a conditional update, so concurrent reports of the same outcome apply
// once and only the winner touches the linked reference.
type PaymentStateMachine struct {
	orders  OrderStore
	audit   AuditStore
	marker  ReferenceMarker
	queue   ReconciliationQueue
	secret  string
	gateway models.PaymentGateway
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewPaymentStateMachine(orders OrderStore, audit AuditStore, marker ReferenceMarker, queue ReconciliationQueue, paymentSecret string, gateway models.PaymentGateway, log *zap.SugaredLogger) *PaymentStateMachine {
	return &PaymentStateMachine{
		orders:  orders,
		audit:   audit,
		marker:  marker,
		queue:   queue,
		secret:  paymentSecret,
		gateway: gateway,
		log:     log,
		now:     time.Now,
	}
}

// VerifyPaymentSignature checks v against the payment signing secret
func (m *PaymentStateMachine) VerifyPaymentSignature(v PaymentVerification) bool {
	return VerifyPaymentSignature(v.GatewayOrderID, v.GatewayPaymentID, v.Signature, m.secret)
}

// ApplyVerifiedPayment moves the order to PAID after re-checking the
// signature. Repeated confirmations return the order unchanged.
func (m *PaymentStateMachine) ApplyVerifiedPayment(ctx context.Context, v PaymentVerification) (*models.PaymentOrder, error) {
	order, err := m.orders.FindOrderByGatewayOrderID(ctx, v.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	valid := m.VerifyPaymentSignature(v)
	if !valid {
		m.recordCallback(ctx, models.CallbackSourceClient, order.GatewayOrderID, v.GatewayPaymentID, "", "payment.verify", false, "rejected", nil)
		m.log.Warnw("payment_signature_invalid", logger.OrderFields(order.ID, order.GatewayOrderID)...)
		return nil, ErrInvalidSignature
	}

	updated, outcome, err := m.capture(ctx, order, v.GatewayPaymentID)
	if err != nil {
		outcome = "error"
	}
	m.recordCallback(ctx, models.CallbackSourceClient, order.GatewayOrderID, v.GatewayPaymentID, "", "payment.verify", true, outcome, nil)
	return updated, err
}

// ApplyWebhookCapture moves the order to PAID from a verified webhook
func (m *PaymentStateMachine) ApplyWebhookCapture(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*models.PaymentOrder, string, error) {
	order, err := m.orders.FindOrderByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, "", err
	}
	if order == nil {
		return nil, "", ErrOrderNotFound
	}
	return m.capture(ctx, order, gatewayPaymentID)
}

// MarkPending records that the gateway authorized but did not yet capture
func (m *PaymentStateMachine) MarkPending(ctx context.Context, gatewayOrderID string) (*models.PaymentOrder, string, error) {
	order, err := m.orders.FindOrderByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, "", err
	}
	if order == nil {
		return nil, "", ErrOrderNotFound
	}
	if order.Status != models.PaymentStatusCreated {
		return order, "ignored", nil
	}

	applied, err := m.orders.TransitionOrder(ctx, OrderTransition{
		OrderID: order.ID,
		From:    models.StatusesTransitioningTo(models.PaymentStatusPending),
		To:      models.PaymentStatusPending,
		At:      m.now(),
	})
	if err != nil {
		return nil, "", fmt.Errorf("mark order pending: %w", err)
	}
	current, err := m.reload(ctx, order.ID)
	if err != nil {
		return nil, "", err
	}
	if !applied {
		return current, "ignored", nil
	}
	m.log.Infow("payment_order_pending", logger.OrderFields(order.ID, order.GatewayOrderID)...)
	return current, "applied", nil
}

// ApplyFailedPayment moves the order to FAILED. Failures reported after a
// capture are rejected with ErrInvalidTransition.
func (m *PaymentStateMachine) ApplyFailedPayment(ctx context.Context, gatewayOrderID, code, description string) (*models.PaymentOrder, string, error) {
	order, err := m.orders.FindOrderByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, "", err
	}
	if order == nil {
		return nil, "", ErrOrderNotFound
	}
	if order.Status == models.PaymentStatusFailed {
		return order, "duplicate", nil
	}
	if !order.Status.CanTransitionTo(models.PaymentStatusFailed) {
		m.log.Warnw("payment_failure_after_capture", append(logger.OrderFields(order.ID, order.GatewayOrderID), "status", order.Status)...)
		return order, "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, models.PaymentStatusFailed)
	}

	applied, err := m.orders.TransitionOrder(ctx, OrderTransition{
		OrderID:            order.ID,
		From:               models.StatusesTransitioningTo(models.PaymentStatusFailed),
		To:                 models.PaymentStatusFailed,
		FailureCode:        code,
		FailureDescription: description,
		At:                 m.now(),
	})
	if err != nil {
		return nil, "", fmt.Errorf("mark order failed: %w", err)
	}
	current, err := m.reload(ctx, order.ID)
	if err != nil {
		return nil, "", err
	}
	if !applied {
		if current.Status == models.PaymentStatusFailed {
			return current, "duplicate", nil
		}
		return current, "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, models.PaymentStatusFailed)
	}

	m.log.Infow("payment_order_failed", append(logger.OrderFields(order.ID, order.GatewayOrderID),
		"failure_code", code, "failure_description", description)...)
	return current, "applied", nil
}

// capture returns the order after the PAID transition and an outcome of
// "applied" or "duplicate"
func (m *PaymentStateMachine) capture(ctx context.Context, order *models.PaymentOrder, gatewayPaymentID string) (*models.PaymentOrder, string, error) {
	if order.Status.IsCaptured() {
		m.logDuplicateCapture(order, gatewayPaymentID)
		return order, "duplicate", nil
	}
	if !order.Status.CanTransitionTo(models.PaymentStatusPaid) {
		m.log.Warnw("payment_capture_after_failure", append(logger.OrderFields(order.ID, order.GatewayOrderID), "status", order.Status)...)
		return nil, "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, models.PaymentStatusPaid)
	}

	pid := gatewayPaymentID
	applied, err := m.orders.TransitionOrder(ctx, OrderTransition{
		OrderID:          order.ID,
		From:             models.StatusesTransitioningTo(models.PaymentStatusPaid),
		To:               models.PaymentStatusPaid,
		GatewayPaymentID: &pid,
		At:               m.now(),
	})
	if err != nil {
		return nil, "", fmt.Errorf("mark order paid: %w", err)
	}

	current, err := m.reload(ctx, order.ID)
	if err != nil {
		return nil, "", err
	}
	if !applied {
		if current.Status.IsCaptured() {
			m.logDuplicateCapture(current, gatewayPaymentID)
			return current, "duplicate", nil
		}
		return nil, "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, models.PaymentStatusPaid)
	}

	m.log.Infow("payment_order_paid", append(logger.OrderFields(current.ID, current.GatewayOrderID),
		"gateway_payment_id", gatewayPaymentID, "amount", current.Amount)...)
	m.markReference(ctx, current)
	return current, "applied", nil
}

// markReference runs once per capture. A failure is handed to the
// reconciliation queue and never undoes the capture.
func (m *PaymentStateMachine) markReference(ctx context.Context, order *models.PaymentOrder) {
	if !order.HasReference() {
		return
	}
	err := m.marker.MarkReferencePaid(ctx, order)
	if err == nil {
		return
	}

	fields := append(logger.OrderFields(order.ID, order.GatewayOrderID),
		"reference_type", order.ReferenceType, "reference_id", *order.ReferenceID, "error", err)
	m.log.Warnw("reference_mark_paid_failed", fields...)
	if qerr := m.queue.EnqueueReferenceReconciliation(ctx, order, err); qerr != nil {
		m.log.Errorw("reference_reconciliation_enqueue_failed", append(fields, "enqueue_error", qerr)...)
	}
}

func (m *PaymentStateMachine) logDuplicateCapture(order *models.PaymentOrder, gatewayPaymentID string) {
	fields := append(logger.OrderFields(order.ID, order.GatewayOrderID), "status", order.Status)
	if order.GatewayPaymentID != nil && *order.GatewayPaymentID != gatewayPaymentID {
		m.log.Warnw("payment_capture_conflicting_payment_id", append(fields,
			"stored_payment_id", *order.GatewayPaymentID, "reported_payment_id", gatewayPaymentID)...)
		return
	}
	m.log.Infow("payment_capture_duplicate", fields...)
}

func (m *PaymentStateMachine) reload(ctx context.Context, id string) (*models.PaymentOrder, error) {
	order, err := m.orders.FindOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (m *PaymentStateMachine) recordCallback(ctx context.Context, source models.CallbackSource, gatewayOrderID, gatewayPaymentID, eventID, eventType string, signatureValid bool, outcome string, metadata []byte) {
	entry := &models.PaymentCallbackHistory{
		PaymentGateway:   m.gateway,
		Source:           source,
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		GatewayEventID:   eventID,
		EventType:        eventType,
		SignatureValid:   signatureValid,
		Outcome:          outcome,
	}
	if len(metadata) > 0 {
		entry.Metadata = datatypes.JSON(metadata)
	}
	if err := m.audit.RecordCallback(ctx, entry); err != nil {
		m.log.Warnw("payment_callback_audit_failed", "gateway_order_id", gatewayOrderID, "error", err)
	}
}
