package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"konsul_app_echo/internal/models"
)

// WebhookResult describes what a delivery did
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate"`
	Outcome   string `json:"outcome"`
}

// WebhookDispatcher verifies, deduplicates and routes gateway webhooks
type WebhookDispatcher struct {
	secret      string
	midtransKey string
	dedup    EventDeduper
	payments *PaymentStateMachine
	refunds  *RefundService
	audit    AuditStore
	gateway  models.PaymentGateway
	log      *zap.SugaredLogger
}

// DispatcherOption configures optional gateway-native webhook formats
type DispatcherOption func(*WebhookDispatcher)

// WithMidtransServerKey enables HandleMidtrans, which checks notification
// signatures with the Midtrans server key
func WithMidtransServerKey(serverKey string) DispatcherOption {
	return func(d *WebhookDispatcher) {
		d.midtransKey = serverKey
	}
}

func NewWebhookDispatcher(secret string, dedup EventDeduper, payments *PaymentStateMachine, refunds *RefundService, audit AuditStore, gateway models.PaymentGateway, log *zap.SugaredLogger, opts ...DispatcherOption) *WebhookDispatcher {
	d := &WebhookDispatcher{
		secret:   secret,
		dedup:    dedup,
		payments: payments,
		refunds:  refunds,
		audit:    audit,
		gateway:  gateway,
		log:      log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle processes one delivery. The signature is checked against the raw
// body before anything is parsed or stored. Replayed event ids succeed
// without side effects.
func (d *WebhookDispatcher) Handle(ctx context.Context, rawPayload []byte, signature string) (*WebhookResult, error) {
	if !VerifyWebhookSignature(rawPayload, signature, d.secret) {
		d.log.Warnw("webhook_signature_invalid", "payload_bytes", len(rawPayload))
		return nil, ErrInvalidSignature
	}

	event, err := DecodeWebhookEvent(rawPayload)
	if err != nil {
		d.log.Warnw("webhook_malformed", "error", err)
		return nil, err
	}
	return d.dispatch(ctx, event, rawPayload)
}

// HandleMidtrans processes a native Midtrans HTTP notification. Its
// signature_key is checked before the notification is mapped or stored,
// and deliveries share the dedup ledger with Handle.
func (d *WebhookDispatcher) HandleMidtrans(ctx context.Context, rawPayload []byte) (*WebhookResult, error) {
	n, err := ParseMidtransNotification(rawPayload)
	if err != nil {
		d.log.Warnw("midtrans_notification_malformed", "error", err)
		return nil, err
	}
	if !VerifyMidtransNotification(*n, d.midtransKey) {
		d.log.Warnw("midtrans_notification_signature_invalid", "order_id", n.OrderID, "transaction_status", n.TransactionStatus)
		return nil, ErrInvalidSignature
	}

	event, err := n.Event()
	if err != nil {
		d.log.Warnw("midtrans_notification_malformed", "order_id", n.OrderID, "error", err)
		return nil, err
	}
	return d.dispatch(ctx, event, rawPayload)
}

func (d *WebhookDispatcher) dispatch(ctx context.Context, event WebhookEvent, rawPayload []byte) (*WebhookResult, error) {
	result := &WebhookResult{EventID: event.EventID(), EventType: event.EventType()}
	claimed, err := d.dedup.Claim(ctx, event.EventID(), event.EventType(), rawPayload)
	if err != nil {
		return nil, fmt.Errorf("claim webhook event %s: %w", event.EventID(), err)
	}
	if !claimed {
		result.Duplicate = true
		result.Outcome = "duplicate"
		d.log.Infow("webhook_duplicate", "event_id", result.EventID, "event_type", result.EventType)
		return result, nil
	}

	outcome, err := d.route(ctx, event)
	switch {
	case err == nil:
	case isAnomaly(err):
		// Late or contradictory reports are logged and acknowledged
		d.log.Warnw("webhook_anomaly", "event_id", result.EventID, "event_type", result.EventType, "error", err)
		outcome = "anomaly"
	default:
		d.log.Errorw("webhook_processing_failed", "event_id", result.EventID, "event_type", result.EventType, "error", err)
		if rerr := d.dedup.Release(ctx, event.EventID(), err); rerr != nil {
			d.log.Errorw("webhook_release_failed", "event_id", result.EventID, "error", rerr)
		}
		d.recordAudit(ctx, event, "error", rawPayload)
		return nil, err
	}

	if cerr := d.dedup.Complete(ctx, event.EventID()); cerr != nil {
		d.log.Errorw("webhook_complete_failed", "event_id", result.EventID, "error", cerr)
	}
	d.recordAudit(ctx, event, outcome, rawPayload)

	result.Outcome = outcome
	d.log.Infow("webhook_processed", "event_id", result.EventID, "event_type", result.EventType, "outcome", outcome)
	return result, nil
}

func (d *WebhookDispatcher) route(ctx context.Context, event WebhookEvent) (string, error) {
	switch ev := event.(type) {
	case PaymentCapturedEvent:
		_, outcome, err := d.payments.ApplyWebhookCapture(ctx, ev.OrderID, ev.PaymentID)
		return outcome, err
	case PaymentAuthorizedEvent:
		_, outcome, err := d.payments.MarkPending(ctx, ev.OrderID)
		return outcome, err
	case PaymentFailedEvent:
		_, outcome, err := d.payments.ApplyFailedPayment(ctx, ev.OrderID, ev.ErrorCode, ev.ErrorDescription)
		return outcome, err
	case RefundProcessedEvent:
		return d.refunds.ReconcileProcessedRefund(ctx, ev)
	case UnknownEvent:
		d.log.Infow("webhook_event_ignored", "event_id", ev.ID, "event_type", ev.Type)
		return "ignored", nil
	}
	return "", errors.New("unhandled webhook event type")
}

func (d *WebhookDispatcher) recordAudit(ctx context.Context, event WebhookEvent, outcome string, raw []byte) {
	entry := &models.PaymentCallbackHistory{
		PaymentGateway: d.gateway,
		Source:         models.CallbackSourceWebhook,
		GatewayEventID: event.EventID(),
		EventType:      event.EventType(),
		SignatureValid: true,
		Outcome:        outcome,
		Metadata:       datatypes.JSON(raw),
	}
	switch ev := event.(type) {
	case PaymentCapturedEvent:
		entry.GatewayOrderID, entry.GatewayPaymentID = ev.OrderID, ev.PaymentID
	case PaymentAuthorizedEvent:
		entry.GatewayOrderID, entry.GatewayPaymentID = ev.OrderID, ev.PaymentID
	case PaymentFailedEvent:
		entry.GatewayOrderID, entry.GatewayPaymentID = ev.OrderID, ev.PaymentID
	case RefundProcessedEvent:
		entry.GatewayOrderID, entry.GatewayPaymentID = ev.OrderID, ev.PaymentID
	}
	if err := d.audit.RecordCallback(ctx, entry); err != nil {
		d.log.Warnw("payment_callback_audit_failed", "event_id", event.EventID(), "error", err)
	}
}
