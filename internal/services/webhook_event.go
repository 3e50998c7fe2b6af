package services

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

const (
	EventPaymentCaptured   = "payment.captured"
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentFailed     = "payment.failed"
	EventRefundProcessed   = "refund.processed"
)

// WebhookEvent is one decoded gateway delivery. The concrete type is one
// of the *Event structs below.
type WebhookEvent interface {
	EventID() string
	EventType() string
}

type webhookEnvelope struct {
	ID      string          `json:"id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type PaymentCapturedEvent struct {
	ID        string `json:"-"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

func (e PaymentCapturedEvent) EventID() string   { return e.ID }
func (e PaymentCapturedEvent) EventType() string { return EventPaymentCaptured }

type PaymentAuthorizedEvent struct {
	ID        string `json:"-"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

func (e PaymentAuthorizedEvent) EventID() string   { return e.ID }
func (e PaymentAuthorizedEvent) EventType() string { return EventPaymentAuthorized }

type PaymentFailedEvent struct {
	ID               string `json:"-"`
	OrderID          string `json:"order_id"`
	PaymentID        string `json:"payment_id"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

func (e PaymentFailedEvent) EventID() string   { return e.ID }
func (e PaymentFailedEvent) EventType() string { return EventPaymentFailed }

type RefundProcessedEvent struct {
	ID        string `json:"-"`
	RefundID  string `json:"refund_id"`
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

func (e RefundProcessedEvent) EventID() string   { return e.ID }
func (e RefundProcessedEvent) EventType() string { return EventRefundProcessed }

// UnknownEvent is acknowledged and ignored
type UnknownEvent struct {
	ID   string
	Type string
}

func (e UnknownEvent) EventID() string   { return e.ID }
func (e UnknownEvent) EventType() string { return e.Type }

// DecodeWebhookEvent parses a verified webhook body
func DecodeWebhookEvent(raw []byte) (WebhookEvent, error) {
	var env webhookEnvelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if env.ID == "" || env.Event == "" {
		return nil, fmt.Errorf("%w: missing id or event", ErrMalformedWebhook)
	}

	switch env.Event {
	case EventPaymentCaptured:
		var ev PaymentCapturedEvent
		if err := decodePayload(env, &ev); err != nil {
			return nil, err
		}
		if ev.OrderID == "" || ev.PaymentID == "" {
			return nil, fmt.Errorf("%w: %s needs order_id and payment_id", ErrMalformedWebhook, env.Event)
		}
		ev.ID = env.ID
		return ev, nil
	case EventPaymentAuthorized:
		var ev PaymentAuthorizedEvent
		if err := decodePayload(env, &ev); err != nil {
			return nil, err
		}
		if ev.OrderID == "" {
			return nil, fmt.Errorf("%w: %s needs order_id", ErrMalformedWebhook, env.Event)
		}
		ev.ID = env.ID
		return ev, nil
	case EventPaymentFailed:
		var ev PaymentFailedEvent
		if err := decodePayload(env, &ev); err != nil {
			return nil, err
		}
		if ev.OrderID == "" {
			return nil, fmt.Errorf("%w: %s needs order_id", ErrMalformedWebhook, env.Event)
		}
		ev.ID = env.ID
		return ev, nil
	case EventRefundProcessed:
		var ev RefundProcessedEvent
		if err := decodePayload(env, &ev); err != nil {
			return nil, err
		}
		if ev.RefundID == "" || ev.Amount <= 0 {
			return nil, fmt.Errorf("%w: %s needs refund_id and a positive amount", ErrMalformedWebhook, env.Event)
		}
		if ev.PaymentID == "" && ev.OrderID == "" {
			return nil, fmt.Errorf("%w: %s needs payment_id or order_id", ErrMalformedWebhook, env.Event)
		}
		ev.ID = env.ID
		return ev, nil
	}
	return UnknownEvent{ID: env.ID, Type: env.Event}, nil
}

func decodePayload(env webhookEnvelope, dest interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformedWebhook, env.Event)
	}
	if err := sonic.Unmarshal(env.Payload, dest); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedWebhook, env.Event, err)
	}
	return nil
}
