package services

import "errors"

var (
	ErrInvalidOrderSpec   = errors.New("invalid order spec")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrOrderNotFound      = errors.New("payment order not found")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidTransition  = errors.New("invalid payment status transition")
	ErrExcessiveRefund    = errors.New("refund exceeds remaining refundable balance")
	ErrInvalidState       = errors.New("payment order is not in a refundable state")
	ErrInvalidRefund      = errors.New("invalid refund request")
	ErrMalformedWebhook   = errors.New("malformed webhook payload")
	ErrInvalidWindow      = errors.New("invalid analytics window")
	ErrConcurrentUpdate   = errors.New("payment order was modified concurrently")
	ErrRefundMismatch     = errors.New("refund report does not match the payment order")
)

// isAnomaly reports errors that describe late, duplicate or contradictory reports rather
// than failures. Webhook deliveries carrying them are acknowledged.
func isAnomaly(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrExcessiveRefund) ||
		errors.Is(err, ErrRefundMismatch)
}
