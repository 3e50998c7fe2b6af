// Package testutil provides in-memory stores and mocks for service tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"konsul_app_echo/internal/models"
	"konsul_app_echo/internal/services"
)

// MemoryStore implements every services store interface in memory.
// Values are copied on the way in and out.
type MemoryStore struct {
	mu        sync.Mutex
	orders    map[string]models.PaymentOrder
	refunds   map[string]models.Refund
	callbacks []models.PaymentCallbackHistory
	events    map[string]models.WebhookEventStatus

	// FailTransition makes TransitionOrder return the error once
	FailTransition error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[string]models.PaymentOrder),
		refunds: make(map[string]models.Refund),
		events:  make(map[string]models.WebhookEventStatus),
	}
}

// PutOrder stores order as is, bypassing CreateOrder defaults
func (s *MemoryStore) PutOrder(order models.PaymentOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.Version == 0 {
		order.Version = 1
	}
	s.orders[order.ID] = order
}

// Order returns the stored order or panics when missing
func (s *MemoryStore) Order(id string) models.PaymentOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		panic("testutil: no order " + id)
	}
	return o
}

func (s *MemoryStore) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *MemoryStore) Callbacks() []models.PaymentCallbackHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PaymentCallbackHistory(nil), s.callbacks...)
}

func (s *MemoryStore) EventStatus(eventID string) models.WebhookEventStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[eventID]
}

func (s *MemoryStore) CreateOrder(ctx context.Context, order *models.PaymentOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	order.UpdatedAt = order.CreatedAt
	if order.Version == 0 {
		order.Version = 1
	}
	s.orders[order.ID] = *order
	return nil
}

func (s *MemoryStore) FindOrderByID(ctx context.Context, id string) (*models.PaymentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *MemoryStore) FindOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.PaymentOrder, error) {
	return s.findOrder(func(o models.PaymentOrder) bool { return o.GatewayOrderID == gatewayOrderID })
}

func (s *MemoryStore) FindOrderByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.PaymentOrder, error) {
	return s.findOrder(func(o models.PaymentOrder) bool {
		return o.GatewayPaymentID != nil && *o.GatewayPaymentID == gatewayPaymentID
	})
}

func (s *MemoryStore) FindReusableOrder(ctx context.Context, idempotencyKey string, since time.Time) (*models.PaymentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.PaymentOrder
	for _, o := range s.orders {
		if o.IdempotencyKey != idempotencyKey || o.CreatedAt.Before(since) || o.Status == models.PaymentStatusFailed {
			continue
		}
		if best == nil || o.CreatedAt.After(best.CreatedAt) {
			o := o
			best = &o
		}
	}
	return best, nil
}

func (s *MemoryStore) TransitionOrder(ctx context.Context, t services.OrderTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailTransition; err != nil {
		s.FailTransition = nil
		return false, err
	}
	o, ok := s.orders[t.OrderID]
	if !ok || !statusIn(o.Status, t.From) {
		return false, nil
	}
	o.Status = t.To
	o.Version++
	o.UpdatedAt = t.At
	at := t.At
	switch t.To {
	case models.PaymentStatusPaid:
		o.PaidAt = &at
		if t.GatewayPaymentID != nil {
			pid := *t.GatewayPaymentID
			o.GatewayPaymentID = &pid
		}
	case models.PaymentStatusFailed:
		o.FailedAt = &at
		o.FailureCode = t.FailureCode
		o.FailureDescription = t.FailureDescription
	}
	s.orders[o.ID] = o
	return true, nil
}

func (s *MemoryStore) RecordRefund(ctx context.Context, order *models.PaymentOrder, refund *models.Refund, next models.PaymentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[order.ID]
	if !ok || o.Version != order.Version {
		return false, nil
	}
	now := time.Now()
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = now
	}
	s.refunds[refund.ID] = *refund
	o.RefundedAmount += refund.Amount
	o.Status = next
	o.Version++
	o.RefundedAt = &now
	s.orders[o.ID] = o
	return true, nil
}

func (s *MemoryStore) FindRefundByGatewayID(ctx context.Context, gatewayRefundID string) (*models.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gatewayRefundID == "" {
		return nil, nil
	}
	for _, r := range s.refunds {
		if r.GatewayRefundID == gatewayRefundID {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) MarkRefundProcessed(ctx context.Context, refundID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[refundID]
	if !ok {
		return nil
	}
	r.Status = models.RefundStatusProcessed
	r.ProcessedAt = &at
	s.refunds[refundID] = r
	return nil
}

func (s *MemoryStore) ListRefunds(ctx context.Context, orderID string) ([]models.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refundsFor(orderID), nil
}

func (s *MemoryStore) RecordCallback(ctx context.Context, entry *models.PaymentCallbackHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = uint(len(s.callbacks) + 1)
	s.callbacks = append(s.callbacks, *entry)
	return nil
}

func (s *MemoryStore) SnapshotOrders(ctx context.Context, consultantID string, start, end time.Time) ([]models.PaymentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentOrder
	for _, o := range s.orders {
		if o.ConsultantID != consultantID || o.CreatedAt.Before(start) || !o.CreatedAt.Before(end) {
			continue
		}
		o.Refunds = s.refundsFor(o.ID)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Claim(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.events[eventID]; ok && status != models.WebhookEventStatusFailed {
		return false, nil
	}
	s.events[eventID] = models.WebhookEventStatusProcessing
	return true, nil
}

func (s *MemoryStore) Complete(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[eventID] = models.WebhookEventStatusProcessed
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, eventID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[eventID] = models.WebhookEventStatusFailed
	return nil
}

func (s *MemoryStore) findOrder(match func(models.PaymentOrder) bool) (*models.PaymentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if match(o) {
			o := o
			return &o, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) refundsFor(orderID string) []models.Refund {
	var out []models.Refund
	for _, r := range s.refunds {
		if r.PaymentOrderID == orderID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func statusIn(s models.PaymentStatus, set []models.PaymentStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
