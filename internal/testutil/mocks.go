package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"konsul_app_echo/internal/models"
	"konsul_app_echo/internal/services"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Name() models.PaymentGateway {
	return models.PaymentGatewayMidtrans
}

func (m *MockGateway) CreateOrder(ctx context.Context, req services.GatewayOrderRequest) (*services.GatewayOrder, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(context.Context, services.GatewayOrderRequest) (*services.GatewayOrder, error)); ok {
		return fn(ctx, req)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.GatewayOrder), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, req services.GatewayRefundRequest) (*services.GatewayRefund, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(context.Context, services.GatewayRefundRequest) (*services.GatewayRefund, error)); ok {
		return fn(ctx, req)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.GatewayRefund), args.Error(1)
}

type MockReferenceMarker struct {
	mock.Mock
}

func (m *MockReferenceMarker) MarkReferencePaid(ctx context.Context, order *models.PaymentOrder) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

// RecordingQueue remembers every reconciliation it was asked to schedule
type RecordingQueue struct {
	mu       sync.Mutex
	OrderIDs []string
	Err      error
}

func (q *RecordingQueue) EnqueueReferenceReconciliation(ctx context.Context, order *models.PaymentOrder, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.OrderIDs = append(q.OrderIDs, order.ID)
	return nil
}

func (q *RecordingQueue) Enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.OrderIDs...)
}
