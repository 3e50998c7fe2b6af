package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"konsul_app_echo/internal/models"
	"konsul_app_echo/internal/services"
	"konsul_app_echo/internal/testutil"
)

func newOrderService(t *testing.T) (*services.OrderService, *testutil.MemoryStore, *testutil.MockGateway) {
	store := testutil.NewMemoryStore()
	gw := &testutil.MockGateway{}
	svc := services.NewOrderService(store, gw, services.NewLocalLocker(), testutil.Config(), zaptest.NewLogger(t).Sugar())
	return svc, store, gw
}

func gatewayOrder(id string) *services.GatewayOrder {
	return &services.GatewayOrder{
		GatewayOrderID: id,
		Token:          "snap-token",
		RedirectURL:    "https://app.sandbox.midtrans.com/snap/v2/vtweb/snap-token",
		Raw:            []byte(`{"token":"snap-token"}`),
	}
}

func TestCreateOrder_Scenario(t *testing.T) {
	svc, store, gw := newOrderService(t)
	gw.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req services.GatewayOrderRequest) bool {
		return req.Amount == 2500 && req.Currency == "IDR" && req.Email == "a@b.com"
	})).Return(gatewayOrder("KNS-1"), nil).Once()

	order, err := svc.CreateOrder(context.Background(), services.OrderSpec{
		Amount:       2500,
		ConsultantID: "c1",
		ClientEmail:  "a@b.com",
	})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusCreated, order.Status)
	assert.Equal(t, "KNS-1", order.GatewayOrderID)
	assert.Equal(t, "IDR", order.Currency)
	assert.Equal(t, "snap-token", order.CheckoutToken)
	assert.NotEmpty(t, order.IdempotencyKey)
	assert.Equal(t, 1, store.OrderCount())
	gw.AssertExpectations(t)
}

func TestCreateOrder_FingerprintIdempotency(t *testing.T) {
	svc, store, gw := newOrderService(t)
	gw.On("CreateOrder", mock.Anything, mock.Anything).Return(gatewayOrder("KNS-2"), nil)

	spec := services.OrderSpec{
		Amount:        150000,
		ConsultantID:  "c1",
		ReferenceType: models.ReferenceTypeSession,
		ReferenceID:   "session-9",
		ClientEmail:   "client@example.com",
	}
	first, err := svc.CreateOrder(context.Background(), spec)
	require.NoError(t, err)
	second, err := svc.CreateOrder(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.OrderCount())
	gw.AssertNumberOfCalls(t, "CreateOrder", 1)

	// a different amount is a different purchase
	spec.Amount = 175000
	third, err := svc.CreateOrder(context.Background(), spec)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestCreateOrder_CallerKeyIdempotency(t *testing.T) {
	svc, _, gw := newOrderService(t)
	gw.On("CreateOrder", mock.Anything, mock.Anything).Return(gatewayOrder("KNS-3"), nil)

	first, err := svc.CreateOrder(context.Background(), services.OrderSpec{Amount: 1000, ConsultantID: "c1", IdempotencyKey: "retry-abc"})
	require.NoError(t, err)
	second, err := svc.CreateOrder(context.Background(), services.OrderSpec{Amount: 1000, ConsultantID: "c1", IdempotencyKey: "retry-abc"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	gw.AssertNumberOfCalls(t, "CreateOrder", 1)
}

func TestCreateOrder_ConcurrentRetriesCreateOnce(t *testing.T) {
	svc, store, gw := newOrderService(t)
	gw.On("CreateOrder", mock.Anything, mock.Anything).Return(gatewayOrder("KNS-4"), nil)

	spec := services.OrderSpec{Amount: 5000, ConsultantID: "c1", ClientEmail: "a@b.com"}
	ids := make([]string, 6)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, err := svc.CreateOrder(context.Background(), spec)
			if assert.NoError(t, err) {
				ids[i] = order.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, store.OrderCount())
	gw.AssertNumberOfCalls(t, "CreateOrder", 1)
}

func TestCreateOrder_InvalidOrderSpec(t *testing.T) {
	tests := []struct {
		name string
		spec services.OrderSpec
	}{
		{"zero amount", services.OrderSpec{Amount: 0, ConsultantID: "c1"}},
		{"negative amount", services.OrderSpec{Amount: -10, ConsultantID: "c1"}},
		{"unsupported currency", services.OrderSpec{Amount: 10, Currency: "XYZ", ConsultantID: "c1"}},
		{"malformed currency", services.OrderSpec{Amount: 10, Currency: "US", ConsultantID: "c1"}},
		{"missing consultant", services.OrderSpec{Amount: 10}},
		{"bad email", services.OrderSpec{Amount: 10, ConsultantID: "c1", ClientEmail: "not-an-email"}},
		{"unknown reference type", services.OrderSpec{Amount: 10, ConsultantID: "c1", ReferenceType: "invoice", ReferenceID: "x"}},
		{"reference type without id", services.OrderSpec{Amount: 10, ConsultantID: "c1", ReferenceType: models.ReferenceTypeSession}},
		{"reference id without type", services.OrderSpec{Amount: 10, ConsultantID: "c1", ReferenceID: "s-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, gw := newOrderService(t)
			_, err := svc.CreateOrder(context.Background(), tt.spec)
			assert.ErrorIs(t, err, services.ErrInvalidOrderSpec)
			assert.Equal(t, 0, store.OrderCount())
			gw.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateOrder_GatewayUnavailable(t *testing.T) {
	svc, store, gw := newOrderService(t)
	gw.On("CreateOrder", mock.Anything, mock.Anything).
		Return(nil, &services.GatewayError{Op: "create_order", StatusCode: 503, Transient: true, Message: "maintenance"})

	_, err := svc.CreateOrder(context.Background(), services.OrderSpec{Amount: 2500, ConsultantID: "c1"})
	assert.ErrorIs(t, err, services.ErrGatewayUnavailable)
	gw.AssertNumberOfCalls(t, "CreateOrder", 3)
	assert.Equal(t, 0, store.OrderCount())
}

func TestCreateOrder_GatewayRejects(t *testing.T) {
	svc, _, gw := newOrderService(t)
	gw.On("CreateOrder", mock.Anything, mock.Anything).
		Return(nil, &services.GatewayError{Op: "create_order", StatusCode: 400, Message: "midtrans only settles IDR, got USD"})

	_, err := svc.CreateOrder(context.Background(), services.OrderSpec{Amount: 2500, Currency: "usd", ConsultantID: "c1"})
	assert.ErrorIs(t, err, services.ErrInvalidOrderSpec)
	gw.AssertNumberOfCalls(t, "CreateOrder", 1)
}

func TestGetOrder(t *testing.T) {
	svc, store, _ := newOrderService(t)
	store.PutOrder(testutil.Order("o-1", models.PaymentStatusCreated, 1000))

	order, err := svc.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, "gw_o-1", order.GatewayOrderID)

	_, err = svc.GetOrder(context.Background(), "missing")
	assert.True(t, errors.Is(err, services.ErrOrderNotFound))
}
