package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"konsul_app_echo/internal/models"
	"konsul_app_echo/internal/services"
	"konsul_app_echo/internal/testutil"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(testutil.NewSQLiteDB(t))
	s.now = func() time.Time { return testNow }
	return s
}

func seedOrder(t *testing.T, s *Store, o models.PaymentOrder) *models.PaymentOrder {
	t.Helper()
	require.NoError(t, s.CreateOrder(context.Background(), &o))
	return &o
}

func TestStore_FindOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedOrder(t, s, testutil.Order("o-1", models.PaymentStatusPaid, 5000))

	byID, err := s.FindOrderByID(ctx, "o-1")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, int64(5000), byID.Amount)

	byGateway, err := s.FindOrderByGatewayOrderID(ctx, "gw_o-1")
	require.NoError(t, err)
	require.NotNil(t, byGateway)
	assert.Equal(t, "o-1", byGateway.ID)

	byPayment, err := s.FindOrderByGatewayPaymentID(ctx, "pay_o-1")
	require.NoError(t, err)
	require.NotNil(t, byPayment)
	assert.Equal(t, "o-1", byPayment.ID)

	missing, err := s.FindOrderByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_FindReusableOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	failed := testutil.Order("o-failed", models.PaymentStatusFailed, 5000)
	failed.IdempotencyKey = "key-1"
	failed.CreatedAt = testNow.Add(-time.Minute)
	seedOrder(t, s, failed)

	old := testutil.Order("o-old", models.PaymentStatusCreated, 5000)
	old.IdempotencyKey = "key-1"
	old.CreatedAt = testNow.Add(-time.Hour)
	seedOrder(t, s, old)

	found, err := s.FindReusableOrder(ctx, "key-1", testNow.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, found)

	fresh := testutil.Order("o-fresh", models.PaymentStatusCreated, 5000)
	fresh.IdempotencyKey = "key-1"
	fresh.CreatedAt = testNow.Add(-5 * time.Minute)
	seedOrder(t, s, fresh)

	found, err = s.FindReusableOrder(ctx, "key-1", testNow.Add(-15*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "o-fresh", found.ID)
}

func TestStore_TransitionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedOrder(t, s, testutil.Order("o-1", models.PaymentStatusCreated, 5000))

	paymentID := "pay_1"
	ok, err := s.TransitionOrder(ctx, services.OrderTransition{
		OrderID:          "o-1",
		From:             models.StatusesTransitioningTo(models.PaymentStatusPaid),
		To:               models.PaymentStatusPaid,
		GatewayPaymentID: &paymentID,
		At:               testNow,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionOrder(ctx, services.OrderTransition{
		OrderID: "o-1",
		From:    models.StatusesTransitioningTo(models.PaymentStatusFailed),
		To:      models.PaymentStatusFailed,
		At:      testNow,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	order, err := s.FindOrderByID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, order.Status)
	assert.Equal(t, int64(2), order.Version)
	require.NotNil(t, order.GatewayPaymentID)
	assert.Equal(t, "pay_1", *order.GatewayPaymentID)
	require.NotNil(t, order.PaidAt)
}

func TestStore_TransitionOrder_SingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedOrder(t, s, testutil.Order("o-1", models.PaymentStatusPending, 5000))

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pid := fmt.Sprintf("pay_%d", i)
			ok, err := s.TransitionOrder(ctx, services.OrderTransition{
				OrderID:          "o-1",
				From:             models.StatusesTransitioningTo(models.PaymentStatusPaid),
				To:               models.PaymentStatusPaid,
				GatewayPaymentID: &pid,
				At:               testNow,
			})
			assert.NoError(t, err)
			if ok {
				atomic.AddInt64(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(1), wins)
}

func TestStore_RecordRefund(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	order := seedOrder(t, s, testutil.Order("o-1", models.PaymentStatusPaid, 10000))

	refund := &models.Refund{
		ID:              "r-1",
		PaymentOrderID:  "o-1",
		GatewayRefundID: "rf_1",
		Amount:          4000,
		Currency:        "IDR",
		Status:          models.RefundStatusPending,
	}
	ok, err := s.RecordRefund(ctx, order, refund, models.PaymentStatusPartiallyRefunded)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := s.FindOrderByID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPartiallyRefunded, stored.Status)
	assert.Equal(t, int64(4000), stored.RefundedAmount)
	assert.Equal(t, int64(2), stored.Version)

	// The caller still holds version 1
	stale := &models.Refund{ID: "r-2", PaymentOrderID: "o-1", Amount: 6000, Currency: "IDR", Status: models.RefundStatusPending}
	ok, err = s.RecordRefund(ctx, order, stale, models.PaymentStatusRefunded)
	require.NoError(t, err)
	assert.False(t, ok)

	refunds, err := s.ListRefunds(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, "r-1", refunds[0].ID)

	found, err := s.FindRefundByGatewayID(ctx, "rf_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "r-1", found.ID)

	require.NoError(t, s.MarkRefundProcessed(ctx, "r-1", testNow))
	found, err = s.FindRefundByGatewayID(ctx, "rf_1")
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusProcessed, found.Status)
	require.NotNil(t, found.ProcessedAt)

	none, err := s.FindRefundByGatewayID(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_SnapshotOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inWindow := seedOrder(t, s, testutil.Order("o-1", models.PaymentStatusPaid, 10000))
	other := testutil.Order("o-2", models.PaymentStatusPaid, 10000)
	other.ConsultantID = "consultant-2"
	seedOrder(t, s, other)
	late := testutil.Order("o-3", models.PaymentStatusPaid, 10000)
	late.CreatedAt = testNow.Add(48 * time.Hour)
	seedOrder(t, s, late)

	_, err := s.RecordRefund(ctx, inWindow, &models.Refund{
		ID: "r-1", PaymentOrderID: "o-1", Amount: 1000, Currency: "IDR", Status: models.RefundStatusProcessed,
	}, models.PaymentStatusPartiallyRefunded)
	require.NoError(t, err)

	orders, err := s.SnapshotOrders(ctx, "consultant-1", testNow.Add(-24*time.Hour), testNow.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o-1", orders[0].ID)
	require.Len(t, orders[0].Refunds, 1)
	assert.Equal(t, int64(1000), orders[0].Refunds[0].Amount)
}

func TestStore_WebhookClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Claim(ctx, "evt_1", "payment.captured", []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, "evt_1", "payment.captured", nil)
	require.NoError(t, err)
	assert.False(t, ok, "a fresh processing claim is held")

	require.NoError(t, s.Release(ctx, "evt_1", errors.New("database down")))
	ok, err = s.Claim(ctx, "evt_1", "payment.captured", nil)
	require.NoError(t, err)
	assert.True(t, ok, "a released claim can be retaken")

	require.NoError(t, s.Complete(ctx, "evt_1"))
	ok, err = s.Claim(ctx, "evt_1", "payment.captured", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	var event models.WebhookEvent
	require.NoError(t, s.DB().Where("gateway_event_id = ?", "evt_1").First(&event).Error)
	assert.Equal(t, models.WebhookEventStatusProcessed, event.Status)
	assert.NotNil(t, event.ProcessedAt)
}

func TestStore_WebhookClaims_StaleProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.now = func() time.Time { return time.Now().UTC() }

	ok, err := s.Claim(ctx, "evt_1", "payment.captured", nil)
	require.NoError(t, err)
	require.True(t, ok)

	s.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	ok, err = s.Claim(ctx, "evt_1", "payment.captured", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_PurgeWebhookEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Claim(ctx, "evt_old", "payment.captured", nil)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "evt_old"))

	s.now = func() time.Time { return testNow.Add(48 * time.Hour) }
	_, err = s.Claim(ctx, "evt_new", "payment.captured", nil)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "evt_new"))

	purged, err := s.PurgeWebhookEvents(ctx, testNow.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	var remaining int64
	require.NoError(t, s.DB().Model(&models.WebhookEvent{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)
}

func TestStore_MarkReferencePaid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.DB().Create(&models.Session{ID: "sess-1", ConsultantID: "consultant-1", Price: 5000}).Error)

	order := testutil.WithSession(testutil.Order("o-1", models.PaymentStatusPaid, 5000), "sess-1")
	paidAt := testNow
	order.PaidAt = &paidAt
	require.NoError(t, s.MarkReferencePaid(ctx, &order))
	require.NoError(t, s.MarkReferencePaid(ctx, &order))

	var session models.Session
	require.NoError(t, s.DB().First(&session, "id = ?", "sess-1").Error)
	assert.Equal(t, models.ReferencePaymentStatusPaid, session.PaymentStatus)
	require.NotNil(t, session.PaymentOrderID)
	assert.Equal(t, "o-1", *session.PaymentOrderID)

	missing := testutil.WithSession(testutil.Order("o-2", models.PaymentStatusPaid, 5000), "sess-404")
	err := s.MarkReferencePaid(ctx, &missing)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	plain := testutil.Order("o-3", models.PaymentStatusPaid, 5000)
	assert.NoError(t, s.MarkReferencePaid(ctx, &plain))
}
