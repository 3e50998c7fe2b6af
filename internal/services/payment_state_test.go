package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"konsul_app_echo/internal/models"
	"konsul_app_echo/internal/services"
	"konsul_app_echo/internal/testutil"
)

type PaymentStateTestSuite struct {
	suite.Suite
	store   *testutil.MemoryStore
	marker  *testutil.MockReferenceMarker
	queue   *testutil.RecordingQueue
	machine *services.PaymentStateMachine
}

func (s *PaymentStateTestSuite) SetupTest() {
	s.store = testutil.NewMemoryStore()
	s.marker = &testutil.MockReferenceMarker{}
	s.queue = &testutil.RecordingQueue{}
	s.machine = services.NewPaymentStateMachine(s.store, s.store, s.marker, s.queue,
		testutil.PaymentSecret, models.PaymentGatewayMidtrans, zaptest.NewLogger(s.T()).Sugar())
}

func (s *PaymentStateTestSuite) verification(orderID string) services.PaymentVerification {
	gwOrderID := "gw_" + orderID
	return services.PaymentVerification{
		GatewayOrderID:   gwOrderID,
		GatewayPaymentID: "pay_" + orderID,
		Signature:        services.SignPayment(gwOrderID, "pay_"+orderID, testutil.PaymentSecret),
	}
}

func (s *PaymentStateTestSuite) TestApplyVerifiedPayment_MarksPaidAndReference() {
	s.store.PutOrder(testutil.WithSession(testutil.Order("o-1", models.PaymentStatusCreated, 2500), "session-1"))
	s.marker.On("MarkReferencePaid", mock.Anything, mock.MatchedBy(func(o *models.PaymentOrder) bool {
		return o.ID == "o-1" && o.Status == models.PaymentStatusPaid
	})).Return(nil).Once()

	order, err := s.machine.ApplyVerifiedPayment(context.Background(), s.verification("o-1"))
	s.Require().NoError(err)

	s.Equal(models.PaymentStatusPaid, order.Status)
	s.Require().NotNil(order.GatewayPaymentID)
	s.Equal("pay_o-1", *order.GatewayPaymentID)
	s.NotNil(order.PaidAt)
	s.Equal(int64(2), order.Version)
	s.marker.AssertExpectations(s.T())

	callbacks := s.store.Callbacks()
	s.Require().Len(callbacks, 1)
	s.True(callbacks[0].SignatureValid)
	s.Equal("applied", callbacks[0].Outcome)
}

func (s *PaymentStateTestSuite) TestApplyVerifiedPayment_Idempotent() {
	s.store.PutOrder(testutil.WithSession(testutil.Order("o-2", models.PaymentStatusCreated, 2500), "session-2"))
	s.marker.On("MarkReferencePaid", mock.Anything, mock.Anything).Return(nil)

	first, err := s.machine.ApplyVerifiedPayment(context.Background(), s.verification("o-2"))
	s.Require().NoError(err)
	second, err := s.machine.ApplyVerifiedPayment(context.Background(), s.verification("o-2"))
	s.Require().NoError(err)

	s.Equal(first.Status, second.Status)
	s.Equal(first.Version, second.Version)
	s.Equal(*first.GatewayPaymentID, *second.GatewayPaymentID)
	s.marker.AssertNumberOfCalls(s.T(), "MarkReferencePaid", 1)
}

func (s *PaymentStateTestSuite) TestApplyVerifiedPayment_InvalidSignature() {
	s.store.PutOrder(testutil.Order("o-3", models.PaymentStatusCreated, 2500))
	v := s.verification("o-3")
	v.Signature = services.SignPayment(v.GatewayOrderID, v.GatewayPaymentID, "attacker-secret")

	_, err := s.machine.ApplyVerifiedPayment(context.Background(), v)
	s.ErrorIs(err, services.ErrInvalidSignature)
	s.Equal(models.PaymentStatusCreated, s.store.Order("o-3").Status)

	callbacks := s.store.Callbacks()
	s.Require().Len(callbacks, 1)
	s.False(callbacks[0].SignatureValid)
}

func (s *PaymentStateTestSuite) TestApplyVerifiedPayment_OrderNotFound() {
	_, err := s.machine.ApplyVerifiedPayment(context.Background(), s.verification("missing"))
	s.ErrorIs(err, services.ErrOrderNotFound)
}

func (s *PaymentStateTestSuite) TestApplyVerifiedPayment_ReferenceFailureIsQueued() {
	s.store.PutOrder(testutil.WithSession(testutil.Order("o-4", models.PaymentStatusPending, 2500), "session-4"))
	s.marker.On("MarkReferencePaid", mock.Anything, mock.Anything).Return(errors.New("sessions table locked"))

	order, err := s.machine.ApplyVerifiedPayment(context.Background(), s.verification("o-4"))
	s.Require().NoError(err)

	s.Equal(models.PaymentStatusPaid, order.Status)
	s.Equal(models.PaymentStatusPaid, s.store.Order("o-4").Status)
	s.Equal([]string{"o-4"}, s.queue.Enqueued())
}

func (s *PaymentStateTestSuite) TestApplyVerifiedPayment_NoReferenceSkipsMarker() {
	s.store.PutOrder(testutil.Order("o-5", models.PaymentStatusCreated, 2500))

	_, err := s.machine.ApplyVerifiedPayment(context.Background(), s.verification("o-5"))
	s.Require().NoError(err)
	s.marker.AssertNotCalled(s.T(), "MarkReferencePaid", mock.Anything, mock.Anything)
}

func (s *PaymentStateTestSuite) TestApplyVerifiedPayment_AfterFailureIsRejected() {
	s.store.PutOrder(testutil.Order("o-6", models.PaymentStatusFailed, 2500))

	_, err := s.machine.ApplyVerifiedPayment(context.Background(), s.verification("o-6"))
	s.ErrorIs(err, services.ErrInvalidTransition)
	s.Equal(models.PaymentStatusFailed, s.store.Order("o-6").Status)
}

func (s *PaymentStateTestSuite) TestConcurrentClientAndWebhookCaptureOnce() {
	s.store.PutOrder(testutil.WithSession(testutil.Order("o-7", models.PaymentStatusCreated, 2500), "session-7"))
	s.marker.On("MarkReferencePaid", mock.Anything, mock.Anything).Return(nil)

	v := s.verification("o-7")
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = s.machine.ApplyVerifiedPayment(context.Background(), v)
				return
			}
			_, _, errs[i] = s.machine.ApplyWebhookCapture(context.Background(), v.GatewayOrderID, v.GatewayPaymentID)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		s.NoError(err)
	}
	order := s.store.Order("o-7")
	s.Equal(models.PaymentStatusPaid, order.Status)
	s.Equal(int64(2), order.Version)
	s.marker.AssertNumberOfCalls(s.T(), "MarkReferencePaid", 1)
}

func (s *PaymentStateTestSuite) TestMarkPending() {
	s.store.PutOrder(testutil.Order("o-8", models.PaymentStatusCreated, 2500))

	order, outcome, err := s.machine.MarkPending(context.Background(), "gw_o-8")
	s.Require().NoError(err)
	s.Equal("applied", outcome)
	s.Equal(models.PaymentStatusPending, order.Status)

	_, outcome, err = s.machine.MarkPending(context.Background(), "gw_o-8")
	s.Require().NoError(err)
	s.Equal("ignored", outcome)

	paid, err := s.machine.ApplyVerifiedPayment(context.Background(), s.verification("o-8"))
	s.Require().NoError(err)
	s.Equal(models.PaymentStatusPaid, paid.Status)
}

func (s *PaymentStateTestSuite) TestApplyFailedPayment() {
	s.store.PutOrder(testutil.Order("o-9", models.PaymentStatusPending, 2500))

	order, outcome, err := s.machine.ApplyFailedPayment(context.Background(), "gw_o-9", "DENIED", "card declined")
	s.Require().NoError(err)
	s.Equal("applied", outcome)
	s.Equal(models.PaymentStatusFailed, order.Status)
	s.Equal("DENIED", order.FailureCode)
	s.NotNil(order.FailedAt)

	again, outcome, err := s.machine.ApplyFailedPayment(context.Background(), "gw_o-9", "DENIED", "card declined")
	s.Require().NoError(err)
	s.Equal("duplicate", outcome)
	s.Equal(order.Version, again.Version)
}

func (s *PaymentStateTestSuite) TestApplyFailedPayment_AfterCaptureIsRejected() {
	s.store.PutOrder(testutil.Order("o-10", models.PaymentStatusPaid, 2500))

	_, _, err := s.machine.ApplyFailedPayment(context.Background(), "gw_o-10", "LATE", "late failure")
	s.ErrorIs(err, services.ErrInvalidTransition)
	s.Equal(models.PaymentStatusPaid, s.store.Order("o-10").Status)
}

func (s *PaymentStateTestSuite) TestApplyFailedPayment_StoreError() {
	s.store.PutOrder(testutil.Order("o-11", models.PaymentStatusCreated, 2500))
	s.store.FailTransition = errors.New("connection reset")

	_, _, err := s.machine.ApplyFailedPayment(context.Background(), "gw_o-11", "X", "y")
	s.Error(err)
	s.NotErrorIs(err, services.ErrInvalidTransition)
	s.Equal(models.PaymentStatusCreated, s.store.Order("o-11").Status)
}

func TestPaymentStateTestSuite(t *testing.T) {
	suite.Run(t, new(PaymentStateTestSuite))
}
