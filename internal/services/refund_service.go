package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"konsul_app_echo/internal/config"
	"konsul_app_echo/internal/logger"
	"konsul_app_echo/internal/models"
)

// RefundRequest asks for a refund of PaymentID. A nil Amount refunds the
// whole remaining balance.
type RefundRequest struct {
	PaymentID string `json:"-"`
	Amount    *int64 `json:"amount"`
	Reason    string `json:"reason"`
}

type RefundService struct {
	orders  OrderStore
	refunds RefundStore
	gateway Gateway
	locker  Locker
	retry   RetryPolicy
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewRefundService(orders OrderStore, refunds RefundStore, gateway Gateway, locker Locker, cfg *config.Config, log *zap.SugaredLogger) *RefundService {
	return &RefundService{
		orders:  orders,
		refunds: refunds,
		gateway: gateway,
		locker:  locker,
		retry:   RetryPolicyFromConfig(cfg),
		log:     log,
		now:     time.Now,
	}
}

// ProcessRefund issues a refund at the gateway and records it. Refunds of
// one order are serialized so the remaining balance is never overdrawn.
func (s *RefundService) ProcessRefund(ctx context.Context, req RefundRequest) (*models.Refund, error) {
	if req.PaymentID == "" {
		return nil, fmt.Errorf("%w: missing payment id", ErrInvalidRefund)
	}
	if len(req.Reason) > 500 {
		return nil, fmt.Errorf("%w: reason too long", ErrInvalidRefund)
	}

	release, err := s.locker.Acquire(ctx, orderLockKey(req.PaymentID))
	if err != nil {
		return nil, err
	}
	defer release()

	order, err := s.orders.FindOrderByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if !order.Status.IsRefundable() {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}

	remaining := order.RemainingRefundable()
	amount := remaining
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRefund)
	}
	if amount > remaining {
		return nil, fmt.Errorf("%w: requested %d, remaining %d", ErrExcessiveRefund, amount, remaining)
	}

	refundID := uuid.NewString()
	gwReq := GatewayRefundRequest{
		GatewayOrderID: order.GatewayOrderID,
		RefundKey:      refundID,
		Amount:         amount,
		Currency:       order.Currency,
		Reason:         req.Reason,
	}
	if order.GatewayPaymentID != nil {
		gwReq.GatewayPaymentID = *order.GatewayPaymentID
	}

	var gwRefund *GatewayRefund
	err = s.retry.Do(ctx, s.log, "refund", func(ctx context.Context) error {
		res, err := s.gateway.Refund(ctx, gwReq)
		if err != nil {
			return err
		}
		gwRefund = res
		return nil
	})
	if err != nil {
		s.log.Errorw("gateway_refund_failed", append(logger.OrderFields(order.ID, order.GatewayOrderID),
			"refund_id", refundID, "amount", amount, "error", err)...)
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && !gwErr.Transient {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRefund, gwErr.Message)
		}
		return nil, err
	}

	next := models.PaymentStatusPartiallyRefunded
	if amount == remaining {
		next = models.PaymentStatusRefunded
	}

	now := s.now()
	refund := &models.Refund{
		ID:                   refundID,
		PaymentOrderID:       order.ID,
		GatewayRefundID:      gwRefund.GatewayRefundID,
		Gateway:              order.Gateway,
		Amount:               amount,
		Currency:             order.Currency,
		Reason:               req.Reason,
		Status:               gwRefund.Status,
		ResultingOrderStatus: next,
	}
	if refund.Status == "" {
		refund.Status = models.RefundStatusPending
	}
	if refund.Status == models.RefundStatusProcessed {
		refund.ProcessedAt = &now
	}

	if err := s.record(ctx, order, refund, next); err != nil {
		return nil, err
	}

	s.log.Infow("payment_refunded", append(logger.OrderFields(order.ID, order.GatewayOrderID),
		"refund_id", refund.ID, "gateway_refund_id", refund.GatewayRefundID, "amount", amount, "order_status", next)...)
	return refund, nil
}

// ReconcileProcessedRefund applies a refund.processed webhook. Refunds we
// issued are marked processed; refunds made outside the platform are
// recorded against the order.
func (s *RefundService) ReconcileProcessedRefund(ctx context.Context, ev RefundProcessedEvent) (string, error) {
	var (
		order *models.PaymentOrder
		err   error
	)
	if ev.PaymentID != "" {
		order, err = s.orders.FindOrderByGatewayPaymentID(ctx, ev.PaymentID)
		if err != nil {
			return "", err
		}
	}
	if order == nil && ev.OrderID != "" {
		order, err = s.orders.FindOrderByGatewayOrderID(ctx, ev.OrderID)
		if err != nil {
			return "", err
		}
	}
	if order == nil {
		return "", ErrOrderNotFound
	}
	if ev.Currency != "" && !strings.EqualFold(ev.Currency, order.Currency) {
		return "", fmt.Errorf("%w: refund %s reported in %s, order %s is in %s",
			ErrRefundMismatch, ev.RefundID, ev.Currency, order.ID, order.Currency)
	}

	release, err := s.locker.Acquire(ctx, orderLockKey(order.ID))
	if err != nil {
		return "", err
	}
	defer release()

	existing, err := s.refunds.FindRefundByGatewayID(ctx, ev.RefundID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if existing.PaymentOrderID != order.ID {
			return "", fmt.Errorf("%w: refund %s belongs to order %s, reported for %s",
				ErrRefundMismatch, ev.RefundID, existing.PaymentOrderID, order.ID)
		}
		if existing.Status == models.RefundStatusProcessed {
			return "duplicate", nil
		}
		if err := s.refunds.MarkRefundProcessed(ctx, existing.ID, s.now()); err != nil {
			return "", fmt.Errorf("mark refund processed: %w", err)
		}
		s.log.Infow("refund_processed", append(logger.OrderFields(order.ID, order.GatewayOrderID), "refund_id", existing.ID)...)
		return "applied", nil
	}

	order, err = s.orders.FindOrderByID(ctx, order.ID)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", ErrOrderNotFound
	}
	if !order.Status.IsRefundable() {
		return "", fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}
	remaining := order.RemainingRefundable()
	if ev.Amount > remaining {
		return "", fmt.Errorf("%w: reported %d, remaining %d", ErrExcessiveRefund, ev.Amount, remaining)
	}

	next := models.PaymentStatusPartiallyRefunded
	if ev.Amount == remaining {
		next = models.PaymentStatusRefunded
	}
	now := s.now()
	refund := &models.Refund{
		ID:                   uuid.NewString(),
		PaymentOrderID:       order.ID,
		GatewayRefundID:      ev.RefundID,
		Gateway:              order.Gateway,
		Amount:               ev.Amount,
		Currency:             order.Currency,
		Reason:               "refund issued at gateway",
		Status:               models.RefundStatusProcessed,
		ResultingOrderStatus: next,
		ProcessedAt:          &now,
	}
	if err := s.record(ctx, order, refund, next); err != nil {
		return "", err
	}
	s.log.Warnw("refund_recorded_from_gateway", append(logger.OrderFields(order.ID, order.GatewayOrderID),
		"gateway_refund_id", ev.RefundID, "amount", ev.Amount, "order_status", next)...)
	return "applied", nil
}

// ListRefunds returns the refunds of an order, oldest first
func (s *RefundService) ListRefunds(ctx context.Context, orderID string) ([]models.Refund, error) {
	order, err := s.orders.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return s.refunds.ListRefunds(ctx, orderID)
}

func (s *RefundService) record(ctx context.Context, order *models.PaymentOrder, refund *models.Refund, next models.PaymentStatus) error {
	ok, err := s.refunds.RecordRefund(ctx, order, refund, next)
	if err != nil {
		s.log.Errorw("refund_record_failed", append(logger.OrderFields(order.ID, order.GatewayOrderID),
			"refund_id", refund.ID, "gateway_refund_id", refund.GatewayRefundID, "amount", refund.Amount, "error", err)...)
		return fmt.Errorf("record refund: %w", err)
	}
	if !ok {
		s.log.Errorw("refund_record_conflict", append(logger.OrderFields(order.ID, order.GatewayOrderID),
			"refund_id", refund.ID, "gateway_refund_id", refund.GatewayRefundID, "version", order.Version)...)
		return ErrConcurrentUpdate
	}
	return nil
}
