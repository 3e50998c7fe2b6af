package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"konsul_app_echo/internal/models"
)

var errStaleOrder = errors.New("payment order version changed")

// RecordRefund inserts the refund and advances the order in one
// transaction. The order update is guarded by the version the caller read.
func (s *Store) RecordRefund(ctx context.Context, order *models.PaymentOrder, refund *models.Refund, next models.PaymentStatus) (bool, error) {
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(refund).Error; err != nil {
			return err
		}
		res := tx.Model(&models.PaymentOrder{}).
			Where("id = ? AND version = ?", order.ID, order.Version).
			Updates(map[string]interface{}{
				"status":          string(next),
				"refunded_amount": gorm.Expr("refunded_amount + ?", refund.Amount),
				"version":         gorm.Expr("version + 1"),
				"refunded_at":     now,
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errStaleOrder
		}
		return nil
	})
	if errors.Is(err, errStaleOrder) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) FindRefundByGatewayID(ctx context.Context, gatewayRefundID string) (*models.Refund, error) {
	if gatewayRefundID == "" {
		return nil, nil
	}
	var refund models.Refund
	err := s.db.WithContext(ctx).Where("gateway_refund_id = ?", gatewayRefundID).First(&refund).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &refund, nil
}

func (s *Store) MarkRefundProcessed(ctx context.Context, refundID string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ?", refundID).
		Updates(map[string]interface{}{
			"status":       string(models.RefundStatusProcessed),
			"processed_at": at,
		}).Error
}

func (s *Store) ListRefunds(ctx context.Context, orderID string) ([]models.Refund, error) {
	var refunds []models.Refund
	err := s.db.WithContext(ctx).
		Where("payment_order_id = ?", orderID).
		Order("created_at asc").
		Find(&refunds).Error
	return refunds, err
}
