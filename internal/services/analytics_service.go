package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"konsul_app_echo/internal/models"
)

// PaymentAnalytics is recomputed on every request and never stored
type PaymentAnalytics struct {
	ConsultantID            string          `json:"consultant_id"`
	Start                   time.Time       `json:"start"`
	End                     time.Time       `json:"end"`
	TotalAmount             int64           `json:"total_amount"`
	GrossAmount             int64           `json:"gross_amount"`
	RefundedAmount          int64           `json:"refunded_amount"`
	TotalTransactions       int64           `json:"total_transactions"`
	SuccessfulPayments      int64           `json:"successful_payments"`
	FailedPayments          int64           `json:"failed_payments"`
	AverageTransactionValue decimal.Decimal `json:"average_transaction_value"`
	SuccessRate             decimal.Decimal `json:"success_rate"`
}

type AnalyticsService struct {
	store                     AnalyticsStore
	countRefundedAsSuccessful bool
	log                       *zap.SugaredLogger
}

func NewAnalyticsService(store AnalyticsStore, countRefundedAsSuccessful bool, log *zap.SugaredLogger) *AnalyticsService {
	return &AnalyticsService{store: store, countRefundedAsSuccessful: countRefundedAsSuccessful, log: log}
}

// GetPaymentAnalytics aggregates the consultant's orders created in [start, end)
func (s *AnalyticsService) GetPaymentAnalytics(ctx context.Context, consultantID string, start, end time.Time) (*PaymentAnalytics, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end %s is not after start %s", ErrInvalidWindow, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	orders, err := s.store.SnapshotOrders(ctx, consultantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("snapshot orders: %w", err)
	}

	result := ComputePaymentAnalytics(orders, s.countRefundedAsSuccessful)
	result.ConsultantID = consultantID
	result.Start = start
	result.End = end

	s.log.Debugw("payment_analytics_computed", "consultant_id", consultantID, "orders", len(orders),
		"successful", result.SuccessfulPayments)
	return &result, nil
}

// ComputePaymentAnalytics folds a snapshot of orders into totals. Refunded
// orders count as successful when countRefunded is set.
func ComputePaymentAnalytics(orders []models.PaymentOrder, countRefunded bool) PaymentAnalytics {
	var a PaymentAnalytics
	var countedRefunds int64

	for _, o := range orders {
		a.TotalTransactions++

		var refunded int64
		for _, r := range o.Refunds {
			if r.Status != models.RefundStatusFailed {
				refunded += r.Amount
			}
		}
		a.RefundedAmount += refunded

		switch {
		case o.Status == models.PaymentStatusFailed:
			a.FailedPayments++
		case successfulCapture(o.Status, countRefunded):
			a.SuccessfulPayments++
			a.GrossAmount += o.Amount
			countedRefunds += refunded
		}
	}

	a.TotalAmount = a.GrossAmount - countedRefunds
	a.AverageTransactionValue = decimal.Zero
	a.SuccessRate = decimal.Zero
	if a.SuccessfulPayments > 0 {
		a.AverageTransactionValue = decimal.NewFromInt(a.GrossAmount).
			Div(decimal.NewFromInt(a.SuccessfulPayments)).Round(2)
	}
	if a.TotalTransactions > 0 {
		a.SuccessRate = decimal.NewFromInt(a.SuccessfulPayments).
			Div(decimal.NewFromInt(a.TotalTransactions)).Round(4)
	}
	return a
}

func successfulCapture(status models.PaymentStatus, countRefunded bool) bool {
	switch status {
	case models.PaymentStatusPaid, models.PaymentStatusPartiallyRefunded:
		return true
	case models.PaymentStatusRefunded:
		return countRefunded
	}
	return false
}
