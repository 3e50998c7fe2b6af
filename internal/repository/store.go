// Package repository is the gorm persistence layer behind the services
// store interfaces.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"

	"konsul_app_echo/internal/models"
	"konsul_app_echo/internal/services"
)

// Store implements services.OrderStore, RefundStore, AuditStore,
// AnalyticsStore, EventDeduper and ReferenceMarker on one *gorm.DB
type Store struct {
	db           *gorm.DB
	snapshotOpts *sql.TxOptions
	// staleClaim is how long a "processing" webhook claim is honoured
	// before another delivery may take it over
	staleClaim time.Duration
	now        func() time.Time
}

var (
	_ services.OrderStore      = (*Store)(nil)
	_ services.RefundStore     = (*Store)(nil)
	_ services.AuditStore      = (*Store)(nil)
	_ services.AnalyticsStore  = (*Store)(nil)
	_ services.EventDeduper    = (*Store)(nil)
	_ services.ReferenceMarker = (*Store)(nil)
)

func NewStore(db *gorm.DB) *Store {
	s := &Store{db: db, staleClaim: 10 * time.Minute, now: time.Now}
	// sqlite has a single writer and no isolation levels to ask for
	if db.Dialector.Name() == "postgres" {
		s.snapshotOpts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return s
}

// DB exposes the handle for callers that share its lifecycle
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) CreateOrder(ctx context.Context, order *models.PaymentOrder) error {
	return s.db.WithContext(ctx).Create(order).Error
}

func (s *Store) FindOrderByID(ctx context.Context, id string) (*models.PaymentOrder, error) {
	return s.findOrder(ctx, "id = ?", id)
}

func (s *Store) FindOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.PaymentOrder, error) {
	return s.findOrder(ctx, "gateway_order_id = ?", gatewayOrderID)
}

func (s *Store) FindOrderByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.PaymentOrder, error) {
	return s.findOrder(ctx, "gateway_payment_id = ?", gatewayPaymentID)
}

func (s *Store) FindReusableOrder(ctx context.Context, idempotencyKey string, since time.Time) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	err := s.db.WithContext(ctx).
		Where("idempotency_key = ? AND created_at >= ? AND status <> ?", idempotencyKey, since, models.PaymentStatusFailed).
		Order("created_at desc").
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// TransitionOrder issues UPDATE ... WHERE id = ? AND status IN (from).
// Zero affected rows means another writer got there first.
func (s *Store) TransitionOrder(ctx context.Context, t services.OrderTransition) (bool, error) {
	updates := map[string]interface{}{
		"status":     string(t.To),
		"version":    gorm.Expr("version + 1"),
		"updated_at": t.At,
	}
	switch t.To {
	case models.PaymentStatusPaid:
		updates["paid_at"] = t.At
		if t.GatewayPaymentID != nil {
			updates["gateway_payment_id"] = *t.GatewayPaymentID
		}
	case models.PaymentStatusFailed:
		updates["failed_at"] = t.At
		updates["failure_code"] = t.FailureCode
		updates["failure_description"] = t.FailureDescription
	}

	res := s.db.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("id = ? AND status IN ?", t.OrderID, statusStrings(t.From)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) RecordCallback(ctx context.Context, entry *models.PaymentCallbackHistory) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// SnapshotOrders reads orders and refunds inside one read-only transaction
func (s *Store) SnapshotOrders(ctx context.Context, consultantID string, start, end time.Time) ([]models.PaymentOrder, error) {
	var orders []models.PaymentOrder
	read := func(tx *gorm.DB) error {
		return tx.Preload("Refunds").
			Where("consultant_id = ? AND created_at >= ? AND created_at < ?", consultantID, start, end).
			Order("created_at asc").
			Find(&orders).Error
	}

	var err error
	if s.snapshotOpts != nil {
		err = s.db.WithContext(ctx).Transaction(read, s.snapshotOpts)
	} else {
		err = s.db.WithContext(ctx).Transaction(read)
	}
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) findOrder(ctx context.Context, query string, arg interface{}) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	err := s.db.WithContext(ctx).Where(query, arg).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func statusStrings(statuses []models.PaymentStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
