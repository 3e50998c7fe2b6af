package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"konsul_app_echo/internal/models"
)

// MarkReferencePaid flags the session or quotation linked to order as paid.
// Repeating it for the same order is harmless.
func (s *Store) MarkReferencePaid(ctx context.Context, order *models.PaymentOrder) error {
	if !order.HasReference() {
		return nil
	}

	var model interface{}
	switch order.ReferenceType {
	case models.ReferenceTypeSession:
		model = &models.Session{}
	case models.ReferenceTypeQuotation:
		model = &models.Quotation{}
	default:
		return fmt.Errorf("unknown reference type %q", order.ReferenceType)
	}

	paidAt := s.now()
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}

	res := s.db.WithContext(ctx).
		Model(model).
		Where("id = ?", *order.ReferenceID).
		Updates(map[string]interface{}{
			"payment_status":   string(models.ReferencePaymentStatusPaid),
			"payment_order_id": order.ID,
			"paid_at":          paidAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", order.ReferenceType, *order.ReferenceID, gorm.ErrRecordNotFound)
	}
	return nil
}
