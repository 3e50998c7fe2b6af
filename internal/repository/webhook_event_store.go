package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"konsul_app_echo/internal/models"
)

// Claim inserts the event id if absent. A claim left "failed" by an earlier
// delivery, or "processing" for longer than staleClaim, is taken over.
func (s *Store) Claim(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	now := s.now()
	event := models.WebhookEvent{
		GatewayEventID: eventID,
		EventType:      eventType,
		Status:         models.WebhookEventStatusProcessing,
		ReceivedAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(payload) > 0 {
		event.Payload = datatypes.JSON(payload)
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "gateway_event_id"}}, DoNothing: true}).
		Create(&event)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("gateway_event_id = ? AND (status = ? OR (status = ? AND updated_at < ?))",
			eventID,
			string(models.WebhookEventStatusFailed),
			string(models.WebhookEventStatusProcessing),
			now.Add(-s.staleClaim)).
		Updates(map[string]interface{}{
			"status":           string(models.WebhookEventStatusProcessing),
			"processing_error": "",
			"received_at":      now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) Complete(ctx context.Context, eventID string) error {
	now := s.now()
	return s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("gateway_event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":       string(models.WebhookEventStatusProcessed),
			"processed_at": now,
			"updated_at":   now,
		}).Error
}

func (s *Store) Release(ctx context.Context, eventID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("gateway_event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":           string(models.WebhookEventStatusFailed),
			"processing_error": msg,
			"updated_at":       s.now(),
		}).Error
}

// PurgeWebhookEvents deletes finished events received before cutoff
func (s *Store) PurgeWebhookEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("received_at < ? AND status <> ?", cutoff, string(models.WebhookEventStatusProcessing)).
		Delete(&models.WebhookEvent{})
	return res.RowsAffected, res.Error
}
