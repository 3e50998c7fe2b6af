package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"konsul_app_echo/internal/models"
	"konsul_app_echo/internal/services"
)

const (
	MarkReferencePaidTaskName  = "mark_reference_paid"
	PurgeWebhookEventsTaskName = "purge_webhook_events"

	// PurgeWebhookEventsRule runs the purge daily at 03:00
	PurgeWebhookEventsRule = "FREQ=DAILY;BYHOUR=3;BYMINUTE=0;BYSECOND=0"
)

// MarkReferencePaidArgs are the arguments of a mark_reference_paid task
type MarkReferencePaidArgs struct {
	OrderID string `json:"order_id"`
	Cause   string `json:"cause,omitempty"`
}

// MarkReferencePaidTaskDef retries the session or quotation update that
// failed right after a capture
type MarkReferencePaidTaskDef struct {
	orders services.OrderStore
	marker services.ReferenceMarker
	log    *zap.SugaredLogger
}

func NewMarkReferencePaidTask(orders services.OrderStore, marker services.ReferenceMarker, log *zap.SugaredLogger) *MarkReferencePaidTaskDef {
	return &MarkReferencePaidTaskDef{orders: orders, marker: marker, log: log}
}

// TaskID returns the unique identifier for this task
func (t *MarkReferencePaidTaskDef) TaskID() string {
	return MarkReferencePaidTaskName
}

func (t *MarkReferencePaidTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	var args MarkReferencePaidArgs
	if err := decodeArgs(task, &args); err != nil {
		return nil, err
	}
	if args.OrderID == "" {
		return nil, fmt.Errorf("order_id not provided")
	}

	order, err := t.orders.FindOrderByID(ctx, args.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}
	if order == nil {
		return nil, fmt.Errorf("order %s: %w", args.OrderID, services.ErrOrderNotFound)
	}
	if !order.Status.IsCaptured() {
		return map[string]interface{}{"status": "skipped", "reason": "order not captured", "order_status": string(order.Status)}, nil
	}
	if !order.HasReference() {
		return map[string]interface{}{"status": "skipped", "reason": "order has no reference"}, nil
	}

	if err := t.marker.MarkReferencePaid(ctx, order); err != nil {
		return nil, fmt.Errorf("mark %s %s paid: %w", order.ReferenceType, *order.ReferenceID, err)
	}
	t.log.Infow("reference_reconciled",
		"order_id", order.ID,
		"reference_type", order.ReferenceType,
		"reference_id", *order.ReferenceID,
	)
	return map[string]interface{}{
		"status":         "success",
		"reference_type": string(order.ReferenceType),
		"reference_id":   *order.ReferenceID,
	}, nil
}

// WebhookEventPurger deletes dedup rows older than a cutoff
type WebhookEventPurger interface {
	PurgeWebhookEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeWebhookEventsTaskDef bounds the webhook dedup ledger to the dedup window
type PurgeWebhookEventsTaskDef struct {
	purger WebhookEventPurger
	window time.Duration
	now    func() time.Time
}

func NewPurgeWebhookEventsTask(purger WebhookEventPurger, window time.Duration) *PurgeWebhookEventsTaskDef {
	return &PurgeWebhookEventsTaskDef{purger: purger, window: window, now: time.Now}
}

// TaskID returns the unique identifier for this task
func (t *PurgeWebhookEventsTaskDef) TaskID() string {
	return PurgeWebhookEventsTaskName
}

func (t *PurgeWebhookEventsTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	cutoff := t.now().Add(-t.window)
	purged, err := t.purger.PurgeWebhookEvents(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status": "success",
		"purged": purged,
		"cutoff": cutoff.Format(time.RFC3339),
	}, nil
}
