package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"konsul_app_echo/internal/services"
)

// Dependencies are the collaborators task handlers need
type Dependencies struct {
	Orders      services.OrderStore
	Marker      services.ReferenceMarker
	Purger      WebhookEventPurger
	DedupWindow time.Duration
	Log         *zap.SugaredLogger
}

// DefineTasks registers all available tasks
func DefineTasks(reg *Registry, deps Dependencies) {
	markReferencePaid := NewMarkReferencePaidTask(deps.Orders, deps.Marker, deps.Log)
	reg.Register(markReferencePaid.TaskID(), markReferencePaid.HandleExecution)

	purge := NewPurgeWebhookEventsTask(deps.Purger, deps.DedupWindow)
	reg.Register(purge.TaskID(), purge.HandleExecution)
}

// EnsureDefaultSchedules creates the recurring maintenance tasks once
func EnsureDefaultSchedules(ctx context.Context, s *Scheduler, now time.Time) error {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, time.UTC)
	if !first.After(now) {
		first = first.Add(24 * time.Hour)
	}
	_, err := s.EnsureRecurring(ctx, PurgeWebhookEventsTaskName, PurgeWebhookEventsRule, struct{}{}, first)
	return err
}
