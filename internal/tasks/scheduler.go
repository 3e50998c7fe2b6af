package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"konsul_app_echo/internal/models"
	"konsul_app_echo/internal/services"
)

// reconciliationMaxAttempt bounds retries of a deferred reference update
const reconciliationMaxAttempt = 5

// Scheduler writes task rows for the worker to pick up
type Scheduler struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	now func() time.Time
}

var _ services.ReconciliationQueue = (*Scheduler)(nil)

func NewScheduler(db *gorm.DB, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{db: db, log: log, now: time.Now}
}

// Schedule persists task as given
func (s *Scheduler) Schedule(ctx context.Context, task *models.ScheduledTask) error {
	if task.Status == "" {
		task.Status = models.ScheduledTaskStatusActive
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("schedule %s: %w", task.TaskName, err)
	}
	s.log.Infow("scheduled_task_created",
		"task_id", task.ID,
		"task_name", task.TaskName,
		"due", task.Due,
	)
	return nil
}

// EnqueueReferenceReconciliation schedules a retry of the session or
// quotation update for an order that is already PAID
func (s *Scheduler) EnqueueReferenceReconciliation(ctx context.Context, order *models.PaymentOrder, cause error) error {
	args := MarkReferencePaidArgs{OrderID: order.ID}
	if cause != nil {
		args.Cause = cause.Error()
	}
	task, err := BuildScheduledTask(MarkReferencePaidTaskName, args, s.now(), nil, models.ScheduledTaskTypeOneTime, reconciliationMaxAttempt)
	if err != nil {
		return err
	}
	return s.Schedule(ctx, task)
}

// EnsureRecurring creates a recurring task unless one with the same name
// is already scheduled. It reports whether a row was created.
func (s *Scheduler) EnsureRecurring(ctx context.Context, taskName, rule string, args interface{}, firstDue time.Time) (bool, error) {
	var existing models.ScheduledTask
	err := s.db.WithContext(ctx).
		Where("task_name = ? AND task_type = ? AND status IN ?", taskName, models.ScheduledTaskTypeRecurring,
			[]string{string(models.ScheduledTaskStatusActive), string(models.ScheduledTaskStatusRunning)}).
		First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	task, err := BuildScheduledTask(taskName, args, firstDue, &rule, models.ScheduledTaskTypeRecurring, 1)
	if err != nil {
		return false, err
	}
	if err := s.Schedule(ctx, task); err != nil {
		return false, err
	}
	return true, nil
}
