package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"konsul_app_echo/internal/models"
)

const (
	defaultBatchSize    = 50
	defaultRetryBackoff = time.Minute
	// a task left running this long is assumed orphaned by a dead worker
	defaultStaleRunning = 30 * time.Minute
)

// Runner executes due scheduled tasks and records their history
type Runner struct {
	db           *gorm.DB
	registry     *Registry
	log          *zap.SugaredLogger
	batchSize    int
	retryBackoff time.Duration
	staleRunning time.Duration
	now          func() time.Time
}

func NewRunner(db *gorm.DB, registry *Registry, log *zap.SugaredLogger) *Runner {
	return &Runner{
		db:           db,
		registry:     registry,
		log:          log,
		batchSize:    defaultBatchSize,
		retryBackoff: defaultRetryBackoff,
		staleRunning: defaultStaleRunning,
		now:          time.Now,
	}
}

// RunDue executes every active task whose due time has passed and returns
// how many ran
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	now := r.now()
	if err := r.recoverStale(ctx, now); err != nil {
		return 0, err
	}

	var pending []models.ScheduledTask
	err := r.db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, now).
		Order("due asc").
		Limit(r.batchSize).
		Find(&pending).Error
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		r.log.Debugw("no_pending_tasks")
		return 0, nil
	}
	r.log.Infow("pending_tasks_found", "count", len(pending))

	ran := 0
	for _, task := range pending {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		claimed, err := r.claim(ctx, task.ID)
		if err != nil {
			return ran, err
		}
		if !claimed {
			continue
		}
		r.execute(ctx, task)
		ran++
	}
	return ran, nil
}

// claim moves the task to running so a concurrent worker skips it
func (r *Runner) claim(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ScheduledTask{}).
		Where("id = ? AND status = ?", id, models.ScheduledTaskStatusActive).
		Updates(map[string]interface{}{
			"status":     models.ScheduledTaskStatusRunning,
			"updated_at": r.now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Runner) recoverStale(ctx context.Context, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.ScheduledTask{}).
		Where("status = ? AND updated_at < ?", models.ScheduledTaskStatusRunning, now.Add(-r.staleRunning)).
		Updates(map[string]interface{}{
			"status":     models.ScheduledTaskStatusActive,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Warnw("stale_tasks_recovered", "count", res.RowsAffected)
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, task models.ScheduledTask) {
	attempt := task.Attempt + 1
	runAt := r.now()
	r.log.Infow("task_started",
		"task_id", task.ID,
		"task_name", task.TaskName,
		"attempt", attempt,
	)

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		r.log.Errorw("task_handler_not_found", "task_id", task.ID, "task_name", task.TaskName)
		r.finish(ctx, task, models.ScheduledTaskHistory{
			RunAt:         runAt,
			Status:        "handler_not_found",
			AttemptNumber: attempt,
			Result:        map[string]interface{}{"error": "handler not found"},
		}, map[string]interface{}{
			"status":     models.ScheduledTaskStatusFailure,
			"attempt":    attempt,
			"last_run":   runAt,
			"last_error": "handler not found",
		})
		return
	}

	started := time.Now()
	result, err := handler(ctx, task)
	runtime := int(time.Since(started).Milliseconds())

	history := models.ScheduledTaskHistory{
		RunAt:         runAt,
		Runtime:       runtime,
		Status:        "success",
		AttemptNumber: attempt,
		Result:        result,
	}
	var updates map[string]interface{}
	if err != nil {
		history.Status = "failure"
		history.Result = map[string]interface{}{"error": err.Error()}
		updates = r.failureUpdates(task, attempt, runAt, err)
	} else {
		r.log.Infow("task_completed", "task_id", task.ID, "task_name", task.TaskName, "runtime_ms", runtime)
		updates = r.successUpdates(task, attempt, runAt)
	}
	r.finish(ctx, task, history, updates)
}

func (r *Runner) successUpdates(task models.ScheduledTask, attempt int, now time.Time) map[string]interface{} {
	updates := map[string]interface{}{
		"last_run":   now,
		"attempt":    attempt,
		"last_error": "",
	}
	if task.TaskType != models.ScheduledTaskTypeRecurring {
		updates["status"] = models.ScheduledTaskStatusDone
		return updates
	}
	return r.advanceRecurring(task, now, updates)
}

// failureUpdates retries one-time tasks with exponential backoff until
// MaxAttempt is reached. Recurring tasks move on to their next occurrence.
func (r *Runner) failureUpdates(task models.ScheduledTask, attempt int, now time.Time, err error) map[string]interface{} {
	updates := map[string]interface{}{
		"last_run":   now,
		"attempt":    attempt,
		"last_error": err.Error(),
	}

	if task.TaskType == models.ScheduledTaskTypeRecurring {
		r.log.Warnw("recurring_task_failed", "task_id", task.ID, "task_name", task.TaskName, "error", err)
		return r.advanceRecurring(task, now, updates)
	}

	maxAttempt := task.MaxAttempt
	if maxAttempt < 1 {
		maxAttempt = 1
	}
	if attempt >= maxAttempt {
		r.log.Errorw("task_attempts_exhausted",
			"task_id", task.ID,
			"task_name", task.TaskName,
			"attempt", attempt,
			"error", err,
		)
		updates["status"] = models.ScheduledTaskStatusFailure
		return updates
	}

	delay := r.retryBackoff << (attempt - 1)
	r.log.Warnw("task_retry_scheduled",
		"task_id", task.ID,
		"task_name", task.TaskName,
		"attempt", attempt,
		"retry_in", delay.String(),
		"error", err,
	)
	updates["status"] = models.ScheduledTaskStatusActive
	updates["due"] = now.Add(delay)
	return updates
}

func (r *Runner) advanceRecurring(task models.ScheduledTask, now time.Time, updates map[string]interface{}) map[string]interface{} {
	next := task.NextDue(now)
	// a rule without future occurrences ends the series
	if !next.After(now) {
		updates["status"] = models.ScheduledTaskStatusDone
		return updates
	}
	updates["status"] = models.ScheduledTaskStatusActive
	updates["due"] = next
	updates["attempt"] = 0
	return updates
}

// finish writes the history row and the task's next state together. It
// runs detached from ctx so a shutdown does not strand the task as running.
func (r *Runner) finish(ctx context.Context, task models.ScheduledTask, history models.ScheduledTaskHistory, updates map[string]interface{}) {
	history.ScheduledTaskID = task.ID
	history.TaskName = task.TaskName
	history.Arguments = task.Arguments
	updates["updated_at"] = r.now()

	err := r.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
		return tx.Model(&models.ScheduledTask{}).Where("id = ?", task.ID).Updates(updates).Error
	})
	if err != nil {
		r.log.Errorw("task_state_write_failed", "task_id", task.ID, "task_name", task.TaskName, "error", err)
	}
}
