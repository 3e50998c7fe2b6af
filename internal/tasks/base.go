package tasks

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"konsul_app_echo/internal/models"
)

// BuildScheduledTask is a helper to build ScheduledTask records generically
func BuildScheduledTask(taskName string, args interface{}, due time.Time, recurringInterval *string, taskType models.ScheduledTaskType, maxAttempt int) (*models.ScheduledTask, error) {
	argsBytes, err := sonic.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}

	var mapArgs map[string]interface{}
	if err := sonic.Unmarshal(argsBytes, &mapArgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into map: %w", err)
	}

	return &models.ScheduledTask{
		TaskName:          taskName,
		Arguments:         mapArgs,
		Due:               due,
		RecurringInterval: recurringInterval,
		Status:            models.ScheduledTaskStatusActive,
		TaskType:          taskType,
		MaxAttempt:        maxAttempt,
	}, nil
}

// decodeArgs copies task arguments into a typed struct
func decodeArgs(task models.ScheduledTask, out interface{}) error {
	raw, err := sonic.Marshal(task.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal args: %w", err)
	}
	return nil
}
