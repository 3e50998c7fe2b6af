package main

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"konsul_app_echo/internal/models"
	"konsul_app_echo/internal/repository"
	"konsul_app_echo/internal/tasks"
)

func scheduleTaskCmd() *cobra.Command {
	var (
		taskName   string
		argsStr    string
		dueStr     string
		taskType   string
		recurring  string
		maxAttempt int
	)

	cmd := &cobra.Command{
		Use:   "schedule-task",
		Short: "Create a scheduled task row for the worker",
		Example: `  paymentctl schedule-task --task_name mark_reference_paid --arguments '{"order_id":"..."}' --due "2026-03-10 09:00"
  paymentctl schedule-task --task_name purge_webhook_events --arguments '{}' --due now --tasktype recurring --recurring "FREQ=DAILY;BYHOUR=3"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var args map[string]interface{}
			if err := sonic.Unmarshal([]byte(argsStr), &args); err != nil {
				return fmt.Errorf("invalid JSON arguments: %w", err)
			}
			due, err := parseDue(dueStr)
			if err != nil {
				return err
			}

			tt := models.ScheduledTaskType(taskType)
			if tt != models.ScheduledTaskTypeOneTime && tt != models.ScheduledTaskTypeRecurring {
				return fmt.Errorf("tasktype must be %q or %q", models.ScheduledTaskTypeOneTime, models.ScheduledTaskTypeRecurring)
			}
			var recurringPtr *string
			if recurring != "" {
				recurringPtr = &recurring
			}
			if tt == models.ScheduledTaskTypeRecurring && recurringPtr == nil {
				return fmt.Errorf("recurring tasks need --recurring")
			}

			task, err := tasks.BuildScheduledTask(taskName, args, due, recurringPtr, tt, maxAttempt)
			if err != nil {
				return err
			}

			e, err := loadEnv(true)
			if err != nil {
				return err
			}
			defer e.close()

			if err := tasks.NewScheduler(e.db, e.log).Schedule(cmd.Context(), task); err != nil {
				return err
			}
			fmt.Printf("Successfully created task ID: %d\n", task.ID)
			fmt.Printf("Task: %s\nDue: %s\nType: %s\n", task.TaskName, task.Due, task.TaskType)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskName, "task_name", "", "Name of the task (mandatory)")
	cmd.Flags().StringVar(&argsStr, "arguments", "", "JSON arguments for the task (mandatory)")
	cmd.Flags().StringVar(&dueStr, "due", "", "Due date: now, RFC3339 or 2006-01-02 15:04 local (mandatory)")
	cmd.Flags().StringVar(&taskType, "tasktype", string(models.ScheduledTaskTypeOneTime), "Task type: onetime or recurring")
	cmd.Flags().StringVar(&recurring, "recurring", "", "Recurring interval rule (RRULE)")
	cmd.Flags().IntVar(&maxAttempt, "max_attempt", 3, "Max attempts")
	cmd.MarkFlagRequired("task_name")
	cmd.MarkFlagRequired("arguments")
	cmd.MarkFlagRequired("due")

	return cmd
}

func parseDue(value string) (time.Time, error) {
	if value == "now" {
		return time.Now(), nil
	}
	if due, err := time.Parse(time.RFC3339, value); err == nil {
		return due, nil
	}
	due, err := time.ParseInLocation("2006-01-02 15:04", value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date format, use '2006-01-02 15:04' (local) or RFC3339: %w", err)
	}
	return due, nil
}

func runTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-tasks",
		Short: "Run every due scheduled task once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(true)
			if err != nil {
				return err
			}
			defer e.close()

			store := repository.NewStore(e.db)
			registry := tasks.NewRegistry()
			tasks.DefineTasks(registry, tasks.Dependencies{
				Orders:      store,
				Marker:      store,
				Purger:      store,
				DedupWindow: e.cfg.WebhookDedupWindow,
				Log:         e.log,
			})

			ran, err := tasks.NewRunner(e.db, registry, e.log).RunDue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Ran %d task(s)\n", ran)
			return nil
		},
	}
}
