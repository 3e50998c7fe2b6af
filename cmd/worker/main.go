package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"konsul_app_echo/internal/config"
	"konsul_app_echo/internal/logger"
	"konsul_app_echo/internal/repository"
	"konsul_app_echo/internal/services"
	"konsul_app_echo/internal/tasks"
)

// runTimeout bounds a single drain of the task queue
const runTimeout = 4 * time.Minute

func main() {
	cfg := config.Load()

	sugar, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer sugar.Sync()

	if cfg.DatabaseURL == "" {
		sugar.Fatalw("invalid_configuration", "error", "DATABASE_URL not set")
	}

	db, err := services.InitDB(cfg.DatabaseURL, sugar)
	if err != nil {
		sugar.Fatalw("database_connect_failed", "error", err)
	}
	defer services.CloseDB(db)

	store := repository.NewStore(db)

	// Initialize Task Registry
	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry, tasks.Dependencies{
		Orders:      store,
		Marker:      store,
		Purger:      store,
		DedupWindow: cfg.WebhookDedupWindow,
		Log:         sugar,
	})

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := tasks.NewScheduler(db, sugar)
	if err := tasks.EnsureDefaultSchedules(ctx, scheduler, time.Now()); err != nil {
		sugar.Fatalw("default_schedule_failed", "error", err)
	}

	runner := tasks.NewRunner(db, registry, sugar)
	drain := func() {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		ran, err := runner.RunDue(runCtx)
		if err != nil {
			sugar.Errorw("task_run_failed", "error", err, "ran", ran)
			return
		}
		if ran > 0 {
			sugar.Infow("task_run_completed", "ran", ran)
		}
	}

	cronLog := logger.Cron(sugar)
	c := cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))
	if _, err := c.AddFunc(cfg.WorkerSchedule, drain); err != nil {
		sugar.Fatalw("worker_schedule_invalid", "schedule", cfg.WorkerSchedule, "error", err)
	}

	sugar.Infow("worker_started", "schedule", cfg.WorkerSchedule, "tasks", registry.Names())
	drain()
	c.Start()

	<-ctx.Done()
	sugar.Infow("worker_shutting_down")
	<-c.Stop().Done()
}
