package services

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// HealthReport is the state of each backing dependency
type HealthReport struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	CheckedAt time.Time         `json:"checked_at"`
}

// HealthChecker pings the database and, when configured, Redis
type HealthChecker struct {
	db    *gorm.DB
	redis *RedisStore
}

func NewHealthChecker(db *gorm.DB, redis *RedisStore) *HealthChecker {
	return &HealthChecker{db: db, redis: redis}
}

// Check reports "ok" only when every dependency answered
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	report := HealthReport{Status: "ok", Checks: map[string]string{}, CheckedAt: time.Now().UTC()}

	report.Checks["database"] = "ok"
	if sqlDB, err := h.db.DB(); err != nil {
		report.Checks["database"] = err.Error()
	} else if err := sqlDB.PingContext(ctx); err != nil {
		report.Checks["database"] = err.Error()
	}

	if h.redis != nil {
		report.Checks["redis"] = "ok"
		if err := h.redis.Ping(ctx); err != nil {
			report.Checks["redis"] = err.Error()
		}
	}

	for _, v := range report.Checks {
		if v != "ok" {
			report.Status = "degraded"
		}
	}
	return report
}
