package logger

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type cronLogger struct {
	log *zap.SugaredLogger
}

// Cron adapts a sugared logger to cron.Logger. cron's per-tick chatter goes
// to debug.
func Cron(log *zap.SugaredLogger) cron.Logger {
	return cronLogger{log: log.Named("cron")}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron_"+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron_"+msg, append(keysAndValues, "error", err)...)
}
