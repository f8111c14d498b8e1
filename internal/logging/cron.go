package logging

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to cron.Logger.
//
// cron reports every wake-up and job start at Info, which is far too chatty
// for us, so those go to Debug. The one exception is the "skip" message from
// cron.SkipIfStillRunning, which means a recurring run was dropped.
type cronLogger struct {
	l *slog.Logger
}

// NewCronLogger returns a cron.Logger that writes through l.
func NewCronLogger(l *slog.Logger) cron.Logger {
	return cronLogger{l: l}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		c.l.Warn("skipping run: previous run of this timer still in progress", keysAndValues...)
		return
	}
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)
	c.l.Error("cron: "+msg, args...)
}
