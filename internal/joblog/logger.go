package joblog

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Logger binds a sink to one job and mirrors every line to zap. A failing sink
// never fails the run; the error is logged.
type Logger struct {
	sink   Sink
	jobID  string
	logger *zap.Logger
}

// NewLogger returns a Logger for jobID. A nil sink only logs to zap.
func NewLogger(sink Sink, jobID string, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{sink: sink, jobID: jobID, logger: logger.With(zap.String("job_id", jobID))}
}

// JobID returns the bound job id.
func (l *Logger) JobID() string {
	return l.jobID
}

// Zap returns the job-scoped zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.logger
}

// Infof appends a formatted line.
func (l *Logger) Infof(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Info(msg)
	l.append(ctx, msg)
}

// Warnf appends a formatted line and logs it at warn level with fields.
func (l *Logger) Warnf(ctx context.Context, fields []zap.Field, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Warn(msg, fields...)
	l.append(ctx, msg)
}

// Errorf appends a formatted line and logs it at error level with fields.
func (l *Logger) Errorf(ctx context.Context, fields []zap.Field, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Error(msg, fields...)
	l.append(ctx, msg)
}

func (l *Logger) append(ctx context.Context, msg string) {
	if l.sink == nil {
		return
	}
	if err := l.sink.Append(context.WithoutCancel(ctx), l.jobID, msg); err != nil {
		l.logger.Warn("failed to append job log", zap.Error(err))
	}
}
