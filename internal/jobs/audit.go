package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"inventory-ledger/internal/app"
)

// Auditor is the slice of the application service the audit job needs.
type Auditor interface {
	RunAudit(ctx context.Context, reconcile bool) (*app.AuditResult, error)
}

// AuditJob compares every stock record's reserved column with the sum of its
// reservations. With Reconcile set it also heals the drift it finds.
type AuditJob struct {
	Auditor   Auditor
	Reconcile bool
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Run executes one audit pass. It satisfies cron.Job.
func (j AuditJob) Run() {
	logger := j.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	result, err := j.Auditor.RunAudit(ctx, j.Reconcile)
	if err != nil {
		logger.Error("reservation audit failed", zap.Error(err))
		return
	}
	logger.Info("reservation audit finished",
		zap.Int("drifted", len(result.Drift)),
		zap.Bool("reconciled", result.Reconciled),
		zap.Duration("duration", time.Since(start)),
	)
}

// StartScheduler registers the audit job on schedule and starts the cron
// runner. An empty schedule disables the job and returns a nil scheduler.
// Overlapping runs are skipped rather than queued.
func StartScheduler(schedule string, job AuditJob) (*cron.Cron, error) {
	if schedule == "" {
		return nil, nil
	}
	logger := job.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddJob(schedule, job); err != nil {
		return nil, fmt.Errorf("invalid audit schedule %q: %w", schedule, err)
	}
	c.Start()
	logger.Info("reservation audit scheduled", zap.String("schedule", schedule), zap.Bool("reconcile", job.Reconcile))
	return c, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
