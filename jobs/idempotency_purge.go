package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// DefaultIdempotencyRetention keeps keys long enough to cover client retries.
const DefaultIdempotencyRetention = 72 * time.Hour

// KeyPurger deletes idempotency keys older than the retention window.
type KeyPurger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyPurgeJob keeps the idempotency_keys table bounded.
type IdempotencyPurgeJob struct {
	Keys      KeyPurger
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewIdempotencyPurgeJob wires the purge handler. A non-positive retention
// falls back to DefaultIdempotencyRetention.
func NewIdempotencyPurgeJob(keys KeyPurger, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyPurgeJob {
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	return &IdempotencyPurgeJob{Keys: keys, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle processes TaskIdempotencyPurge tasks.
func (j *IdempotencyPurgeJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency purge: handler not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskIdempotencyPurge)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := j.Keys.Cleanup(ctx, j.Retention); err != nil {
		return fmt.Errorf("idempotency purge: %w", err)
	}
	logger.Info("purged idempotency keys", slog.String("job", TaskIdempotencyPurge), slog.Duration("retention", j.Retention))
	return nil
}
