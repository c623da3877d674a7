package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// DigestRefresher recomputes and caches a tenant's pool summary.
type DigestRefresher interface {
	RefreshDigest(ctx context.Context, tenantID int64) ([]indent.BranchDigest, error)
}

// TenantLister enumerates tenants for fan-out jobs.
type TenantLister interface {
	TenantIDs(ctx context.Context) ([]int64, error)
}

// PoolDigestJob refreshes the cached pool digest used by dashboards.
type PoolDigestJob struct {
	Pool    DigestRefresher
	Tenants TenantLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPoolDigestJob wires the digest handler.
func NewPoolDigestJob(pool DigestRefresher, tenants TenantLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *PoolDigestJob {
	return &PoolDigestJob{Pool: pool, Tenants: tenants, Logger: logger, Metrics: metrics}
}

// Handle processes TaskPoolDigest tasks.
func (j *PoolDigestJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("pool digest: handler not configured")
	}
	var payload PoolDigestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPoolDigest)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.logger().With(slog.Int64("tenant_id", payload.TenantID))

	tenants := []int64{payload.TenantID}
	if payload.TenantID <= 0 {
		if j.Tenants == nil {
			resultErr = asynq.SkipRetry
			return resultErr
		}
		ids, err := j.Tenants.TenantIDs(ctx)
		if err != nil {
			resultErr = fmt.Errorf("pool digest: list tenants: %w", err)
			logger.Error("list tenants", slog.Any("error", err))
			return resultErr
		}
		tenants = ids
	}

	branches := 0
	for _, tenantID := range tenants {
		digests, err := j.Pool.RefreshDigest(ctx, tenantID)
		if err != nil {
			resultErr = fmt.Errorf("pool digest: tenant %d: %w", tenantID, err)
			logger.Error("refresh digest", slog.Int64("tenant", tenantID), slog.Any("error", err))
			return resultErr
		}
		branches += len(digests)
	}

	logger.Info("refreshed pool digest",
		slog.Int("tenants", len(tenants)),
		slog.Int("branches", branches),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *PoolDigestJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPoolDigest))
	}
	return slog.Default().With(slog.String("job", TaskPoolDigest))
}

func (j *PoolDigestJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
