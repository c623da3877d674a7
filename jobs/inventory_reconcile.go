package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const reconcileParallelism = 4

// Reconciler is the ledger read surface the reconcile job needs.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID int64) ([]inventory.Drift, error)
	TenantIDs(ctx context.Context) ([]int64, error)
}

// ReconcileResult summarises one reconcile run.
type ReconcileResult struct {
	Tenants int
	Drift   []inventory.Drift
}

// ReconcileJob checks every ledger row against its movement journal. It never writes.
type ReconcileJob struct {
	Ledger  Reconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReconcileJob wires the reconcile handler.
func NewReconcileJob(ledger Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Ledger:  ledger,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskInventoryReconcile tasks.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("inventory reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload.TenantID)
	return err
}

// Run reconciles one tenant, or all of them when tenantID is zero.
func (j *ReconcileJob) Run(ctx context.Context, tenantID int64) (result ReconcileResult, resultErr error) {
	if j.Ledger == nil {
		return result, errors.New("inventory reconcile: ledger not configured")
	}
	start := j.now()
	tracker := j.metrics().Track(TaskInventoryReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("tenant_id", tenantID))
	logger.Info("starting ledger reconcile")

	tenants := []int64{tenantID}
	if tenantID <= 0 {
		ids, err := j.Ledger.TenantIDs(ctx)
		if err != nil {
			logger.Error("list tenants", slog.Any("error", err))
			return result, fmt.Errorf("inventory reconcile: list tenants: %w", err)
		}
		tenants = ids
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileParallelism)
	for _, id := range tenants {
		g.Go(func() error {
			drift, err := j.Ledger.Reconcile(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			result.Drift = append(result.Drift, drift...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("reconcile failed", slog.Any("error", err))
		return result, err
	}
	result.Tenants = len(tenants)

	for _, d := range result.Drift {
		logger.Warn("ledger drift detected",
			slog.String("key", d.StockKey.String()),
			slog.Float64("quantity", d.Quantity),
			slog.Float64("journal_sum", d.JournalSum),
			slog.Float64("discrepancy", d.Discrepancy),
		)
		j.metrics().AddDrift(d.TenantID, d.BranchID, 1)
	}

	logger.Info("completed ledger reconcile",
		slog.Int("tenants", result.Tenants),
		slog.Int("drift", len(result.Drift)),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventoryReconcile))
	}
	return slog.Default().With(slog.String("job", TaskInventoryReconcile))
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReconcileJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
