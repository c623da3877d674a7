package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/testing/memstore"
)

func TestReconcileJobReportsDriftAcrossTenants(t *testing.T) {
	store := memstore.New()
	audit := &memstore.AuditLog{}
	ledger := inventory.NewService(store.Inventory(), audit, masterdata.NewService(store.Catalog(), audit, nil), nil)

	clean := inventory.StockKey{TenantID: 1, BranchID: 10, WorkAreaID: 100, ItemID: 1000}
	broken := inventory.StockKey{TenantID: 2, BranchID: 20, WorkAreaID: 200, ItemID: 2000}
	store.SeedStock(clean, 10)
	store.SeedStock(broken, 10)
	store.CorruptStock(broken, 7)

	reg := prometheus.NewRegistry()
	job := NewReconcileJob(ledger, nil, jobmetrics.NewMetrics(reg))

	result, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, result.Tenants)
	require.Len(t, result.Drift, 1)
	require.Equal(t, broken, result.Drift[0].StockKey)
	require.InDelta(t, -3, result.Drift[0].Discrepancy, 1e-9)

	count, err := testutil.GatherAndCount(reg, "odyssey_stock_ledger_drift_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// reconcile is read-only
	require.InDelta(t, 7, store.Balance(broken), 1e-9)
	require.Len(t, store.Movements(), 2)
}

func TestReconcileJobSingleTenantPayload(t *testing.T) {
	store := memstore.New()
	audit := &memstore.AuditLog{}
	ledger := inventory.NewService(store.Inventory(), audit, masterdata.NewService(store.Catalog(), audit, nil), nil)
	broken := inventory.StockKey{TenantID: 2, BranchID: 20, WorkAreaID: 200, ItemID: 2000}
	store.SeedStock(broken, 10)
	store.CorruptStock(broken, 11)

	job := NewReconcileJob(ledger, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewReconcileTask(1)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	result, err := job.Run(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 1, result.Tenants)
	require.Len(t, result.Drift, 1)

	err = job.Handle(context.Background(), asynq.NewTask(TaskInventoryReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type failingLedger struct{}

func (failingLedger) Reconcile(context.Context, int64) ([]inventory.Drift, error) {
	return nil, errors.New("database down")
}

func (failingLedger) TenantIDs(context.Context) ([]int64, error) {
	return []int64{1, 2, 3}, nil
}

func TestReconcileJobCountsFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := NewReconcileJob(failingLedger{}, nil, jobmetrics.NewMetrics(reg))

	_, err := job.Run(context.Background(), 0)
	require.Error(t, err)

	count, err := testutil.GatherAndCount(reg, "odyssey_jobs_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestPoolDigestJobCachesSummary(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	digests := cache.NewJSONCache(client, "pool", time.Minute)

	store := memstore.New()
	audit := &memstore.AuditLog{}
	md := masterdata.NewService(store.Catalog(), audit, nil)
	pool := indent.NewPool(store.Indents(), digests)
	svc := indent.NewService(store.Indents(), pool, store.Catalog(), md, audit, nil)

	rc := shared.RequestContext{TenantID: 1, Principal: shared.Principal{UserID: 3, RoleCode: "STORE"}, BranchID: 10}
	kitchen := store.AddWorkArea(1, 10, "Kitchen")
	flour := store.AddItem(1, "FLOUR", "Flour", 2.5, 5)

	ctx := context.Background()
	in, err := svc.CreateIndent(ctx, rc, indent.CreateInput{
		WorkAreaID: kitchen,
		Lines:      []indent.LineInput{{ItemID: flour, RequestedQty: 12}},
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, rc, in.ID, indent.ApproveInput{})
	require.NoError(t, err)

	job := NewPoolDigestJob(pool, nil, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewPoolDigestTask(1)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	var cached []indent.BranchDigest
	hit, err := digests.Get(ctx, digests.Key("digest", "1"), &cached)
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, cached, 1)
	require.Equal(t, int64(10), cached[0].BranchID)
	require.Equal(t, 1, cached[0].Lines)
	require.InDelta(t, 12, cached[0].PendingPOQty, 1e-9)

	// all-tenant payload needs a tenant lister
	all, err := NewPoolDigestTask(0)
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(ctx, all), asynq.SkipRetry)
}

type recordingPurger struct {
	olderThan time.Duration
	err       error
}

func (p *recordingPurger) Cleanup(_ context.Context, olderThan time.Duration) error {
	p.olderThan = olderThan
	return p.err
}

func TestIdempotencyPurgeJob(t *testing.T) {
	purger := &recordingPurger{}
	reg := prometheus.NewRegistry()
	job := NewIdempotencyPurgeJob(purger, 0, nil, jobmetrics.NewMetrics(reg))

	require.NoError(t, job.Handle(context.Background(), NewIdempotencyPurgeTask()))
	require.Equal(t, DefaultIdempotencyRetention, purger.olderThan)

	purger.err = errors.New("connection reset")
	require.ErrorContains(t, job.Handle(context.Background(), NewIdempotencyPurgeTask()), "connection reset")

	count, err := testutil.GatherAndCount(reg, "odyssey_jobs_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthEndpoint(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		body      string
	}{
		{name: "no inspector", status: http.StatusOK, body: `{"queue":"default","pending":0}`},
		{name: "pending tasks", inspector: stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 4}}, status: http.StatusOK, body: `{"queue":"default","pending":4}`},
		{name: "redis down", inspector: stubInspector{err: errors.New("dial tcp")}, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, nil).MountRoutes(r)

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tc.status, rr.Code)
			if tc.body != "" {
				require.JSONEq(t, tc.body, rr.Body.String())
			}
		})
	}
}
