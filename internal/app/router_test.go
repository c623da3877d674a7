package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/reports"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/testing/memstore"
	"github.com/odyssey-erp/odyssey-stock/jobs"
)

// roleChecker grants every permission to STORE and nothing to anyone else.
type roleChecker struct{}

func (roleChecker) Allowed(_ context.Context, rc shared.RequestContext, _ string) (bool, error) {
	return rc.Principal.RoleCode == "STORE", nil
}

type routerFixture struct {
	handler http.Handler
	store   *memstore.Store
	kitchen int64
	flour   int64
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	store := memstore.New()
	audit := &memstore.AuditLog{}
	md := masterdata.NewService(store.Catalog(), audit, nil)
	pool := indent.NewPool(store.Indents(), nil)
	indents := indent.NewService(store.Indents(), pool, store.Catalog(), md, audit, nil)
	procurements := procurement.NewService(procurement.Dependencies{
		Repo:        store.Procurement(),
		Catalog:     store.Catalog(),
		Vendors:     store.Catalog(),
		WorkAreas:   md,
		Idempotency: store.Idempotency(),
		Audit:       audit,
	})
	ledger := inventory.NewService(store.Inventory(), audit, md, nil)
	mw := rbac.Middleware{Checker: roleChecker{}}

	handler := NewRouter(RouterParams{
		IndentHandler:      indent.NewHandler(nil, indents, pool, mw),
		ProcurementHandler: procurement.NewHandler(nil, procurements, mw),
		InventoryHandler:   inventory.NewHandler(nil, ledger, mw),
		MasterDataHandler:  masterdata.NewHandler(nil, md, mw),
		ReportsHandler:     reports.NewHandler(nil, reports.NewService(store.Reports(audit), 0, nil), mw),
		JobHandler:         jobs.NewHandler(nil, nil),
		Metrics:            observability.NewMetrics(),
	})
	return routerFixture{
		handler: handler,
		store:   store,
		kitchen: store.AddWorkArea(1, 10, "Kitchen"),
		flour:   store.AddItem(1, "FLOUR", "Flour", 2.5, 5),
	}
}

func (f routerFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

var storeUser = map[string]string{
	HeaderTenantID: "1",
	HeaderUserID:   "3",
	HeaderRole:     "store",
	HeaderBranchID: "10",
}

func TestPublicEndpointsSkipRequestContext(t *testing.T) {
	f := newRouterFixture(t)

	for _, path := range []string{"/healthz", "/metrics", "/jobs/health"} {
		rr := f.do(t, http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusOK, rr.Code, path)
	}
	rr := f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestRequestContextHeaders(t *testing.T) {
	f := newRouterFixture(t)

	cases := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{name: "missing tenant", headers: map[string]string{HeaderUserID: "3", HeaderRole: "STORE"}, status: http.StatusUnauthorized},
		{name: "missing user", headers: map[string]string{HeaderTenantID: "1", HeaderRole: "STORE"}, status: http.StatusUnauthorized},
		{name: "garbage tenant", headers: map[string]string{HeaderTenantID: "one", HeaderUserID: "3"}, status: http.StatusUnauthorized},
		{name: "bad branch", headers: map[string]string{HeaderTenantID: "1", HeaderUserID: "3", HeaderRole: "STORE", HeaderBranchID: "-4"}, status: http.StatusBadRequest},
		{name: "role without permission", headers: map[string]string{HeaderTenantID: "1", HeaderUserID: "3", HeaderRole: "CHEF", HeaderBranchID: "10"}, status: http.StatusForbidden},
		{name: "resolved", headers: storeUser, status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, http.MethodGet, "/indents", nil, tc.headers)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
		})
	}
}

func TestIndentReachesPoolOverHTTP(t *testing.T) {
	f := newRouterFixture(t)

	rr := f.do(t, http.MethodPost, "/indents", map[string]any{
		"work_area_id": f.kitchen,
		"items":        []map[string]any{{"item_id": f.flour, "requested_qty": 40}},
	}, storeUser)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created indent.Indent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, indent.StatusOpen, created.Status)

	rr = f.do(t, http.MethodGet, "/procurement/pool", nil, storeUser)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"items":[]}`, rr.Body.String())

	rr = f.do(t, http.MethodPost, fmt.Sprintf("/indents/%d/approve", created.ID), map[string]any{}, storeUser)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = f.do(t, http.MethodGet, "/procurement/pool", nil, storeUser)
	require.Equal(t, http.StatusOK, rr.Code)
	var pool struct {
		Items []indent.PoolEntry `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pool))
	require.Len(t, pool.Items, 1)
	require.Equal(t, "FLOUR", pool.Items[0].ItemCode)
	require.InDelta(t, 40, pool.Items[0].PendingPOQty, 1e-9)
}

func TestIssueWithoutStockMapsToConflict(t *testing.T) {
	f := newRouterFixture(t)
	store1 := f.store.AddWorkArea(1, 10, "Store 1")

	rr := f.do(t, http.MethodPost, "/indents", map[string]any{
		"work_area_id": f.kitchen,
		"items":        []map[string]any{{"item_id": f.flour, "requested_qty": 5}},
	}, storeUser)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created indent.Indent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	rr = f.do(t, http.MethodPost, fmt.Sprintf("/indents/%d/approve", created.ID), map[string]any{}, storeUser)
	require.Equal(t, http.StatusOK, rr.Code)

	items := f.do(t, http.MethodGet, fmt.Sprintf("/indents/%d", created.ID), nil, storeUser)
	require.Equal(t, http.StatusOK, items.Code)
	var detail indent.Indent
	require.NoError(t, json.Unmarshal(items.Body.Bytes(), &detail))
	require.Len(t, detail.Items, 1)

	rr = f.do(t, http.MethodPost, fmt.Sprintf("/indents/%d/issue", created.ID), map[string]any{
		"source_work_area_id": store1,
		"items":               []map[string]any{{"indent_item_id": detail.Items[0].ID, "issue_qty": 5}},
	}, storeUser)
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), "Insufficient Stock")
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestDashboardAndAuditOverHTTP(t *testing.T) {
	f := newRouterFixture(t)
	f.store.SeedStock(inventory.StockKey{TenantID: 1, BranchID: 10, WorkAreaID: f.kitchen, ItemID: f.flour}, 4)

	rr := f.do(t, http.MethodPost, "/indents", map[string]any{
		"work_area_id": f.kitchen,
		"items":        []map[string]any{{"item_id": f.flour, "requested_qty": 5}},
	}, storeUser)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = f.do(t, http.MethodGet, "/dashboard/stats", nil, storeUser)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var stats reports.DashboardStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.InDelta(t, 10, stats.TotalStockValue, 1e-9)
	require.Equal(t, 1, stats.LowStockCount)
	require.Equal(t, 1, stats.PendingIndents)

	rr = f.do(t, http.MethodGet, "/audit-logs?entity=indent", nil, storeUser)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var page shared.Page[reports.AuditRecord]
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Equal(t, 1, page.Pagination.Total)
	require.Equal(t, "INDENT_CREATE", page.Items[0].Action)

	chef := map[string]string{HeaderTenantID: "1", HeaderUserID: "4", HeaderRole: "CHEF", HeaderBranchID: "10"}
	rr = f.do(t, http.MethodGet, "/audit-logs", nil, chef)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodGet, "/reports/po-status?from=yesterday", nil, storeUser)
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	rr = f.do(t, http.MethodGet, "/reports/po-status?status=lost", nil, storeUser)
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
}
