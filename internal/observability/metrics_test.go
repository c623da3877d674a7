package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	_ = jobs.Track("inventory:reconcile").End(nil)
	jobs.AddDrift(1, 10, 2)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `odyssey_jobs_total{job="inventory:reconcile",status="success"} 1`) {
		t.Fatalf("expected job run counter, got: %s", body)
	}
	if !strings.Contains(body, `odyssey_stock_ledger_drift_total{branch="10",tenant="1"} 2`) {
		t.Fatalf("expected drift counter, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/indents/{id}/issue")

	req := httptest.NewRequest(http.MethodPost, "/indents/5/issue", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := metricsRR.Body.String()
	if !strings.Contains(body, `odyssey_http_requests_total{code="409",route="/indents/{id}/issue"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, `odyssey_http_request_duration_seconds_bucket{route="/indents/{id}/issue"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestTxRetryHookCountsReplays(t *testing.T) {
	metrics := NewMetrics()
	hook := metrics.TxRetryHook()
	hook(1, errors.New("40001"))
	hook(1, errors.New("40001"))
	hook(2, errors.New("40P01"))

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	if !strings.Contains(body, `odyssey_db_tx_retries_total{attempt="1"} 2`) {
		t.Fatalf("expected first-attempt retries, got: %s", body)
	}
	if !strings.Contains(body, `odyssey_db_tx_retries_total{attempt="2"} 1`) {
		t.Fatalf("expected second-attempt retries, got: %s", body)
	}

	var nilMetrics *Metrics
	nilMetrics.TxRetryHook()(1, nil)
}
