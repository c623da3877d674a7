package reports

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes dashboard, audit log and report endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the reports handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountDashboardRoutes registers /dashboard.
func (h *Handler) MountDashboardRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermReportsView)).Get("/stats", h.handleDashboard)
}

// MountAuditRoutes registers /audit-logs.
func (h *Handler) MountAuditRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermAuditView)).Get("/", h.handleAuditLogs)
}

// MountRoutes registers /reports.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermReportsView))
		r.Get("/po-status", h.handlePOStatus)
		r.Get("/detailed-grn", h.handleDetailedGRN)
		r.Get("/rate-variance", h.handleRateVariance)
		r.Get("/indent-issue", h.handleIndentIssue)
		r.Get("/supplier-purchase", h.handleSupplierPurchase)
	})
}

// dateRange reads from/to as dates; to is inclusive on the wire.
func dateRange(r *http.Request) (DateRange, error) {
	var rng DateRange
	q := r.URL.Query()
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.DateOnly, from)
		if err != nil {
			return rng, shared.Validationf("invalid from date")
		}
		rng.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.DateOnly, to)
		if err != nil {
			return rng, shared.Validationf("invalid to date")
		}
		rng.To = t.AddDate(0, 0, 1)
	}
	return rng, nil
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	stats, err := h.service.Dashboard(r.Context(), rc)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	filter := AuditFilter{Entity: q.Get("entity"), Action: q.Get("action")}
	if filter.PerformedBy, err = httpx.QueryID(r, "performed_by"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.Range, err = dateRange(r); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page := shared.PageFromQuery(q)
	records, total, err := h.service.ListAuditLogs(r.Context(), rc, filter, page)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(records, page, total))
}

func (h *Handler) handlePOStatus(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	filter := POStatusFilter{Status: q.Get("status")}
	if filter.VendorID, err = httpx.QueryID(r, "vendor_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.Range, err = dateRange(r); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page := shared.PageFromQuery(q)
	rows, total, err := h.service.POStatus(r.Context(), rc, filter, page)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(rows, page, total))
}

func (h *Handler) handleDetailedGRN(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var filter GRNFilter
	if filter.VendorID, err = httpx.QueryID(r, "vendor_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.Range, err = dateRange(r); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page := shared.PageFromQuery(r.URL.Query())
	lines, total, err := h.service.DetailedGRN(r.Context(), rc, filter, page)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(lines, page, total))
}

func (h *Handler) handleRateVariance(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rng, err := dateRange(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page := shared.PageFromQuery(r.URL.Query())
	rows, total, err := h.service.RateVariance(r.Context(), rc, rng, page)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(rows, page, total))
}

func (h *Handler) handleIndentIssue(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var filter IndentIssueFilter
	if filter.WorkAreaID, err = httpx.QueryID(r, "work_area_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.Range, err = dateRange(r); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	lines, err := h.service.IndentIssue(r.Context(), rc, filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) handleSupplierPurchase(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rng, err := dateRange(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rows, err := h.service.SupplierPurchases(r.Context(), rc, rng)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}
