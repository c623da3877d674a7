package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/reports"
	"github.com/odyssey-erp/odyssey-stock/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	IndentHandler      *indent.Handler
	ProcurementHandler *procurement.Handler
	InventoryHandler   *inventory.Handler
	MasterDataHandler  *masterdata.Handler
	PermissionsHandler *rbac.PermissionsHandler
	ReportsHandler     *reports.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestContextMiddleware(params.Logger))

		if params.IndentHandler != nil {
			r.Route("/indents", params.IndentHandler.MountRoutes)
		}
		r.Route("/procurement", func(r chi.Router) {
			if params.ProcurementHandler != nil {
				params.ProcurementHandler.MountRoutes(r)
			}
			if params.IndentHandler != nil {
				r.Route("/pool", params.IndentHandler.MountPoolRoutes)
			}
		})
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.MasterDataHandler != nil {
			r.Route("/masterdata", params.MasterDataHandler.MountRoutes)
		}
		if params.PermissionsHandler != nil {
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
		if params.ReportsHandler != nil {
			r.Route("/dashboard", params.ReportsHandler.MountDashboardRoutes)
			r.Route("/audit-logs", params.ReportsHandler.MountAuditRoutes)
			r.Route("/reports", params.ReportsHandler.MountRoutes)
		}
	})

	return r
}
