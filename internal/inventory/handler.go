package inventory

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockView))
		r.Get("/stock", h.handleListStock)
		r.Get("/movements", h.handleStockCard)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermStockAdjust))
		r.Post("/adjustments", h.handleAdjustment)
	})
}

type adjustmentRequest struct {
	ItemID     int64   `json:"item_id" validate:"required,gt=0"`
	WorkAreaID int64   `json:"work_area_id" validate:"required,gt=0"`
	Qty        float64 `json:"qty" validate:"required,ne=0"`
	Reason     string  `json:"reason" validate:"required,max=255"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req adjustmentRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	stock, err := h.service.AdjustStock(r.Context(), rc, AdjustmentInput{
		ItemID:     req.ItemID,
		WorkAreaID: req.WorkAreaID,
		Qty:        req.Qty,
		Reason:     req.Reason,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) handleListStock(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var filter StockFilter
	if filter.WorkAreaID, err = httpx.QueryID(r, "work_area_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.ItemID, err = httpx.QueryID(r, "item_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page := shared.PageFromQuery(r.URL.Query())
	items, total, err := h.service.ListStock(r.Context(), rc, filter, page)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(items, page, total))
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var filter MovementFilter
	if filter.ItemID, err = httpx.QueryID(r, "item_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.WorkAreaID, err = httpx.QueryID(r, "work_area_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	if from := q.Get("from"); from != "" {
		if filter.From, err = time.Parse("2006-01-02", from); err != nil {
			httpx.RespondError(w, h.logger, shared.Validationf("invalid from date"))
			return
		}
	}
	if to := q.Get("to"); to != "" {
		if filter.To, err = time.Parse("2006-01-02", to); err != nil {
			httpx.RespondError(w, h.logger, shared.Validationf("invalid to date"))
			return
		}
		filter.To = filter.To.AddDate(0, 0, 1)
	}
	entries, err := h.service.StockCard(r.Context(), rc, filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}
