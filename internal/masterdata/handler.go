package masterdata

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler manages master data endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermMasterView))
		r.Get("/items", h.listItems)
		r.Get("/items/{id}", h.showItem)
		r.Get("/vendors", h.listVendors)
		r.Get("/vendors/{id}", h.showVendor)
		r.Get("/work-areas", h.listWorkAreas)
		r.Get("/work-areas/{id}", h.showWorkArea)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermMasterEdit))
		r.Post("/items", h.createItem)
		r.Put("/items/{id}", h.updateItem)
		r.Post("/vendors", h.createVendor)
		r.Post("/work-areas", h.createWorkArea)
	})
}

type itemRequest struct {
	Code          string  `json:"item_code" validate:"required,max=64"`
	Name          string  `json:"item_name" validate:"required,max=255"`
	CategoryID    int64   `json:"category_id" validate:"gte=0"`
	SubCategoryID int64   `json:"sub_category_id" validate:"gte=0"`
	HSNCode       string  `json:"hsn_code" validate:"max=32"`
	InventoryUOM  string  `json:"inventory_uom" validate:"required,max=16"`
	UnitCost      float64 `json:"unit_cost" validate:"gte=0"`
	TaxRate       float64 `json:"tax_rate" validate:"gte=0,lte=100"`
	Status        string  `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE"`
}

func (req itemRequest) toItem() Item {
	return Item{
		Code:          req.Code,
		Name:          req.Name,
		CategoryID:    req.CategoryID,
		SubCategoryID: req.SubCategoryID,
		HSNCode:       req.HSNCode,
		InventoryUOM:  req.InventoryUOM,
		UnitCost:      req.UnitCost,
		TaxRate:       req.TaxRate,
		Status:        req.Status,
	}
}

type vendorRequest struct {
	Code    string `json:"code" validate:"required,max=64"`
	Name    string `json:"name" validate:"required,max=255"`
	Contact string `json:"contact" validate:"max=255"`
}

type workAreaRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	filters := ListFilters{Search: r.URL.Query().Get("q"), Status: r.URL.Query().Get("status"), Page: shared.PageFromQuery(r.URL.Query())}
	if filters.CategoryID, err = httpx.QueryID(r, "category_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	items, total, err := h.service.ListItems(r.Context(), rc, filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(items, filters.Page, total))
}

func (h *Handler) showItem(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	item, err := h.service.GetItem(r.Context(), rc.TenantID, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req itemRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), rc, req.toItem())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req itemRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	item := req.toItem()
	item.ID = id
	updated, err := h.service.UpdateItem(r.Context(), rc, item)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) listVendors(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	filters := ListFilters{Search: r.URL.Query().Get("q"), Status: r.URL.Query().Get("status"), Page: shared.PageFromQuery(r.URL.Query())}
	vendors, total, err := h.service.ListVendors(r.Context(), rc, filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(vendors, filters.Page, total))
}

func (h *Handler) showVendor(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	vendor, err := h.service.GetVendor(r.Context(), rc.TenantID, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, vendor)
}

func (h *Handler) createVendor(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req vendorRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	vendor, err := h.service.CreateVendor(r.Context(), rc, Vendor{Code: req.Code, Name: req.Name, Contact: req.Contact})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, vendor)
}

func (h *Handler) listWorkAreas(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	filters := ListFilters{Status: r.URL.Query().Get("status"), Page: shared.PageFromQuery(r.URL.Query())}
	if filters.BranchID, err = httpx.QueryID(r, "branch_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	areas, total, err := h.service.ListWorkAreas(r.Context(), rc, filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(areas, filters.Page, total))
}

func (h *Handler) showWorkArea(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	wa, err := h.service.GetWorkArea(r.Context(), rc.TenantID, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if !rc.CanSeeBranch(wa.BranchID) {
		httpx.RespondError(w, h.logger, shared.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, wa)
}

func (h *Handler) createWorkArea(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req workAreaRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	wa, err := h.service.CreateWorkArea(r.Context(), rc, WorkArea{Name: req.Name})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, wa)
}
