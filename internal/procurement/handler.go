package procurement

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes purchase order, special order, receipt and return endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/pos", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermPOView, shared.PermPOEdit))
			r.Get("/", h.listPOs)
			r.Get("/{id}", h.showPO)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermPOEdit))
			r.Post("/", h.createPO)
			r.Post("/from-pool", h.createPOFromPool)
			r.Put("/{id}", h.updatePO)
			r.Post("/{id}/cancel", h.cancelPO)
			r.Delete("/{id}", h.deletePO)
			r.Patch("/{id}/items/{itemID}", h.patchItemQuantity)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermPOApprove))
			r.Post("/{id}/approve", h.approvePO)
			r.Post("/{id}/revert", h.revertPO)
		})
	})
	r.Route("/special-orders", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermSOView, shared.PermSOEdit))
			r.Get("/", h.listSOs)
			r.Get("/{id}", h.showSO)
		})
		r.With(h.rbac.RequireAll(shared.PermSOEdit)).Post("/", h.createSO)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermSOApprove))
			r.Post("/{id}/approve", h.approveSO)
			r.Post("/{id}/close", h.closeSO)
		})
	})
	r.Route("/grns", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermGRNView, shared.PermGRNCreate))
			r.Get("/", h.listGRNs)
			r.Get("/{id}", h.showGRN)
		})
		r.With(h.rbac.RequireAll(shared.PermGRNCreate)).Post("/", h.createGRN)
	})
	r.Route("/rtvs", func(r chi.Router) {
		r.With(h.rbac.RequireAny(shared.PermRTVView, shared.PermRTVCreate)).Get("/", h.listRTVs)
		r.With(h.rbac.RequireAll(shared.PermRTVCreate)).Post("/", h.createRTV)
	})
}

type poLineRequest struct {
	ItemID       int64    `json:"item_id" validate:"gte=0"`
	ItemName     string   `json:"item_name" validate:"max=255"`
	Quantity     float64  `json:"quantity" validate:"gt=0"`
	UnitCost     *float64 `json:"unit_cost" validate:"omitempty,gte=0"`
	TaxRate      *float64 `json:"tax_rate" validate:"omitempty,gte=0,lte=100"`
	IndentItemID int64    `json:"indent_item_id" validate:"gte=0"`
}

type createPORequest struct {
	VendorID     int64           `json:"vendor_id" validate:"gte=0"`
	VendorName   string          `json:"vendor_name" validate:"max=255"`
	DeliveryDate string          `json:"delivery_date"`
	Type         string          `json:"type" validate:"omitempty,oneof=STANDARD SPECIAL"`
	Note         string          `json:"note" validate:"max=500"`
	Items        []poLineRequest `json:"items" validate:"required,min=1,dive"`
}

type poolPickRequest struct {
	IndentItemID int64    `json:"indent_item_id" validate:"required,gt=0"`
	Quantity     *float64 `json:"quantity" validate:"omitempty,gt=0"`
}

type fromPoolRequest struct {
	VendorID     int64             `json:"vendor_id" validate:"gte=0"`
	VendorName   string            `json:"vendor_name" validate:"max=255"`
	DeliveryDate string            `json:"delivery_date"`
	Note         string            `json:"note" validate:"max=500"`
	Items        []poolPickRequest `json:"items" validate:"required,min=1,dive"`
}

type updatePORequest struct {
	VendorID     int64  `json:"vendor_id" validate:"gte=0"`
	VendorName   string `json:"vendor_name" validate:"max=255"`
	DeliveryDate string `json:"delivery_date"`
}

type patchQtyRequest struct {
	Quantity float64 `json:"quantity" validate:"gt=0"`
}

type soLineRequest struct {
	ItemID   int64    `json:"item_id" validate:"gte=0"`
	ItemName string   `json:"item_name" validate:"max=255"`
	Quantity float64  `json:"quantity" validate:"gt=0"`
	UnitCost *float64 `json:"unit_cost" validate:"omitempty,gte=0"`
}

type createSORequest struct {
	VendorID     int64           `json:"vendor_id" validate:"gte=0"`
	VendorName   string          `json:"vendor_name" validate:"max=255"`
	DeliveryDate string          `json:"delivery_date"`
	Note         string          `json:"note" validate:"max=500"`
	Items        []soLineRequest `json:"items" validate:"required,min=1,dive"`
}

type grnLineRequest struct {
	ItemID      int64   `json:"item_id" validate:"required,gt=0"`
	ReceivedQty float64 `json:"received_qty" validate:"gt=0"`
	UnitCost    float64 `json:"unit_cost" validate:"gte=0"`
	TaxAmount   float64 `json:"tax_amount" validate:"gte=0"`
}

type createGRNRequest struct {
	POID              int64            `json:"po_id" validate:"gte=0"`
	SOID              int64            `json:"so_id" validate:"gte=0"`
	VendorInvoiceNo   string           `json:"vendor_invoice_no" validate:"max=64"`
	VendorInvoiceDate string           `json:"vendor_invoice_date"`
	ReceivedAt        *time.Time       `json:"received_at"`
	WorkAreaID        int64            `json:"work_area_id" validate:"required,gt=0"`
	Items             []grnLineRequest `json:"items" validate:"required,min=1,dive"`
}

type rtvLineRequest struct {
	ItemID      int64   `json:"item_id" validate:"required,gt=0"`
	ReturnedQty float64 `json:"returned_qty" validate:"gt=0"`
	Reason      string  `json:"reason" validate:"max=255"`
}

type createRTVRequest struct {
	GRNID int64            `json:"grn_id" validate:"required,gt=0"`
	Items []rtvLineRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req createPORequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	delivery, err := parseOptionalDate(req.DeliveryDate)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	input := CreatePOInput{
		VendorID:     req.VendorID,
		VendorName:   req.VendorName,
		DeliveryDate: delivery,
		Type:         POType(req.Type),
		Note:         req.Note,
	}
	for _, l := range req.Items {
		input.Lines = append(input.Lines, POLineInput{
			ItemID:       l.ItemID,
			ItemName:     l.ItemName,
			Quantity:     l.Quantity,
			UnitCost:     l.UnitCost,
			TaxRate:      l.TaxRate,
			IndentItemID: l.IndentItemID,
		})
	}
	po, err := h.service.CreatePO(r.Context(), rc, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) createPOFromPool(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req fromPoolRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	delivery, err := parseOptionalDate(req.DeliveryDate)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	input := FromPoolInput{VendorID: req.VendorID, VendorName: req.VendorName, DeliveryDate: delivery, Note: req.Note}
	for _, p := range req.Items {
		input.Items = append(input.Items, PoolPick{IndentItemID: p.IndentItemID, Quantity: p.Quantity})
	}
	po, err := h.service.CreatePOFromIndentItems(r.Context(), rc, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	filters := POFilters{Status: POStatus(strings.ToUpper(r.URL.Query().Get("status")))}
	if filters.VendorID, err = httpx.QueryID(r, "vendor_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page := shared.PageFromQuery(r.URL.Query())
	pos, total, err := h.service.ListPOs(r.Context(), rc, filters, page)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(pos, page, total))
}

func (h *Handler) showPO(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	po, err := h.service.GetPO(r.Context(), rc, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) updatePO(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	var req updatePORequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	delivery, err := parseOptionalDate(req.DeliveryDate)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	po, err := h.service.UpdatePO(r.Context(), rc, id, UpdatePOInput{VendorID: req.VendorID, VendorName: req.VendorName, DeliveryDate: delivery})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) approvePO(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	po, err := h.service.ApprovePO(r.Context(), rc, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) revertPO(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	po, err := h.service.RevertPO(r.Context(), rc, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) cancelPO(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	po, err := h.service.CancelPO(r.Context(), rc, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) deletePO(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeletePO(r.Context(), rc, id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) patchItemQuantity(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	itemID, err := httpx.PathID(r, "itemID")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req patchQtyRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	po, err := h.service.PatchItemQuantity(r.Context(), rc, id, itemID, req.Quantity)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) createSO(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req createSORequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	delivery, err := parseOptionalDate(req.DeliveryDate)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	input := CreateSOInput{VendorID: req.VendorID, VendorName: req.VendorName, DeliveryDate: delivery, Note: req.Note}
	for _, l := range req.Items {
		input.Lines = append(input.Lines, SOLineInput{ItemID: l.ItemID, ItemName: l.ItemName, Quantity: l.Quantity, UnitCost: l.UnitCost})
	}
	so, err := h.service.CreateSO(r.Context(), rc, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, so)
}

func (h *Handler) listSOs(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page := shared.PageFromQuery(r.URL.Query())
	filters := SOFilters{Status: SOStatus(strings.ToUpper(r.URL.Query().Get("status")))}
	sos, total, err := h.service.ListSOs(r.Context(), rc, filters, page)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(sos, page, total))
}

func (h *Handler) showSO(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	so, err := h.service.GetSO(r.Context(), rc, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, so)
}

func (h *Handler) approveSO(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	so, err := h.service.ApproveSO(r.Context(), rc, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, so)
}

func (h *Handler) closeSO(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	so, err := h.service.CloseSO(r.Context(), rc, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, so)
}

func (h *Handler) createGRN(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req createGRNRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	invoiceDate, err := parseOptionalDate(req.VendorInvoiceDate)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	input := CreateGRNInput{
		POID:              req.POID,
		SOID:              req.SOID,
		VendorInvoiceNo:   req.VendorInvoiceNo,
		VendorInvoiceDate: invoiceDate,
		WorkAreaID:        req.WorkAreaID,
		IdempotencyKey:    r.Header.Get("Idempotency-Key"),
	}
	if req.ReceivedAt != nil {
		input.ReceivedAt = req.ReceivedAt.UTC()
	}
	for _, l := range req.Items {
		input.Lines = append(input.Lines, GRNLineInput{ItemID: l.ItemID, ReceivedQty: l.ReceivedQty, UnitCost: l.UnitCost, TaxAmount: l.TaxAmount})
	}
	grn, err := h.service.CreateGRN(r.Context(), rc, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grn)
}

func (h *Handler) listGRNs(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var filters GRNFilters
	if filters.POID, err = httpx.QueryID(r, "po_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filters.SOID, err = httpx.QueryID(r, "so_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page := shared.PageFromQuery(r.URL.Query())
	grns, total, err := h.service.ListGRNs(r.Context(), rc, filters, page)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(grns, page, total))
}

func (h *Handler) showGRN(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	grn, err := h.service.GetGRN(r.Context(), rc, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) createRTV(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req createRTVRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	input := CreateRTVInput{GRNID: req.GRNID}
	for _, l := range req.Items {
		input.Lines = append(input.Lines, RTVLineInput{ItemID: l.ItemID, ReturnedQty: l.ReturnedQty, Reason: l.Reason})
	}
	rtvs, err := h.service.CreateRTV(r.Context(), rc, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"items": rtvs})
}

func (h *Handler) listRTVs(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var filters RTVFilters
	if filters.GRNID, err = httpx.QueryID(r, "grn_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page := shared.PageFromQuery(r.URL.Query())
	rtvs, total, err := h.service.ListRTVs(r.Context(), rc, filters, page)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(rtvs, page, total))
}

func (h *Handler) scopedID(w http.ResponseWriter, r *http.Request, name string) (shared.RequestContext, int64, bool) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return shared.RequestContext{}, 0, false
	}
	id, err := httpx.PathID(r, name)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return shared.RequestContext{}, 0, false
	}
	return rc, id, true
}

func parseOptionalDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, shared.Validationf("invalid date %q", raw)
	}
	return &t, nil
}
