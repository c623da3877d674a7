package indent

import (
	"context"
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

// Handler exposes indent and procurement pool endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	pool      *Pool
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, pool *Pool, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, pool: pool, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers indent routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermIndentView))
		r.Get("/", h.listIndents)
		r.Get("/{id}", h.showIndent)
		r.Get("/{id}/issue-records", h.listIssueRecords)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermIndentCreate))
		r.Post("/", h.createIndent)
		r.Patch("/items/{itemID}", h.updateItem)
		r.Delete("/items/{itemID}", h.deleteItem)
		r.Post("/{id}/cancel", h.cancelIndent)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermIndentApprove))
		r.Post("/{id}/approve", h.approveIndent)
		r.Post("/{id}/reject", h.rejectIndent)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermIndentIssue))
		r.Post("/{id}/issue", h.issueStock)
	})
}

// MountPoolRoutes registers the procurement pool routes.
func (h *Handler) MountPoolRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAny(shared.PermPOView, shared.PermPOEdit))
	r.Get("/", h.listPool)
	r.Get("/digest", h.poolDigest)
}

type createIndentRequest struct {
	WorkAreaID int64               `json:"work_area_id" validate:"required,gt=0"`
	EntryType  string              `json:"entry_type" validate:"omitempty,oneof=OPEN PACKAGE"`
	Remarks    string              `json:"remarks" validate:"max=500"`
	Items      []createLineRequest `json:"items" validate:"required,min=1,dive"`
}

type createLineRequest struct {
	ItemID       int64   `json:"item_id" validate:"required,gt=0"`
	RequestedQty float64 `json:"requested_qty" validate:"gt=0"`
}

type approveRequest struct {
	Remarks string                `json:"remarks" validate:"max=500"`
	Items   []approveLineOverride `json:"items" validate:"dive"`
}

type approveLineOverride struct {
	IndentItemID int64   `json:"indent_item_id" validate:"required,gt=0"`
	ApprovedQty  float64 `json:"approved_qty" validate:"gte=0"`
}

type remarksRequest struct {
	Remarks string `json:"remarks" validate:"max=500"`
}

type updateItemRequest struct {
	RequestedQty float64 `json:"requested_qty" validate:"gt=0"`
}

type issueRequest struct {
	SourceWorkAreaID int64              `json:"source_work_area_id" validate:"required,gt=0"`
	Remarks          string             `json:"remarks" validate:"max=500"`
	Items            []issueLineRequest `json:"items" validate:"required,min=1,dive"`
}

type issueLineRequest struct {
	IndentItemID int64   `json:"indent_item_id" validate:"required,gt=0"`
	IssueQty     float64 `json:"issue_qty" validate:"gte=0"`
}

func (h *Handler) createIndent(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req createIndentRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	input := CreateInput{WorkAreaID: req.WorkAreaID, EntryType: EntryType(req.EntryType), Remarks: req.Remarks}
	for _, l := range req.Items {
		input.Lines = append(input.Lines, LineInput{ItemID: l.ItemID, RequestedQty: l.RequestedQty})
	}
	created, err := h.service.CreateIndent(r.Context(), rc, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) listIndents(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	filters := ListFilters{
		Status:                 Status(strings.ToUpper(q.Get("status"))),
		EligibleForProcurement: q.Get("eligible_for_procurement") == "true",
	}
	if filters.WorkAreaID, err = httpx.QueryID(r, "work_area_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filters.From, err = parseDate(q.Get("from")); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filters.To, err = parseDate(q.Get("to")); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if !filters.To.IsZero() {
		filters.To = filters.To.AddDate(0, 0, 1)
	}
	page := shared.PageFromQuery(q)
	items, total, err := h.service.ListIndents(r.Context(), rc, filters, page)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(items, page, total))
}

func (h *Handler) showIndent(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	in, err := h.service.GetIndent(r.Context(), rc, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, in)
}

func (h *Handler) listIssueRecords(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	records, err := h.service.ListIssueRecords(r.Context(), rc, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if records == nil {
		records = []IssueRecord{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": records})
}

func (h *Handler) approveIndent(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	var req approveRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	input := ApproveInput{Remarks: req.Remarks, ApprovedQty: make(map[int64]float64, len(req.Items))}
	for _, o := range req.Items {
		input.ApprovedQty[o.IndentItemID] = o.ApprovedQty
	}
	in, err := h.service.Approve(r.Context(), rc, id, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, in)
}

func (h *Handler) rejectIndent(w http.ResponseWriter, r *http.Request) {
	h.closeIndent(w, r, h.service.Reject)
}

func (h *Handler) cancelIndent(w http.ResponseWriter, r *http.Request) {
	h.closeIndent(w, r, h.service.Cancel)
}

func (h *Handler) closeIndent(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, rc shared.RequestContext, id int64, remarks string) (Indent, error)) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	var req remarksRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	in, err := op(r.Context(), rc, id, req.Remarks)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, in)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	rc, lineID, ok := h.scopedID(w, r, "itemID")
	if !ok {
		return
	}
	var req updateItemRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	item, err := h.service.UpdateItem(r.Context(), rc, lineID, req.RequestedQty)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	rc, lineID, ok := h.scopedID(w, r, "itemID")
	if !ok {
		return
	}
	if err := h.service.DeleteItem(r.Context(), rc, lineID); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) issueStock(w http.ResponseWriter, r *http.Request) {
	rc, id, ok := h.scopedID(w, r, "id")
	if !ok {
		return
	}
	var req issueRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	input := IssueInput{SourceWorkAreaID: req.SourceWorkAreaID, Remarks: req.Remarks}
	for _, l := range req.Items {
		input.Lines = append(input.Lines, IssueLine{IndentItemID: l.IndentItemID, IssueQty: l.IssueQty})
	}
	in, err := h.service.IssueStock(r.Context(), rc, id, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, in)
}

func (h *Handler) listPool(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var filter PoolFilter
	if filter.BranchID, err = httpx.QueryID(r, "branch_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.CategoryID, err = httpx.QueryID(r, "category_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entries, err := h.service.GetProcurementPool(r.Context(), rc, filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *Handler) poolDigest(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	digests, err := h.pool.Digest(r.Context(), rc)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": digests})
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

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, shared.Validationf("invalid date %q", raw)
	}
	return t, nil
}
