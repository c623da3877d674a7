package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// PermissionsHandler manages permission overrides.
type PermissionsHandler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPermissionsView, shared.PermPermissionsEdit))
		r.Get("/overrides", h.listOverrides)
		r.Get("/scopes", h.listScopes)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermPermissionsEdit))
		r.Put("/overrides", h.replaceOverrides)
	})
}

type overrideEntry struct {
	PermissionCode string `json:"permission_code" validate:"required,max=128"`
	Allowed        bool   `json:"allowed"`
}

type replaceOverridesRequest struct {
	UserID    int64           `json:"user_id" validate:"required,gt=0"`
	BranchID  int64           `json:"branch_id" validate:"required,gt=0"`
	Overrides []overrideEntry `json:"overrides" validate:"dive"`
}

func (h *PermissionsHandler) listOverrides(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	userID, err := httpx.QueryID(r, "user_id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	overrides, err := h.service.ListOverrides(r.Context(), rc, userID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": overrides})
}

func (h *PermissionsHandler) listScopes(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"items": shared.StockScopes()})
}

func (h *PermissionsHandler) replaceOverrides(w http.ResponseWriter, r *http.Request) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req replaceOverridesRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entries := make([]OverrideInput, 0, len(req.Overrides))
	for _, o := range req.Overrides {
		entries = append(entries, OverrideInput{PermissionCode: o.PermissionCode, Allowed: o.Allowed})
	}
	saved, err := h.service.SetOverrides(r.Context(), rc, req.UserID, req.BranchID, entries)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": saved})
}
