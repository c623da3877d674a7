package rbac

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Override is an explicit per-user per-branch allow or deny for one permission.
// It takes precedence over the role defaults.
type Override struct {
	TenantID       int64     `json:"tenant_id"`
	UserID         int64     `json:"user_id"`
	BranchID       int64     `json:"branch_id"`
	PermissionCode string    `json:"permission_code"`
	Allowed        bool      `json:"allowed"`
	UpdatedBy      int64     `json:"updated_by"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OverrideInput is one entry of a bulk replace.
type OverrideInput struct {
	PermissionCode string
	Allowed        bool
}

// Checker answers capability questions for the HTTP middleware and services.
type Checker interface {
	Allowed(ctx context.Context, rc shared.RequestContext, permission string) (bool, error)
}

// Repository persists role defaults and overrides.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	RolePermissions(ctx context.Context, tenantID int64, roleCode string) ([]string, error)
	FindOverride(ctx context.Context, tenantID, userID, branchID int64, permission string) (Override, bool, error)
	ListOverrides(ctx context.Context, tenantID, userID int64) ([]Override, error)
}

// TxRepository exposes the writes used by the bulk replace.
type TxRepository interface {
	DeleteOverrides(ctx context.Context, tenantID, userID, branchID int64) error
	InsertOverride(ctx context.Context, o Override) error
}
