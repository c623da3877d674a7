package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Service evaluates capabilities and manages overrides.
type Service struct {
	repo   Repository
	roles  *cache.JSONCache
	audit  shared.AuditSink
	logger *slog.Logger
}

// NewService constructs a Service. roles may be nil, in which case role
// defaults are read from the repository on every check.
func NewService(repo Repository, roles *cache.JSONCache, audit shared.AuditSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roles, audit: audit, logger: logger}
}

// Allowed implements Checker. SA always passes; otherwise a matching override
// decides, and the role default set is the fallback.
func (s *Service) Allowed(ctx context.Context, rc shared.RequestContext, permission string) (bool, error) {
	if rc.TenantID <= 0 || rc.Principal.UserID <= 0 {
		return false, shared.ErrUnauthenticated
	}
	if rc.Principal.RoleCode == shared.RoleSuperAdmin {
		return true, nil
	}
	permission = strings.ToLower(strings.TrimSpace(permission))
	if rc.BranchID > 0 {
		override, found, err := s.repo.FindOverride(ctx, rc.TenantID, rc.Principal.UserID, rc.BranchID, permission)
		if err != nil {
			return false, fmt.Errorf("rbac: find override: %w", err)
		}
		if found {
			return override.Allowed, nil
		}
	}
	perms, err := s.RolePermissions(ctx, rc.TenantID, rc.Principal.RoleCode)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if strings.EqualFold(p, permission) {
			return true, nil
		}
	}
	return false, nil
}

// RolePermissions returns the default permission set of a role, served from
// Redis when cached.
func (s *Service) RolePermissions(ctx context.Context, tenantID int64, roleCode string) ([]string, error) {
	roleCode = strings.ToUpper(strings.TrimSpace(roleCode))
	if roleCode == "" {
		return nil, nil
	}
	var perms []string
	key := s.roles.Key(fmt.Sprint(tenantID), roleCode)
	err := s.roles.FetchJSON(ctx, key, &perms, func(ctx context.Context) (any, error) {
		loaded, err := s.repo.RolePermissions(ctx, tenantID, roleCode)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			loaded = []string{}
		}
		return loaded, nil
	})
	if err != nil {
		s.logger.Warn("rbac role cache", slog.String("role", roleCode), slog.Any("error", err))
		return s.repo.RolePermissions(ctx, tenantID, roleCode)
	}
	return perms, nil
}

// InvalidateRole drops the cached defaults for a role.
func (s *Service) InvalidateRole(ctx context.Context, tenantID int64, roleCode string) error {
	return s.roles.Delete(ctx, s.roles.Key(fmt.Sprint(tenantID), strings.ToUpper(strings.TrimSpace(roleCode))))
}

// ListOverrides returns every override of a user in the tenant.
func (s *Service) ListOverrides(ctx context.Context, rc shared.RequestContext, userID int64) ([]Override, error) {
	if userID <= 0 {
		return nil, shared.Validationf("user_id is required")
	}
	overrides, err := s.repo.ListOverrides(ctx, rc.TenantID, userID)
	if err != nil {
		return nil, err
	}
	scope := rc.Scope()
	visible := overrides[:0]
	for _, o := range overrides {
		if scope.Includes(o.BranchID) {
			visible = append(visible, o)
		}
	}
	return visible, nil
}

// SetOverrides replaces every override of (user, branch) in one transaction.
func (s *Service) SetOverrides(ctx context.Context, rc shared.RequestContext, userID, branchID int64, entries []OverrideInput) ([]Override, error) {
	if userID <= 0 {
		return nil, shared.Validationf("user_id is required")
	}
	if branchID <= 0 {
		return nil, shared.Validationf("branch_id is required")
	}
	if !rc.CanSeeBranch(branchID) {
		return nil, fmt.Errorf("%w: branch %d", shared.ErrNotFound, branchID)
	}
	seen := make(map[string]struct{}, len(entries))
	out := make([]Override, 0, len(entries))
	for _, e := range entries {
		code := strings.ToLower(strings.TrimSpace(e.PermissionCode))
		if code == "" {
			return nil, shared.Validationf("permission_code is required")
		}
		if _, dup := seen[code]; dup {
			return nil, shared.Validationf("permission %s listed twice", code)
		}
		seen[code] = struct{}{}
		out = append(out, Override{
			TenantID:       rc.TenantID,
			UserID:         userID,
			BranchID:       branchID,
			PermissionCode: code,
			Allowed:        e.Allowed,
			UpdatedBy:      rc.ActorID(),
		})
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeleteOverrides(ctx, rc.TenantID, userID, branchID); err != nil {
			return err
		}
		for _, o := range out {
			if err := tx.InsertOverride(ctx, o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditEntry{
		TenantID:    rc.TenantID,
		BranchID:    branchID,
		PerformedBy: rc.ActorID(),
		Action:      "PERMISSION_OVERRIDES_REPLACE",
		Entity:      "user",
		EntityID:    fmt.Sprint(userID),
		Details:     map[string]any{"count": len(out)},
	})
	return out, nil
}
