package shared

import "context"

// RoleSuperAdmin is the tenant super-administrator role code. It is tenant-global
// and always passes capability checks.
const RoleSuperAdmin = "SA"

// Principal identifies the acting user.
type Principal struct {
	UserID   int64
	RoleCode string
}

// TenantGlobal reports whether the principal may act without a branch context.
func (p Principal) TenantGlobal() bool {
	return p.RoleCode == RoleSuperAdmin
}

// RequestContext is resolved once at the request boundary and passed explicitly
// into every service operation.
type RequestContext struct {
	TenantID  int64
	Principal Principal
	// BranchID is zero when no branch was resolved.
	BranchID int64
}

// ActorID returns the acting user ID.
func (rc RequestContext) ActorID() int64 {
	return rc.Principal.UserID
}

// RequireBranch returns the resolved branch for mutating calls. Tenant-global
// principals may omit it, in which case zero is returned with no error.
func (rc RequestContext) RequireBranch() (int64, error) {
	if rc.TenantID <= 0 {
		return 0, ErrUnauthenticated
	}
	if rc.BranchID > 0 {
		return rc.BranchID, nil
	}
	if rc.Principal.TenantGlobal() {
		return 0, nil
	}
	return 0, ErrBranchContextRequired
}

// BranchForCreate resolves the branch a new record is written under. Creation
// always needs a concrete branch, even for tenant-global principals.
func (rc RequestContext) BranchForCreate() (int64, error) {
	branchID, err := rc.RequireBranch()
	if err != nil {
		return 0, err
	}
	if branchID == 0 {
		return 0, Validationf("branch is required to create records")
	}
	return branchID, nil
}

// CanSeeBranch reports whether a record in branchID is visible to the caller.
func (rc RequestContext) CanSeeBranch(branchID int64) bool {
	return rc.Scope().Includes(branchID)
}

// Scope derives the list filter for this request.
func (rc RequestContext) Scope() ScopeFilter {
	if rc.BranchID > 0 {
		return ScopeFilter{TenantID: rc.TenantID, BranchIDs: []int64{rc.BranchID}}
	}
	if rc.Principal.TenantGlobal() {
		return ScopeFilter{TenantID: rc.TenantID, AllBranches: true}
	}
	return ScopeFilter{TenantID: rc.TenantID}
}

// ScopeFilter restricts list queries to a tenant and a set of branches.
type ScopeFilter struct {
	TenantID    int64
	BranchIDs   []int64
	AllBranches bool
}

// Includes reports whether branchID falls inside the scope.
func (s ScopeFilter) Includes(branchID int64) bool {
	if s.AllBranches {
		return true
	}
	for _, id := range s.BranchIDs {
		if id == branchID {
			return true
		}
	}
	return false
}

// Empty reports whether the scope can match nothing.
func (s ScopeFilter) Empty() bool {
	return s.TenantID <= 0 || (!s.AllBranches && len(s.BranchIDs) == 0)
}

type requestContextKey struct{}

// ContextWithRequest stores the resolved RequestContext.
func ContextWithRequest(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestFromContext extracts the RequestContext stored by the boundary middleware.
func RequestFromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	return rc, ok
}
