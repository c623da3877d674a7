package shared

import (
	"context"
	"fmt"
)

// WorkAreaDirectory resolves the branch a work area belongs to. It returns an
// ErrNotFound-wrapped error for unknown or foreign-tenant work areas.
type WorkAreaDirectory interface {
	WorkAreaBranch(ctx context.Context, tenantID, workAreaID int64) (int64, error)
}

// ResolveWorkAreaBranch returns the branch that stock at workAreaID is booked
// under. A branch-scoped caller may only touch work areas of its own branch; a
// tenant-global caller without a branch inherits the work area's branch.
func ResolveWorkAreaBranch(ctx context.Context, rc RequestContext, dir WorkAreaDirectory, workAreaID int64) (int64, error) {
	branchID, err := rc.RequireBranch()
	if err != nil {
		return 0, err
	}
	if workAreaID <= 0 {
		return 0, Validationf("work area is required")
	}
	if dir == nil {
		if branchID == 0 {
			return 0, Validationf("branch is required")
		}
		return branchID, nil
	}
	waBranch, err := dir.WorkAreaBranch(ctx, rc.TenantID, workAreaID)
	if err != nil {
		return 0, err
	}
	if branchID != 0 && waBranch != branchID {
		return 0, fmt.Errorf("%w: work area %d not in branch %d", ErrNotFound, workAreaID, branchID)
	}
	return waBranch, nil
}
