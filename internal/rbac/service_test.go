package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type overrideKey struct {
	tenant, user, branch int64
	perm                 string
}

type memoryRepo struct {
	mu        sync.Mutex
	roles     map[string][]string
	overrides map[overrideKey]Override
	roleLoads int
	failTx    bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		roles: map[string][]string{
			"STORE": {shared.PermIndentView, shared.PermIndentIssue, shared.PermStockView},
		},
		overrides: make(map[overrideKey]Override),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[overrideKey]Override, len(r.overrides))
	for k, v := range r.overrides {
		snapshot[k] = v
	}
	err := fn(ctx, memoryTx{r})
	if err == nil && r.failTx {
		err = errors.New("commit failed")
	}
	if err != nil {
		r.overrides = snapshot
	}
	return err
}

func (r *memoryRepo) RolePermissions(ctx context.Context, tenantID int64, roleCode string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roleLoads++
	return r.roles[roleCode], nil
}

func (r *memoryRepo) FindOverride(ctx context.Context, tenantID, userID, branchID int64, permission string) (Override, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.overrides[overrideKey{tenantID, userID, branchID, permission}]
	return o, ok, nil
}

func (r *memoryRepo) ListOverrides(ctx context.Context, tenantID, userID int64) ([]Override, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Override
	for k, v := range r.overrides {
		if k.tenant == tenantID && k.user == userID {
			out = append(out, v)
		}
	}
	return out, nil
}

type memoryTx struct{ r *memoryRepo }

func (t memoryTx) DeleteOverrides(ctx context.Context, tenantID, userID, branchID int64) error {
	for k := range t.r.overrides {
		if k.tenant == tenantID && k.user == userID && k.branch == branchID {
			delete(t.r.overrides, k)
		}
	}
	return nil
}

func (t memoryTx) InsertOverride(ctx context.Context, o Override) error {
	t.r.overrides[overrideKey{o.TenantID, o.UserID, o.BranchID, o.PermissionCode}] = o
	return nil
}

func newTestService(t *testing.T, repo *memoryRepo) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(repo, cache.NewJSONCache(client, "rbac:roles", time.Minute), nil, nil)
}

var storeUser = shared.RequestContext{TenantID: 1, BranchID: 10, Principal: shared.Principal{UserID: 7, RoleCode: "STORE"}}

func TestAllowedFallsBackToRoleDefaults(t *testing.T) {
	svc := newTestService(t, newMemoryRepo())
	ctx := context.Background()

	ok, err := svc.Allowed(ctx, storeUser, shared.PermIndentIssue)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.Allowed(ctx, storeUser, shared.PermPOApprove)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOverrideTakesPrecedence(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.SetOverrides(ctx, storeUser, 7, 10, []OverrideInput{
		{PermissionCode: shared.PermIndentIssue, Allowed: false},
		{PermissionCode: shared.PermPOApprove, Allowed: true},
	})
	require.NoError(t, err)

	ok, err := svc.Allowed(ctx, storeUser, shared.PermIndentIssue)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = svc.Allowed(ctx, storeUser, shared.PermPOApprove)
	require.NoError(t, err)
	require.True(t, ok)

	otherBranch := storeUser
	otherBranch.BranchID = 11
	ok, err = svc.Allowed(ctx, otherBranch, shared.PermIndentIssue)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSuperAdminAlwaysAllowed(t *testing.T) {
	svc := newTestService(t, newMemoryRepo())
	sa := shared.RequestContext{TenantID: 1, Principal: shared.Principal{UserID: 1, RoleCode: shared.RoleSuperAdmin}}
	ok, err := svc.Allowed(context.Background(), sa, shared.PermPermissionsEdit)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRoleDefaultsAreCached(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Allowed(ctx, storeUser, shared.PermStockView)
		require.NoError(t, err)
	}
	require.Equal(t, 1, repo.roleLoads)

	require.NoError(t, svc.InvalidateRole(ctx, 1, "store"))
	_, err := svc.Allowed(ctx, storeUser, shared.PermStockView)
	require.NoError(t, err)
	require.Equal(t, 2, repo.roleLoads)
}

func TestSetOverridesReplacesAtomically(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.SetOverrides(ctx, storeUser, 7, 10, []OverrideInput{{PermissionCode: shared.PermPOEdit, Allowed: true}})
	require.NoError(t, err)

	_, err = svc.SetOverrides(ctx, storeUser, 7, 10, []OverrideInput{
		{PermissionCode: shared.PermGRNCreate, Allowed: true},
		{PermissionCode: shared.PermGRNCreate, Allowed: false},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	repo.failTx = true
	_, err = svc.SetOverrides(ctx, storeUser, 7, 10, nil)
	require.Error(t, err)
	repo.failTx = false

	list, err := svc.ListOverrides(ctx, storeUser, 7)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, shared.PermPOEdit, list[0].PermissionCode)

	_, err = svc.SetOverrides(ctx, storeUser, 7, 10, nil)
	require.NoError(t, err)
	list, err = svc.ListOverrides(ctx, storeUser, 7)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestSetOverridesOutsideScopeIsNotFound(t *testing.T) {
	svc := newTestService(t, newMemoryRepo())
	_, err := svc.SetOverrides(context.Background(), storeUser, 7, 99, nil)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestMiddlewareRejectsMissingPermission(t *testing.T) {
	svc := newTestService(t, newMemoryRepo())
	mw := Middleware{Checker: svc}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	serve := func(h http.Handler, rc *shared.RequestContext) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if rc != nil {
			req = req.WithContext(shared.ContextWithRequest(req.Context(), *rc))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	rc := storeUser
	require.Equal(t, http.StatusNoContent, serve(mw.RequireAny(shared.PermPOView, shared.PermStockView)(next), &rc))
	require.Equal(t, http.StatusForbidden, serve(mw.RequireAll(shared.PermPOView, shared.PermStockView)(next), &rc))
	require.Equal(t, http.StatusUnauthorized, serve(mw.RequireAny(shared.PermStockView)(next), nil))
}
