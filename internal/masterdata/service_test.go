package masterdata_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/testing/memstore"
)

var manager = shared.RequestContext{
	TenantID:  1,
	BranchID:  10,
	Principal: shared.Principal{UserID: 7, RoleCode: "ADMIN"},
}

func TestCreateItemNormalizesAndAudits(t *testing.T) {
	store := memstore.New()
	audit := &memstore.AuditLog{}
	svc := masterdata.NewService(store.Catalog(), audit, nil)

	item, err := svc.CreateItem(context.Background(), manager, masterdata.Item{
		Code:         "  flour ",
		Name:         " Wheat Flour ",
		InventoryUOM: "KG",
		UnitCost:     2.5,
		TaxRate:      5,
	})
	require.NoError(t, err)
	require.Equal(t, "FLOUR", item.Code)
	require.Equal(t, "Wheat Flour", item.Name)
	require.Equal(t, masterdata.StatusActive, item.Status)
	require.Equal(t, []string{"ITEM_CREATE"}, audit.Actions())

	_, err = svc.CreateItem(context.Background(), manager, masterdata.Item{Code: "FLOUR", Name: "Other"})
	require.ErrorIs(t, err, masterdata.ErrDuplicateCode)
	require.ErrorIs(t, err, shared.ErrValidation)

	// codes are unique per tenant only
	other := manager
	other.TenantID = 2
	_, err = svc.CreateItem(context.Background(), other, masterdata.Item{Code: "FLOUR", Name: "Flour"})
	require.NoError(t, err)
}

func TestCreateItemValidation(t *testing.T) {
	svc := masterdata.NewService(memstore.New().Catalog(), nil, nil)

	cases := map[string]masterdata.Item{
		"missing code":  {Name: "Flour"},
		"missing name":  {Code: "FLOUR"},
		"negative cost": {Code: "FLOUR", Name: "Flour", UnitCost: -1},
		"tax over 100":  {Code: "FLOUR", Name: "Flour", TaxRate: 101},
		"bad status":    {Code: "FLOUR", Name: "Flour", Status: "ARCHIVED"},
	}
	for name, item := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateItem(context.Background(), manager, item)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestUpdateItemKeepsCreatedAt(t *testing.T) {
	store := memstore.New()
	svc := masterdata.NewService(store.Catalog(), nil, nil)
	id := store.AddItem(1, "SUGAR", "Sugar", 1.8, 5)
	before, err := svc.GetItem(context.Background(), 1, id)
	require.NoError(t, err)

	updated, err := svc.UpdateItem(context.Background(), manager, masterdata.Item{ID: id, Code: "SUGAR", Name: "Sugar", UnitCost: 2.1, TaxRate: 5})
	require.NoError(t, err)
	require.InDelta(t, 2.1, updated.UnitCost, 1e-9)
	require.Equal(t, before.CreatedAt, updated.CreatedAt)

	_, err = svc.UpdateItem(context.Background(), manager, masterdata.Item{ID: 9999, Code: "X", Name: "X"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateWorkAreaNeedsBranch(t *testing.T) {
	store := memstore.New()
	svc := masterdata.NewService(store.Catalog(), nil, nil)

	wa, err := svc.CreateWorkArea(context.Background(), manager, masterdata.WorkArea{Name: "Kitchen", BranchID: 99})
	require.NoError(t, err)
	require.Equal(t, int64(10), wa.BranchID)

	global := shared.RequestContext{TenantID: 1, Principal: shared.Principal{UserID: 1, RoleCode: shared.RoleSuperAdmin}}
	_, err = svc.CreateWorkArea(context.Background(), global, masterdata.WorkArea{Name: "Bar"})
	require.ErrorIs(t, err, shared.ErrValidation)

	branchless := shared.RequestContext{TenantID: 1, Principal: shared.Principal{UserID: 2, RoleCode: "STORE"}}
	_, err = svc.CreateWorkArea(context.Background(), branchless, masterdata.WorkArea{Name: "Bar"})
	require.ErrorIs(t, err, shared.ErrBranchContextRequired)
}

func TestWorkAreaBranch(t *testing.T) {
	store := memstore.New()
	svc := masterdata.NewService(store.Catalog(), nil, nil)
	kitchen := store.AddWorkArea(1, 10, "Kitchen")
	closed, err := store.Catalog().CreateWorkArea(context.Background(), masterdata.WorkArea{
		TenantID: 1, BranchID: 10, Name: "Old Store", Status: masterdata.StatusInactive,
	})
	require.NoError(t, err)

	branchID, err := svc.WorkAreaBranch(context.Background(), 1, kitchen)
	require.NoError(t, err)
	require.Equal(t, int64(10), branchID)

	_, err = svc.WorkAreaBranch(context.Background(), 2, kitchen)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.WorkAreaBranch(context.Background(), 1, closed.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestListWorkAreasFollowsScope(t *testing.T) {
	store := memstore.New()
	svc := masterdata.NewService(store.Catalog(), nil, nil)
	store.AddWorkArea(1, 10, "Kitchen")
	store.AddWorkArea(1, 20, "Bar")
	store.AddWorkArea(2, 10, "Foreign")

	areas, total, err := svc.ListWorkAreas(context.Background(), manager, masterdata.ListFilters{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "Kitchen", areas[0].Name)

	global := shared.RequestContext{TenantID: 1, Principal: shared.Principal{UserID: 1, RoleCode: shared.RoleSuperAdmin}}
	_, total, err = svc.ListWorkAreas(context.Background(), global, masterdata.ListFilters{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
}
