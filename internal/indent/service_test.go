package indent_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/testing/memstore"
)

const (
	tenantID = int64(1)
	branchA  = int64(10)
	branchB  = int64(20)
)

type fixture struct {
	store   *memstore.Store
	audit   *memstore.AuditLog
	svc     *indent.Service
	pool    *indent.Pool
	rc      shared.RequestContext
	kitchen int64
	store1  int64
	flour   int64
	sugar   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	audit := &memstore.AuditLog{}
	workAreas := masterdata.NewService(store.Catalog(), nil, nil)
	pool := indent.NewPool(store.Indents(), nil)
	return &fixture{
		store:   store,
		audit:   audit,
		svc:     indent.NewService(store.Indents(), pool, store.Catalog(), workAreas, audit, nil),
		pool:    pool,
		rc:      shared.RequestContext{TenantID: tenantID, Principal: shared.Principal{UserID: 7, RoleCode: "STORE"}, BranchID: branchA},
		kitchen: store.AddWorkArea(tenantID, branchA, "Kitchen"),
		store1:  store.AddWorkArea(tenantID, branchA, "Main Store"),
		flour:   store.AddItem(tenantID, "FLR", "Flour", 2.5, 5),
		sugar:   store.AddItem(tenantID, "SGR", "Sugar", 1.2, 0),
	}
}

func (f *fixture) approved(t *testing.T, lines ...indent.LineInput) indent.Indent {
	t.Helper()
	ctx := context.Background()
	created, err := f.svc.CreateIndent(ctx, f.rc, indent.CreateInput{WorkAreaID: f.kitchen, Lines: lines})
	require.NoError(t, err)
	approved, err := f.svc.Approve(ctx, f.rc, created.ID, indent.ApproveInput{})
	require.NoError(t, err)
	return approved
}

func TestCreateIndentBooksUnderWorkAreaBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in, err := f.svc.CreateIndent(ctx, f.rc, indent.CreateInput{
		WorkAreaID: f.kitchen,
		Remarks:    "  weekly  ",
		Lines:      []indent.LineInput{{ItemID: f.flour, RequestedQty: 12.5}},
	})
	require.NoError(t, err)
	require.Equal(t, branchA, in.BranchID)
	require.Equal(t, indent.StatusOpen, in.Status)
	require.Equal(t, indent.EntryOpen, in.EntryType)
	require.Equal(t, "weekly", in.Remarks)
	require.Len(t, in.Items, 1)
	require.Nil(t, in.Items[0].ApprovedQty)
	require.Equal(t, indent.ProcurementPending, in.Items[0].ProcurementStatus)
	require.Equal(t, []string{"INDENT_CREATE"}, f.audit.Actions())

	stored, err := f.svc.GetIndent(ctx, f.rc, in.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	require.InDelta(t, 12.5, stored.Items[0].RequestedQty, 1e-9)
}

func TestCreateIndentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	foreign := f.store.AddWorkArea(tenantID, branchB, "Bar")

	cases := []struct {
		name  string
		input indent.CreateInput
		want  error
	}{
		{"no lines", indent.CreateInput{WorkAreaID: f.kitchen}, shared.ErrValidation},
		{"zero qty", indent.CreateInput{WorkAreaID: f.kitchen, Lines: []indent.LineInput{{ItemID: f.flour}}}, shared.ErrValidation},
		{"unknown item", indent.CreateInput{WorkAreaID: f.kitchen, Lines: []indent.LineInput{{ItemID: 9999, RequestedQty: 1}}}, shared.ErrValidation},
		{"bad entry type", indent.CreateInput{WorkAreaID: f.kitchen, EntryType: "BULK", Lines: []indent.LineInput{{ItemID: f.flour, RequestedQty: 1}}}, shared.ErrValidation},
		{"foreign work area", indent.CreateInput{WorkAreaID: foreign, Lines: []indent.LineInput{{ItemID: f.flour, RequestedQty: 1}}}, shared.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateIndent(ctx, f.rc, tc.input)
			require.ErrorIs(t, err, tc.want)
		})
	}

	noBranch := shared.RequestContext{TenantID: tenantID, Principal: shared.Principal{UserID: 7, RoleCode: "STORE"}}
	_, err := f.svc.CreateIndent(ctx, noBranch, indent.CreateInput{WorkAreaID: f.kitchen, Lines: []indent.LineInput{{ItemID: f.flour, RequestedQty: 1}}})
	require.ErrorIs(t, err, shared.ErrBranchContextRequired)
}

func TestApproveAppliesOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateIndent(ctx, f.rc, indent.CreateInput{WorkAreaID: f.kitchen, Lines: []indent.LineInput{
		{ItemID: f.flour, RequestedQty: 50},
		{ItemID: f.sugar, RequestedQty: 10},
	}})
	require.NoError(t, err)
	flourLine, sugarLine := created.Items[0].ID, created.Items[1].ID

	_, err = f.svc.Approve(ctx, f.rc, created.ID, indent.ApproveInput{ApprovedQty: map[int64]float64{flourLine: 51}})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.Approve(ctx, f.rc, created.ID, indent.ApproveInput{ApprovedQty: map[int64]float64{99999: 1}})
	require.ErrorIs(t, err, indent.ErrIndentItemNotFound)
	require.Nil(t, f.store.IndentItem(flourLine).ApprovedQty)

	approved, err := f.svc.Approve(ctx, f.rc, created.ID, indent.ApproveInput{ApprovedQty: map[int64]float64{flourLine: 40}})
	require.NoError(t, err)
	require.Equal(t, indent.StatusApproved, approved.Status)
	require.InDelta(t, 40, *f.store.IndentItem(flourLine).ApprovedQty, 1e-9)
	require.InDelta(t, 10, *f.store.IndentItem(sugarLine).ApprovedQty, 1e-9)

	records, err := f.svc.ListIssueRecords(ctx, f.rc, created.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, indent.RecordApproved, records[0].Action)

	_, err = f.svc.Approve(ctx, f.rc, created.ID, indent.ApproveInput{})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.Cancel(ctx, f.rc, created.ID, "late")
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRejectAndCancelAreTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lines := []indent.LineInput{{ItemID: f.flour, RequestedQty: 5}}

	first, err := f.svc.CreateIndent(ctx, f.rc, indent.CreateInput{WorkAreaID: f.kitchen, Lines: lines})
	require.NoError(t, err)
	rejected, err := f.svc.Reject(ctx, f.rc, first.ID, "not needed")
	require.NoError(t, err)
	require.Equal(t, indent.StatusRejected, rejected.Status)

	second, err := f.svc.CreateIndent(ctx, f.rc, indent.CreateInput{WorkAreaID: f.kitchen, Lines: lines})
	require.NoError(t, err)
	cancelled, err := f.svc.Cancel(ctx, f.rc, second.ID, "")
	require.NoError(t, err)
	require.Equal(t, indent.StatusCancelled, cancelled.Status)

	_, err = f.svc.Approve(ctx, f.rc, first.ID, indent.ApproveInput{})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.UpdateItem(ctx, f.rc, second.Items[0].ID, 3)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestUpdateAndDeleteItemWhileOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateIndent(ctx, f.rc, indent.CreateInput{WorkAreaID: f.kitchen, Lines: []indent.LineInput{
		{ItemID: f.flour, RequestedQty: 5},
		{ItemID: f.sugar, RequestedQty: 6},
	}})
	require.NoError(t, err)

	updated, err := f.svc.UpdateItem(ctx, f.rc, created.Items[0].ID, 8)
	require.NoError(t, err)
	require.InDelta(t, 8, updated.RequestedQty, 1e-9)
	require.InDelta(t, 8, updated.PendingQty, 1e-9)

	_, err = f.svc.UpdateItem(ctx, f.rc, created.Items[0].ID, 0)
	require.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, f.svc.DeleteItem(ctx, f.rc, created.Items[1].ID))
	err = f.svc.DeleteItem(ctx, f.rc, created.Items[0].ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	got, err := f.svc.GetIndent(ctx, f.rc, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
}

func TestIssueStockDebitsLedgerAndRollsUpStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := inventory.StockKey{TenantID: tenantID, BranchID: branchA, WorkAreaID: f.store1, ItemID: f.flour}
	f.store.SeedStock(key, 100)
	in := f.approved(t, indent.LineInput{ItemID: f.flour, RequestedQty: 50})
	line := in.Items[0].ID

	partial, err := f.svc.IssueStock(ctx, f.rc, in.ID, indent.IssueInput{
		SourceWorkAreaID: f.store1,
		Lines:            []indent.IssueLine{{IndentItemID: line, IssueQty: 20}},
	})
	require.NoError(t, err)
	require.Equal(t, indent.StatusPartiallyIssued, partial.Status)
	require.InDelta(t, 80, f.store.Balance(key), 1e-9)
	item := f.store.IndentItem(line)
	require.InDelta(t, 20, item.IssuedQty, 1e-9)
	require.InDelta(t, 30, item.PendingQty, 1e-9)

	moves := f.store.Movements()
	last := moves[len(moves)-1]
	require.Equal(t, inventory.MovementIssue, last.Type)
	require.InDelta(t, -20, last.Qty, 1e-9)
	require.InDelta(t, 80, last.BalanceAfter, 1e-9)

	done, err := f.svc.IssueStock(ctx, f.rc, in.ID, indent.IssueInput{
		SourceWorkAreaID: f.store1,
		Lines:            []indent.IssueLine{{IndentItemID: line, IssueQty: 30}},
	})
	require.NoError(t, err)
	require.Equal(t, indent.StatusIssued, done.Status)
	require.InDelta(t, 50, f.store.Balance(key), 1e-9)

	_, err = f.svc.IssueStock(ctx, f.rc, in.ID, indent.IssueInput{
		SourceWorkAreaID: f.store1,
		Lines:            []indent.IssueLine{{IndentItemID: line, IssueQty: 1}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestIssueStockIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flourKey := inventory.StockKey{TenantID: tenantID, BranchID: branchA, WorkAreaID: f.store1, ItemID: f.flour}
	sugarKey := inventory.StockKey{TenantID: tenantID, BranchID: branchA, WorkAreaID: f.store1, ItemID: f.sugar}
	f.store.SeedStock(flourKey, 10)
	f.store.SeedStock(sugarKey, 2)
	in := f.approved(t,
		indent.LineInput{ItemID: f.flour, RequestedQty: 5},
		indent.LineInput{ItemID: f.sugar, RequestedQty: 5},
	)
	movesBefore := len(f.store.Movements())

	_, err := f.svc.IssueStock(ctx, f.rc, in.ID, indent.IssueInput{
		SourceWorkAreaID: f.store1,
		Lines: []indent.IssueLine{
			{IndentItemID: in.Items[0].ID, IssueQty: 5},
			{IndentItemID: in.Items[1].ID, IssueQty: 5},
		},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var qe *shared.QuantityError
	require.ErrorAs(t, err, &qe)
	require.Equal(t, f.sugar, qe.ItemID)
	require.InDelta(t, 2, qe.Available, 1e-9)

	require.InDelta(t, 10, f.store.Balance(flourKey), 1e-9)
	require.InDelta(t, 2, f.store.Balance(sugarKey), 1e-9)
	require.Len(t, f.store.Movements(), movesBefore)
	require.Zero(t, f.store.IndentItem(in.Items[0].ID).IssuedQty)
	require.Equal(t, indent.StatusApproved, f.store.IndentHeader(in.ID).Status)
}

func TestIssueStockRejectsOverIssueAndForeignSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SeedStock(inventory.StockKey{TenantID: tenantID, BranchID: branchA, WorkAreaID: f.store1, ItemID: f.flour}, 100)
	in := f.approved(t, indent.LineInput{ItemID: f.flour, RequestedQty: 5})

	_, err := f.svc.IssueStock(ctx, f.rc, in.ID, indent.IssueInput{
		SourceWorkAreaID: f.store1,
		Lines:            []indent.IssueLine{{IndentItemID: in.Items[0].ID, IssueQty: 6}},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientQuantity)

	_, err = f.svc.IssueStock(ctx, f.rc, in.ID, indent.IssueInput{
		SourceWorkAreaID: f.store1,
		Lines:            []indent.IssueLine{{IndentItemID: in.Items[0].ID, IssueQty: 0}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	bar := f.store.AddWorkArea(tenantID, branchB, "Bar")
	admin := shared.RequestContext{TenantID: tenantID, Principal: shared.Principal{UserID: 1, RoleCode: shared.RoleSuperAdmin}}
	_, err = f.svc.IssueStock(ctx, admin, in.ID, indent.IssueInput{
		SourceWorkAreaID: bar,
		Lines:            []indent.IssueLine{{IndentItemID: in.Items[0].ID, IssueQty: 1}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestBranchScopeHidesForeignIndents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.approved(t, indent.LineInput{ItemID: f.flour, RequestedQty: 5})

	other := shared.RequestContext{TenantID: tenantID, Principal: shared.Principal{UserID: 8, RoleCode: "STORE"}, BranchID: branchB}
	_, err := f.svc.GetIndent(ctx, other, in.ID)
	require.ErrorIs(t, err, indent.ErrIndentNotFound)
	_, err = f.svc.Reject(ctx, other, in.ID, "")
	require.ErrorIs(t, err, indent.ErrIndentNotFound)

	list, total, err := f.svc.ListIndents(ctx, other, indent.ListFilters{}, shared.PageRequest{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, list)

	admin := shared.RequestContext{TenantID: tenantID, Principal: shared.Principal{UserID: 1, RoleCode: shared.RoleSuperAdmin}}
	list, total, err = f.svc.ListIndents(ctx, admin, indent.ListFilters{}, shared.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, in.ID, list[0].ID)

	foreignTenant := shared.RequestContext{TenantID: 2, Principal: shared.Principal{UserID: 1, RoleCode: shared.RoleSuperAdmin}}
	_, err = f.svc.GetIndent(ctx, foreignTenant, in.ID)
	require.ErrorIs(t, err, indent.ErrIndentNotFound)
}

func TestListIndentsEligibleForProcurement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eligible := f.approved(t, indent.LineInput{ItemID: f.flour, RequestedQty: 5})
	_, err := f.svc.CreateIndent(ctx, f.rc, indent.CreateInput{WorkAreaID: f.kitchen, Lines: []indent.LineInput{{ItemID: f.flour, RequestedQty: 5}}})
	require.NoError(t, err)
	zeroed, err := f.svc.CreateIndent(ctx, f.rc, indent.CreateInput{WorkAreaID: f.kitchen, Lines: []indent.LineInput{{ItemID: f.sugar, RequestedQty: 5}}})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.rc, zeroed.ID, indent.ApproveInput{ApprovedQty: map[int64]float64{zeroed.Items[0].ID: 0}})
	require.NoError(t, err)

	list, total, err := f.svc.ListIndents(ctx, f.rc, indent.ListFilters{EligibleForProcurement: true}, shared.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, eligible.ID, list[0].ID)
}

func TestPoolShowsApprovedDemandNetOfIssues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SeedStock(inventory.StockKey{TenantID: tenantID, BranchID: branchA, WorkAreaID: f.store1, ItemID: f.flour}, 100)
	in := f.approved(t,
		indent.LineInput{ItemID: f.flour, RequestedQty: 50},
		indent.LineInput{ItemID: f.sugar, RequestedQty: 4},
	)
	_, err := f.svc.IssueStock(ctx, f.rc, in.ID, indent.IssueInput{
		SourceWorkAreaID: f.store1,
		Lines:            []indent.IssueLine{{IndentItemID: in.Items[0].ID, IssueQty: 20}},
	})
	require.NoError(t, err)
	_, err = f.svc.CreateIndent(ctx, f.rc, indent.CreateInput{WorkAreaID: f.kitchen, Lines: []indent.LineInput{{ItemID: f.flour, RequestedQty: 9}}})
	require.NoError(t, err)

	entries, err := f.svc.GetProcurementPool(ctx, f.rc, indent.PoolFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, in.Items[0].ID, entries[0].IndentItemID)
	require.Equal(t, "FLR", entries[0].ItemCode)
	require.InDelta(t, 50, entries[0].ApprovedQty, 1e-9)
	require.InDelta(t, 20, entries[0].IssuedQty, 1e-9)
	require.InDelta(t, 30, entries[0].PendingPOQty, 1e-9)
	require.InDelta(t, 4, entries[1].PendingPOQty, 1e-9)

	again, err := f.svc.GetProcurementPool(ctx, f.rc, indent.PoolFilter{})
	require.NoError(t, err)
	require.Equal(t, entries, again)

	other := shared.RequestContext{TenantID: tenantID, Principal: shared.Principal{UserID: 8, RoleCode: "STORE"}, BranchID: branchB}
	hidden, err := f.svc.GetProcurementPool(ctx, other, indent.PoolFilter{})
	require.NoError(t, err)
	require.Empty(t, hidden)
	filtered, err := f.svc.GetProcurementPool(ctx, f.rc, indent.PoolFilter{BranchID: branchB})
	require.NoError(t, err)
	require.Empty(t, filtered)
}

func TestPoolDigestSummarisesBranches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approved(t, indent.LineInput{ItemID: f.flour, RequestedQty: 5}, indent.LineInput{ItemID: f.sugar, RequestedQty: 2.5})
	f.approved(t, indent.LineInput{ItemID: f.flour, RequestedQty: 1})

	digests, err := f.pool.RefreshDigest(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, digests, 1)
	require.Equal(t, branchA, digests[0].BranchID)
	require.Equal(t, 3, digests[0].Lines)
	require.Equal(t, 2, digests[0].Indents)
	require.InDelta(t, 8.5, digests[0].PendingPOQty, 1e-9)

	other := shared.RequestContext{TenantID: tenantID, Principal: shared.Principal{UserID: 8, RoleCode: "STORE"}, BranchID: branchB}
	visible, err := f.pool.Digest(ctx, other)
	require.NoError(t, err)
	require.Empty(t, visible)
}

func TestConcurrentPoolReadsAgree(t *testing.T) {
	f := newFixture(t)
	f.approved(t, indent.LineInput{ItemID: f.flour, RequestedQty: 5})

	var wg sync.WaitGroup
	results := make([][]indent.PoolEntry, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries, err := f.svc.GetProcurementPool(context.Background(), f.rc, indent.PoolFilter{})
			if err == nil {
				results[i] = entries
			}
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		require.Len(t, r, 1)
		require.InDelta(t, 5, r[0].PendingPOQty, 1e-9)
	}
}

func TestAuditFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.audit.Fail = true
	in, err := f.svc.CreateIndent(context.Background(), f.rc, indent.CreateInput{
		WorkAreaID: f.kitchen,
		Lines:      []indent.LineInput{{ItemID: f.flour, RequestedQty: 1}},
	})
	require.NoError(t, err)
	require.NotZero(t, in.ID)
	require.Empty(t, f.audit.Actions())
}
