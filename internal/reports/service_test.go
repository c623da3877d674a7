package reports_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/reports"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/testing/memstore"
)

const (
	tenantID = int64(1)
	branchA  = int64(10)
	branchB  = int64(20)
)

type fixture struct {
	store       *memstore.Store
	audit       *memstore.AuditLog
	indents     *indent.Service
	procurement *procurement.Service
	svc         *reports.Service
	rc          shared.RequestContext
	admin       shared.RequestContext
	kitchen     int64
	dock        int64
	vendor      int64
	flour       int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	audit := &memstore.AuditLog{}
	md := masterdata.NewService(store.Catalog(), nil, nil)
	return &fixture{
		store:   store,
		audit:   audit,
		indents: indent.NewService(store.Indents(), indent.NewPool(store.Indents(), nil), store.Catalog(), md, audit, nil),
		procurement: procurement.NewService(procurement.Dependencies{
			Repo:      store.Procurement(),
			Catalog:   store.Catalog(),
			Vendors:   store.Catalog(),
			WorkAreas: md,
			Audit:     audit,
		}),
		svc:     reports.NewService(store.Reports(audit), 0, nil),
		rc:      shared.RequestContext{TenantID: tenantID, Principal: shared.Principal{UserID: 7, RoleCode: "PURCHASE"}, BranchID: branchA},
		admin:   shared.RequestContext{TenantID: tenantID, Principal: shared.Principal{UserID: 1, RoleCode: shared.RoleSuperAdmin}},
		kitchen: store.AddWorkArea(tenantID, branchA, "Kitchen"),
		dock:    store.AddWorkArea(tenantID, branchA, "Receiving Dock"),
		vendor:  store.AddVendor(tenantID, "V-01", "Acme Mills"),
		flour:   store.AddItem(tenantID, "FLR", "Flour", 2.5, 0),
	}
}

func (f *fixture) approvedIndent(t *testing.T, qty float64) indent.Indent {
	t.Helper()
	ctx := context.Background()
	in, err := f.indents.CreateIndent(ctx, f.rc, indent.CreateInput{
		WorkAreaID: f.kitchen,
		Lines:      []indent.LineInput{{ItemID: f.flour, RequestedQty: qty}},
	})
	require.NoError(t, err)
	in, err = f.indents.Approve(ctx, f.rc, in.ID, indent.ApproveInput{})
	require.NoError(t, err)
	return in
}

// receive raises a PO for an approved indent and receives it at unitCost.
func (f *fixture) receive(t *testing.T, qty, unitCost float64) procurement.GRN {
	t.Helper()
	ctx := context.Background()
	in := f.approvedIndent(t, qty)
	po, err := f.procurement.CreatePOFromIndentItems(ctx, f.rc, procurement.FromPoolInput{
		VendorID: f.vendor,
		Items:    []procurement.PoolPick{{IndentItemID: in.Items[0].ID}},
	})
	require.NoError(t, err)
	_, err = f.procurement.ApprovePO(ctx, f.rc, po.ID)
	require.NoError(t, err)
	grn, err := f.procurement.CreateGRN(ctx, f.rc, procurement.CreateGRNInput{
		POID:            po.ID,
		WorkAreaID:      f.dock,
		VendorInvoiceNo: "INV-1",
		Lines:           []procurement.GRNLineInput{{ItemID: f.flour, ReceivedQty: qty, UnitCost: unitCost}},
	})
	require.NoError(t, err)
	return grn
}

func TestDashboardFollowsBranchScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bar := f.store.AddWorkArea(tenantID, branchB, "Bar")
	f.store.SeedStock(inventory.StockKey{TenantID: tenantID, BranchID: branchA, WorkAreaID: f.dock, ItemID: f.flour}, 40)
	f.store.SeedStock(inventory.StockKey{TenantID: tenantID, BranchID: branchA, WorkAreaID: f.kitchen, ItemID: f.flour}, 2)
	f.store.SeedStock(inventory.StockKey{TenantID: tenantID, BranchID: branchB, WorkAreaID: bar, ItemID: f.flour}, 100)

	_, err := f.indents.CreateIndent(ctx, f.rc, indent.CreateInput{
		WorkAreaID: f.kitchen,
		Lines:      []indent.LineInput{{ItemID: f.flour, RequestedQty: 3}},
	})
	require.NoError(t, err)
	in := f.approvedIndent(t, 6)
	_, err = f.procurement.CreatePOFromIndentItems(ctx, f.rc, procurement.FromPoolInput{
		VendorID: f.vendor,
		Items:    []procurement.PoolPick{{IndentItemID: in.Items[0].ID}},
	})
	require.NoError(t, err)

	stats, err := f.svc.Dashboard(ctx, f.rc)
	require.NoError(t, err)
	require.InDelta(t, 105, stats.TotalStockValue, 1e-9)
	require.Equal(t, 1, stats.LowStockCount)
	require.Equal(t, 1, stats.PendingPOs)
	require.Equal(t, 1, stats.PendingIndents)
	require.Equal(t, 1, stats.ActiveItems)

	all, err := f.svc.Dashboard(ctx, f.admin)
	require.NoError(t, err)
	require.InDelta(t, 355, all.TotalStockValue, 1e-9)

	branchless := shared.RequestContext{TenantID: tenantID, Principal: shared.Principal{UserID: 9, RoleCode: "STORE"}}
	_, err = f.svc.Dashboard(ctx, branchless)
	require.ErrorIs(t, err, shared.ErrBranchContextRequired)
}

func TestListAuditLogsFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for _, e := range []shared.AuditEntry{
		{TenantID: tenantID, BranchID: branchA, PerformedBy: 7, Action: "PO_CREATE", Entity: "purchase_order", EntityID: "1", At: day},
		{TenantID: tenantID, BranchID: branchA, PerformedBy: 8, Action: "GRN_CREATE", Entity: "grn", EntityID: "2", At: day.Add(time.Hour)},
		{TenantID: tenantID, BranchID: branchA, PerformedBy: 7, Action: "PO_APPROVE", Entity: "purchase_order", EntityID: "1", At: day.AddDate(0, 0, 2)},
		{TenantID: tenantID, BranchID: branchB, PerformedBy: 7, Action: "PO_CREATE", Entity: "purchase_order", EntityID: "3", At: day},
		{TenantID: tenantID, PerformedBy: 1, Action: "ITEM_CREATE", Entity: "item", EntityID: "9", At: day},
		{TenantID: 2, BranchID: branchA, PerformedBy: 7, Action: "PO_CREATE", Entity: "purchase_order", At: day},
	} {
		require.NoError(t, f.audit.Append(ctx, e))
	}

	records, total, err := f.svc.ListAuditLogs(ctx, f.rc, reports.AuditFilter{}, shared.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Equal(t, "PO_APPROVE", records[0].Action)

	records, total, err = f.svc.ListAuditLogs(ctx, f.rc, reports.AuditFilter{PerformedBy: 7, Entity: " Purchase_Order "}, shared.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, []string{"PO_APPROVE", "PO_CREATE"}, []string{records[0].Action, records[1].Action})

	sameDay := reports.DateRange{From: day.Truncate(24 * time.Hour), To: day.Truncate(24 * time.Hour).AddDate(0, 0, 1)}
	_, total, err = f.svc.ListAuditLogs(ctx, f.rc, reports.AuditFilter{Range: sameDay}, shared.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	records, total, err = f.svc.ListAuditLogs(ctx, f.admin, reports.AuditFilter{}, shared.PageRequest{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, records, 2)

	_, _, err = f.svc.ListAuditLogs(ctx, f.rc, reports.AuditFilter{Range: reports.DateRange{From: day, To: day}}, shared.PageRequest{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReceiptReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grn := f.receive(t, 4, 3)
	f.receive(t, 2, 2.5)

	rows, total, err := f.svc.POStatus(ctx, f.rc, reports.POStatusFilter{Status: "closed"}, shared.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	for _, row := range rows {
		require.Equal(t, "Acme Mills", row.VendorName)
		require.Equal(t, 1, row.GRNCount)
	}
	_, total, err = f.svc.POStatus(ctx, f.rc, reports.POStatusFilter{Status: "PENDING"}, shared.PageRequest{})
	require.NoError(t, err)
	require.Zero(t, total)

	lines, total, err := f.svc.DetailedGRN(ctx, f.rc, reports.GRNFilter{VendorID: f.vendor}, shared.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, "FLR", lines[0].ItemCode)

	variances, total, err := f.svc.RateVariance(ctx, f.rc, reports.DateRange{}, shared.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, grn.ID, variances[0].GRNID)
	require.InDelta(t, 0.5, variances[0].Variance, 1e-9)
	require.InDelta(t, 20, variances[0].VariancePct, 1e-9)

	suppliers, err := f.svc.SupplierPurchases(ctx, f.rc, reports.DateRange{})
	require.NoError(t, err)
	require.Len(t, suppliers, 1)
	require.Equal(t, 2, suppliers[0].GRNCount)
	require.InDelta(t, 17, suppliers[0].TotalAmount, 1e-9)

	other := shared.RequestContext{TenantID: tenantID, Principal: shared.Principal{UserID: 9, RoleCode: "PURCHASE"}, BranchID: branchB}
	suppliers, err = f.svc.SupplierPurchases(ctx, other, reports.DateRange{})
	require.NoError(t, err)
	require.Empty(t, suppliers)
}

func TestIndentIssueReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SeedStock(inventory.StockKey{TenantID: tenantID, BranchID: branchA, WorkAreaID: f.dock, ItemID: f.flour}, 50)
	in := f.approvedIndent(t, 10)
	_, err := f.indents.IssueStock(ctx, f.rc, in.ID, indent.IssueInput{
		SourceWorkAreaID: f.dock,
		Lines:            []indent.IssueLine{{IndentItemID: in.Items[0].ID, IssueQty: 4}},
	})
	require.NoError(t, err)
	_, err = f.indents.CreateIndent(ctx, f.rc, indent.CreateInput{
		WorkAreaID: f.kitchen,
		Lines:      []indent.LineInput{{ItemID: f.flour, RequestedQty: 1}},
	})
	require.NoError(t, err)

	lines, err := f.svc.IndentIssue(ctx, f.rc, reports.IndentIssueFilter{WorkAreaID: f.kitchen})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, string(indent.StatusPartiallyIssued), lines[0].IndentStatus)
	require.InDelta(t, 10, lines[0].ApprovedQty, 1e-9)
	require.InDelta(t, 4, lines[0].IssuedQty, 1e-9)
	require.InDelta(t, 6, lines[0].PendingQty, 1e-9)

	lines, err = f.svc.IndentIssue(ctx, f.rc, reports.IndentIssueFilter{WorkAreaID: f.dock})
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestRateVarianceFigures(t *testing.T) {
	v := reports.ToRateVariance(reports.GRNLine{UnitCost: 1.8, StandardCost: 2})
	require.InDelta(t, -0.2, v.Variance, 1e-9)
	require.InDelta(t, -10, v.VariancePct, 1e-9)

	free := reports.ToRateVariance(reports.GRNLine{UnitCost: 1.5})
	require.Zero(t, free.VariancePct)
	require.True(t, reports.OffStandard(2.51, 2.5))
	require.False(t, reports.OffStandard(2.501, 2.5))
}
