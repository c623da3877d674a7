package e2e

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/testing/memstore"
)

const (
	tenantID = int64(1)
	branchID = int64(10)
)

type world struct {
	store       *memstore.Store
	indents     *indent.Service
	pool        *indent.Pool
	procurement *procurement.Service
	ledger      *inventory.Service
	rc          shared.RequestContext
	kitchen     int64
	mainStore   int64
	vendor      int64
	rice        int64
}

func newWorld(t *testing.T) *world {
	t.Helper()
	store := memstore.New()
	audit := &memstore.AuditLog{}
	md := masterdata.NewService(store.Catalog(), audit, nil)
	pool := indent.NewPool(store.Indents(), nil)
	return &world{
		store:   store,
		indents: indent.NewService(store.Indents(), pool, store.Catalog(), md, audit, nil),
		pool:    pool,
		procurement: procurement.NewService(procurement.Dependencies{
			Repo:        store.Procurement(),
			Catalog:     store.Catalog(),
			Vendors:     store.Catalog(),
			WorkAreas:   md,
			Idempotency: store.Idempotency(),
			Audit:       audit,
		}),
		ledger:    inventory.NewService(store.Inventory(), audit, md, nil),
		rc:        shared.RequestContext{TenantID: tenantID, Principal: shared.Principal{UserID: 3, RoleCode: "STORE"}, BranchID: branchID},
		kitchen:   store.AddWorkArea(tenantID, branchID, "Kitchen"),
		mainStore: store.AddWorkArea(tenantID, branchID, "Main Store"),
		vendor:    store.AddVendor(tenantID, "V-RICE", "Paddy Traders"),
		rice:      store.AddItem(tenantID, "RICE", "Basmati Rice", 1.8, 5),
	}
}

func (w *world) key(workAreaID, itemID int64) inventory.StockKey {
	return inventory.StockKey{TenantID: tenantID, BranchID: branchID, WorkAreaID: workAreaID, ItemID: itemID}
}

func (w *world) approvedIndent(t *testing.T, itemID int64, qty float64) indent.Indent {
	t.Helper()
	ctx := context.Background()
	in, err := w.indents.CreateIndent(ctx, w.rc, indent.CreateInput{
		WorkAreaID: w.kitchen,
		Lines:      []indent.LineInput{{ItemID: itemID, RequestedQty: qty}},
	})
	require.NoError(t, err)
	in, err = w.indents.Approve(ctx, w.rc, in.ID, indent.ApproveInput{})
	require.NoError(t, err)
	return in
}

// TestIndentToReturnLifecycle walks one indent line through partial issue,
// pooling, purchase, receipt and return.
func TestIndentToReturnLifecycle(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	source := w.key(w.mainStore, w.rice)
	w.store.SeedStock(source, 20)

	in := w.approvedIndent(t, w.rice, 50)
	line := in.Items[0].ID
	require.InDelta(t, 50, *in.Items[0].ApprovedQty, 1e-9)

	// Partial issue drains the source work area.
	issued, err := w.indents.IssueStock(ctx, w.rc, in.ID, indent.IssueInput{
		SourceWorkAreaID: w.mainStore,
		Lines:            []indent.IssueLine{{IndentItemID: line, IssueQty: 20}},
	})
	require.NoError(t, err)
	require.Equal(t, indent.StatusPartiallyIssued, issued.Status)
	require.InDelta(t, 30, issued.Items[0].PendingQty, 1e-9)
	require.Zero(t, w.store.Balance(source))

	// The remaining demand sits in the pool and defaults the PO quantity.
	pool, err := w.indents.GetProcurementPool(ctx, w.rc, indent.PoolFilter{})
	require.NoError(t, err)
	require.Len(t, pool, 1)
	require.InDelta(t, 30, pool[0].PendingPOQty, 1e-9)

	po, err := w.procurement.CreatePOFromIndentItems(ctx, w.rc, procurement.FromPoolInput{
		VendorID: w.vendor,
		Items:    []procurement.PoolPick{{IndentItemID: line}},
	})
	require.NoError(t, err)
	require.InDelta(t, 30, po.Items[0].Quantity, 1e-9)
	require.True(t, w.store.IndentHeader(in.ID).IsPORaised)

	_, err = w.procurement.CreatePOFromIndentItems(ctx, w.rc, procurement.FromPoolInput{
		VendorID: w.vendor,
		Items:    []procurement.PoolPick{{IndentItemID: line}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	// Receipt credits the destination and closes the order.
	_, err = w.procurement.ApprovePO(ctx, w.rc, po.ID)
	require.NoError(t, err)
	grn, err := w.procurement.CreateGRN(ctx, w.rc, procurement.CreateGRNInput{
		POID:       po.ID,
		WorkAreaID: w.mainStore,
		Lines:      []procurement.GRNLineInput{{ItemID: w.rice, ReceivedQty: 30, UnitCost: 1.8}},
	})
	require.NoError(t, err)
	require.InDelta(t, 30, w.store.Balance(source), 1e-9)
	closed, err := w.procurement.GetPO(ctx, w.rc, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusClosed, closed.Status)

	// Returns are capped at the received quantity.
	_, err = w.procurement.CreateRTV(ctx, w.rc, procurement.CreateRTVInput{
		GRNID: grn.ID,
		Lines: []procurement.RTVLineInput{{ItemID: w.rice, ReturnedQty: 35}},
	})
	require.ErrorIs(t, err, shared.ErrOverReturn)
	require.InDelta(t, 30, w.store.Balance(source), 1e-9)

	_, err = w.procurement.CreateRTV(ctx, w.rc, procurement.CreateRTVInput{
		GRNID: grn.ID,
		Lines: []procurement.RTVLineInput{{ItemID: w.rice, ReturnedQty: 10, Reason: "broken sacks"}},
	})
	require.NoError(t, err)
	require.InDelta(t, 20, w.store.Balance(source), 1e-9)

	drift, err := w.ledger.Reconcile(ctx, tenantID)
	require.NoError(t, err)
	require.Empty(t, drift)
}

// TestConcurrentIssuesNeverOverdraw races two issues for the whole balance.
func TestConcurrentIssuesNeverOverdraw(t *testing.T) {
	w := newWorld(t)
	source := w.key(w.mainStore, w.rice)
	w.store.SeedStock(source, 10)
	first := w.approvedIndent(t, w.rice, 10)
	second := w.approvedIndent(t, w.rice, 10)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, in := range []indent.Indent{first, second} {
		wg.Add(1)
		go func(i int, in indent.Indent) {
			defer wg.Done()
			_, errs[i] = w.indents.IssueStock(context.Background(), w.rc, in.ID, indent.IssueInput{
				SourceWorkAreaID: w.mainStore,
				Lines:            []indent.IssueLine{{IndentItemID: in.Items[0].ID, IssueQty: 10}},
			})
		}(i, in)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, shared.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, short)
	require.Zero(t, w.store.Balance(source))
}

// TestReceiptRoundTrip checks that receiving a pooled order credits exactly
// the received quantities.
func TestReceiptRoundTrip(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	oil := w.store.AddItem(tenantID, "OIL", "Sunflower Oil", 4, 12)
	a := w.approvedIndent(t, w.rice, 12.5)
	dest := w.key(w.mainStore, w.rice)
	oilDest := w.key(w.mainStore, oil)

	in, err := w.indents.CreateIndent(ctx, w.rc, indent.CreateInput{
		WorkAreaID: w.kitchen,
		Lines:      []indent.LineInput{{ItemID: oil, RequestedQty: 3}},
	})
	require.NoError(t, err)
	_, err = w.indents.Approve(ctx, w.rc, in.ID, indent.ApproveInput{})
	require.NoError(t, err)

	po, err := w.procurement.CreatePOFromIndentItems(ctx, w.rc, procurement.FromPoolInput{
		VendorID: w.vendor,
		Items: []procurement.PoolPick{
			{IndentItemID: a.Items[0].ID},
			{IndentItemID: in.Items[0].ID},
		},
	})
	require.NoError(t, err)
	_, err = w.procurement.ApprovePO(ctx, w.rc, po.ID)
	require.NoError(t, err)

	_, err = w.procurement.CreateGRN(ctx, w.rc, procurement.CreateGRNInput{
		POID:       po.ID,
		WorkAreaID: w.mainStore,
		Lines: []procurement.GRNLineInput{
			{ItemID: w.rice, ReceivedQty: 7.25},
			{ItemID: w.rice, ReceivedQty: 5},
			{ItemID: oil, ReceivedQty: 3},
		},
	})
	require.NoError(t, err)
	require.InDelta(t, 12.25, w.store.Balance(dest), 1e-9)
	require.InDelta(t, 3, w.store.Balance(oilDest), 1e-9)
	closed, err := w.procurement.GetPO(ctx, w.rc, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusClosed, closed.Status)
	require.Equal(t, indent.ProcurementProcured, w.store.IndentItem(a.Items[0].ID).ProcurementStatus)
	require.Equal(t, indent.ProcurementProcured, w.store.IndentItem(in.Items[0].ID).ProcurementStatus)
}

// TestRandomWorkloadKeepsInvariants replays a seeded mix of issues, receipts
// and returns and checks the quantity invariants after every step.
func TestRandomWorkloadKeepsInvariants(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	source := w.key(w.mainStore, w.rice)
	w.store.SeedStock(source, 40)

	var (
		indents []indent.Indent
		grns    []procurement.GRN
	)
	for i := 0; i < 6; i++ {
		indents = append(indents, w.approvedIndent(t, w.rice, float64(5+rng.Intn(20))))
	}

	for step := 0; step < 60; step++ {
		switch rng.Intn(3) {
		case 0:
			in := indents[rng.Intn(len(indents))]
			_, err := w.indents.IssueStock(ctx, w.rc, in.ID, indent.IssueInput{
				SourceWorkAreaID: w.mainStore,
				Lines:            []indent.IssueLine{{IndentItemID: in.Items[0].ID, IssueQty: float64(1 + rng.Intn(8))}},
			})
			requireBusinessError(t, err)
		case 1:
			po, err := w.procurement.CreatePO(ctx, w.rc, procurement.CreatePOInput{
				VendorID: w.vendor,
				Lines:    []procurement.POLineInput{{ItemID: w.rice, Quantity: float64(1 + rng.Intn(10))}},
			})
			require.NoError(t, err)
			_, err = w.procurement.ApprovePO(ctx, w.rc, po.ID)
			require.NoError(t, err)
			grn, err := w.procurement.CreateGRN(ctx, w.rc, procurement.CreateGRNInput{
				POID:       po.ID,
				WorkAreaID: w.mainStore,
				Lines:      []procurement.GRNLineInput{{ItemID: w.rice, ReceivedQty: po.Items[0].Quantity}},
			})
			require.NoError(t, err)
			grns = append(grns, grn)
		case 2:
			if len(grns) == 0 {
				continue
			}
			grn := grns[rng.Intn(len(grns))]
			_, err := w.procurement.CreateRTV(ctx, w.rc, procurement.CreateRTVInput{
				GRNID: grn.ID,
				Lines: []procurement.RTVLineInput{{ItemID: w.rice, ReturnedQty: float64(1 + rng.Intn(6))}},
			})
			requireBusinessError(t, err)
		}

		require.GreaterOrEqual(t, w.store.Balance(source), 0.0)
		for _, in := range indents {
			got, err := w.indents.GetIndent(ctx, w.rc, in.ID)
			require.NoError(t, err)
			var approved, issuedSum float64
			for _, line := range got.Items {
				a := indent.ResolveApprovedQty(line)
				require.LessOrEqual(t, line.IssuedQty, a+1e-9)
				require.LessOrEqual(t, a, line.RequestedQty+1e-9)
				approved += a
				issuedSum += line.IssuedQty
			}
			if got.Status == indent.StatusIssued {
				require.GreaterOrEqual(t, issuedSum+1e-9, approved)
			}
		}
		for _, grn := range grns {
			rtvs, _, err := w.procurement.ListRTVs(ctx, w.rc, procurement.RTVFilters{GRNID: grn.ID}, shared.PageRequest{PerPage: 200})
			require.NoError(t, err)
			var returned float64
			for _, r := range rtvs {
				returned += r.ReturnedQty
			}
			require.LessOrEqual(t, returned, grn.Items[0].ReceivedQty+1e-9)
		}
	}

	drift, err := w.ledger.Reconcile(ctx, tenantID)
	require.NoError(t, err)
	require.Empty(t, drift)
}

func requireBusinessError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		return
	}
	for _, kind := range []error{shared.ErrInsufficientStock, shared.ErrInsufficientQuantity, shared.ErrOverReturn, shared.ErrInvalidState} {
		if errors.Is(err, kind) {
			return
		}
	}
	t.Fatalf("unexpected error: %v", err)
}

// TestPoolReadIsStable lists the pool twice without mutation in between.
func TestPoolReadIsStable(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.approvedIndent(t, w.rice, 8)
	w.approvedIndent(t, w.rice, 2.75)

	first, err := w.indents.GetProcurementPool(ctx, w.rc, indent.PoolFilter{})
	require.NoError(t, err)
	second, err := w.indents.GetProcurementPool(ctx, w.rc, indent.PoolFilter{})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, first, second)
	require.InDelta(t, 8, first[0].PendingPOQty, 1e-9)
	require.InDelta(t, 2.75, first[1].PendingPOQty, 1e-9)
}
