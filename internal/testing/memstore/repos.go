package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func inScope(scope shared.ScopeFilter, tenantID, branchID int64) bool {
	return !scope.Empty() && scope.TenantID == tenantID && scope.Includes(branchID)
}

// InventoryRepo implements inventory.RepositoryPort.
type InventoryRepo struct{ s *Store }

var _ inventory.RepositoryPort = (*InventoryRepo)(nil)

func (r *InventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (r *InventoryRepo) ListStock(_ context.Context, scope shared.ScopeFilter, filter inventory.StockFilter, page shared.PageRequest) ([]inventory.Stock, int, error) {
	var out []inventory.Stock
	r.s.read(func(st *state) {
		for key, s := range st.stock {
			if !inScope(scope, key.TenantID, key.BranchID) {
				continue
			}
			if filter.WorkAreaID > 0 && key.WorkAreaID != filter.WorkAreaID {
				continue
			}
			if filter.ItemID > 0 && key.ItemID != filter.ItemID {
				continue
			}
			out = append(out, s)
		}
	})
	items, total := paginate(out, page, func(a, b inventory.Stock) bool {
		if a.BranchID != b.BranchID {
			return a.BranchID < b.BranchID
		}
		if a.WorkAreaID != b.WorkAreaID {
			return a.WorkAreaID < b.WorkAreaID
		}
		return a.ItemID < b.ItemID
	})
	return items, total, nil
}

func (r *InventoryRepo) ListMovements(_ context.Context, scope shared.ScopeFilter, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	var out []inventory.Movement
	r.s.read(func(st *state) {
		for _, m := range st.movements {
			if !inScope(scope, m.TenantID, m.BranchID) || m.ItemID != filter.ItemID {
				continue
			}
			if filter.WorkAreaID > 0 && m.WorkAreaID != filter.WorkAreaID {
				continue
			}
			if !filter.From.IsZero() && m.PostedAt.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && !m.PostedAt.Before(filter.To) {
				continue
			}
			out = append(out, m)
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *InventoryRepo) ListDrift(_ context.Context, tenantID int64) ([]inventory.Drift, error) {
	var out []inventory.Drift
	r.s.read(func(st *state) {
		sums := make(map[inventory.StockKey]float64)
		for _, m := range st.movements {
			if m.TenantID == tenantID {
				sums[m.StockKey] += m.Qty
			}
		}
		for key, s := range st.stock {
			if key.TenantID != tenantID {
				continue
			}
			journal := shared.RoundQty(sums[key])
			if math.Abs(s.Quantity-journal) > 0.0001 {
				out = append(out, inventory.Drift{
					StockKey:    key,
					Quantity:    s.Quantity,
					JournalSum:  journal,
					Discrepancy: shared.RoundQty(s.Quantity - journal),
				})
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].BranchID != out[j].BranchID {
			return out[i].BranchID < out[j].BranchID
		}
		if out[i].WorkAreaID != out[j].WorkAreaID {
			return out[i].WorkAreaID < out[j].WorkAreaID
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

func (r *InventoryRepo) ListTenantIDs(_ context.Context) ([]int64, error) {
	seen := make(map[int64]struct{})
	r.s.read(func(st *state) {
		for key := range st.stock {
			seen[key.TenantID] = struct{}{}
		}
	})
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// IndentRepo implements indent.RepositoryPort and indent.PoolReader.
type IndentRepo struct{ s *Store }

var (
	_ indent.RepositoryPort = (*IndentRepo)(nil)
	_ indent.PoolReader     = (*IndentRepo)(nil)
)

func (r *IndentRepo) WithTx(ctx context.Context, fn func(context.Context, indent.TxRepository) error) error {
	return r.s.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (r *IndentRepo) GetIndent(_ context.Context, tenantID, id int64) (indent.Indent, error) {
	var (
		in indent.Indent
		ok bool
	)
	r.s.read(func(st *state) {
		in, ok = st.indents[id]
		if ok {
			in.Items = itemsOf(st, id)
		}
	})
	if !ok || in.TenantID != tenantID {
		return indent.Indent{}, fmt.Errorf("%w %d", indent.ErrIndentNotFound, id)
	}
	return in, nil
}

func (r *IndentRepo) FindIndentItem(_ context.Context, tenantID, lineID int64) (indent.Item, error) {
	var (
		item indent.Item
		ok   bool
	)
	r.s.read(func(st *state) {
		item, ok = st.indentItems[lineID]
		ok = ok && st.indents[item.IndentID].TenantID == tenantID
	})
	if !ok {
		return indent.Item{}, fmt.Errorf("%w %d", indent.ErrIndentItemNotFound, lineID)
	}
	item.ApprovedQty = cloneQty(item.ApprovedQty)
	return item, nil
}

func (r *IndentRepo) ListIndents(_ context.Context, scope shared.ScopeFilter, filters indent.ListFilters, page shared.PageRequest) ([]indent.Indent, int, error) {
	var out []indent.Indent
	r.s.read(func(st *state) {
		for _, in := range st.indents {
			if !inScope(scope, in.TenantID, in.BranchID) {
				continue
			}
			if filters.Status != "" && in.Status != filters.Status {
				continue
			}
			if filters.WorkAreaID > 0 && in.WorkAreaID != filters.WorkAreaID {
				continue
			}
			if !filters.From.IsZero() && in.IndentDate.Before(filters.From) {
				continue
			}
			if !filters.To.IsZero() && !in.IndentDate.Before(filters.To) {
				continue
			}
			if filters.EligibleForProcurement && !eligible(st, in) {
				continue
			}
			out = append(out, in)
		}
	})
	items, total := paginate(out, page, func(a, b indent.Indent) bool {
		if !a.IndentDate.Equal(b.IndentDate) {
			return a.IndentDate.After(b.IndentDate)
		}
		return a.ID > b.ID
	})
	return items, total, nil
}

func eligible(st *state, in indent.Indent) bool {
	if in.IsPORaised {
		return false
	}
	for _, item := range st.indentItems {
		if item.IndentID == in.ID && item.ProcurementStatus == indent.ProcurementPending &&
			shared.QtyGreater(indent.ResolvePoolQty(item), 0) {
			return true
		}
	}
	return false
}

func (r *IndentRepo) ListIssueRecords(_ context.Context, tenantID, indentID int64) ([]indent.IssueRecord, error) {
	var out []indent.IssueRecord
	r.s.read(func(st *state) {
		for _, rec := range st.issueRecords {
			if rec.TenantID == tenantID && rec.IndentID == indentID {
				out = append(out, rec)
			}
		}
	})
	return out, nil
}

func (r *IndentRepo) ListPoolRows(_ context.Context, scope shared.ScopeFilter, filter indent.PoolFilter) ([]indent.PoolRow, error) {
	var candidates []indent.PoolRow
	r.s.read(func(st *state) {
		for _, item := range st.indentItems {
			in := st.indents[item.IndentID]
			if !inScope(scope, in.TenantID, in.BranchID) || !in.Status.Issuable() ||
				item.ProcurementStatus != indent.ProcurementPending {
				continue
			}
			item.ApprovedQty = cloneQty(item.ApprovedQty)
			candidates = append(candidates, indent.PoolRow{
				Item:       item,
				BranchID:   in.BranchID,
				WorkAreaID: in.WorkAreaID,
				IndentDate: in.IndentDate,
				Status:     in.Status,
				IsPORaised: in.IsPORaised,
			})
		}
	})

	r.s.catalogMu.RLock()
	out := candidates[:0]
	for _, row := range candidates {
		master, ok := r.s.items[row.Item.ItemID]
		if !ok || master.TenantID != scope.TenantID {
			continue
		}
		if filter.CategoryID > 0 && master.CategoryID != filter.CategoryID {
			continue
		}
		row.ItemCode, row.ItemName, row.CategoryID = master.Code, master.Name, master.CategoryID
		out = append(out, row)
	}
	r.s.catalogMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Item.IndentID != out[j].Item.IndentID {
			return out[i].Item.IndentID < out[j].Item.IndentID
		}
		return out[i].Item.ID < out[j].Item.ID
	})
	return out, nil
}

// ProcurementRepo implements procurement.RepositoryPort.
type ProcurementRepo struct{ s *Store }

var _ procurement.RepositoryPort = (*ProcurementRepo)(nil)

func (r *ProcurementRepo) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	return r.s.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (r *ProcurementRepo) GetPO(_ context.Context, tenantID, id int64) (procurement.PurchaseOrder, error) {
	var (
		po procurement.PurchaseOrder
		ok bool
	)
	r.s.read(func(st *state) {
		po, ok = st.pos[id]
		if ok {
			po.Items = poItemsOf(st, id)
		}
	})
	if !ok || po.TenantID != tenantID {
		return procurement.PurchaseOrder{}, fmt.Errorf("%w %d", procurement.ErrPONotFound, id)
	}
	return po, nil
}

func (r *ProcurementRepo) ListPOs(_ context.Context, scope shared.ScopeFilter, filters procurement.POFilters, page shared.PageRequest) ([]procurement.PurchaseOrder, int, error) {
	var out []procurement.PurchaseOrder
	r.s.read(func(st *state) {
		for _, po := range st.pos {
			if !inScope(scope, po.TenantID, po.BranchID) {
				continue
			}
			if filters.Status != "" && po.Status != filters.Status {
				continue
			}
			if filters.VendorID > 0 && po.VendorID != filters.VendorID {
				continue
			}
			out = append(out, po)
		}
	})
	items, total := paginate(out, page, func(a, b procurement.PurchaseOrder) bool { return a.ID > b.ID })
	return items, total, nil
}

func (r *ProcurementRepo) GetSO(_ context.Context, tenantID, id int64) (procurement.SpecialOrder, error) {
	var (
		so procurement.SpecialOrder
		ok bool
	)
	r.s.read(func(st *state) {
		so, ok = st.sos[id]
		if ok {
			so.Items = soItemsOf(st, id)
		}
	})
	if !ok || so.TenantID != tenantID {
		return procurement.SpecialOrder{}, fmt.Errorf("%w %d", procurement.ErrSONotFound, id)
	}
	return so, nil
}

func (r *ProcurementRepo) ListSOs(_ context.Context, scope shared.ScopeFilter, filters procurement.SOFilters, page shared.PageRequest) ([]procurement.SpecialOrder, int, error) {
	var out []procurement.SpecialOrder
	r.s.read(func(st *state) {
		for _, so := range st.sos {
			if inScope(scope, so.TenantID, so.BranchID) && (filters.Status == "" || so.Status == filters.Status) {
				out = append(out, so)
			}
		}
	})
	items, total := paginate(out, page, func(a, b procurement.SpecialOrder) bool { return a.ID > b.ID })
	return items, total, nil
}

func (r *ProcurementRepo) GetGRN(_ context.Context, tenantID, id int64) (procurement.GRN, error) {
	var (
		grn procurement.GRN
		ok  bool
	)
	r.s.read(func(st *state) {
		grn, ok = st.grns[id]
		if ok {
			grn.Items = grnItemsOf(st, id)
		}
	})
	if !ok || grn.TenantID != tenantID {
		return procurement.GRN{}, fmt.Errorf("%w %d", procurement.ErrGRNNotFound, id)
	}
	return grn, nil
}

func (r *ProcurementRepo) ListGRNs(_ context.Context, scope shared.ScopeFilter, filters procurement.GRNFilters, page shared.PageRequest) ([]procurement.GRN, int, error) {
	var out []procurement.GRN
	r.s.read(func(st *state) {
		for _, grn := range st.grns {
			if !inScope(scope, grn.TenantID, grn.BranchID) {
				continue
			}
			if filters.POID > 0 && grn.POID != filters.POID {
				continue
			}
			if filters.SOID > 0 && grn.SOID != filters.SOID {
				continue
			}
			out = append(out, grn)
		}
	})
	items, total := paginate(out, page, func(a, b procurement.GRN) bool { return a.ID > b.ID })
	return items, total, nil
}

func (r *ProcurementRepo) ListRTVs(_ context.Context, scope shared.ScopeFilter, filters procurement.RTVFilters, page shared.PageRequest) ([]procurement.RTV, int, error) {
	var out []procurement.RTV
	r.s.read(func(st *state) {
		for _, rtv := range st.rtvs {
			if inScope(scope, rtv.TenantID, rtv.BranchID) && (filters.GRNID == 0 || rtv.GRNID == filters.GRNID) {
				out = append(out, rtv)
			}
		}
	})
	items, total := paginate(out, page, func(a, b procurement.RTV) bool { return a.ID > b.ID })
	return items, total, nil
}

// CatalogRepo implements masterdata.Repository.
type CatalogRepo struct{ s *Store }

var _ masterdata.Repository = (*CatalogRepo)(nil)

func matches(search string, fields ...string) bool {
	if search == "" {
		return true
	}
	search = strings.ToLower(search)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), search) {
			return true
		}
	}
	return false
}

func (r *CatalogRepo) ListItems(_ context.Context, tenantID int64, filters masterdata.ListFilters) ([]masterdata.Item, int, error) {
	r.s.catalogMu.RLock()
	var out []masterdata.Item
	for _, it := range r.s.items {
		if it.TenantID != tenantID || !matches(filters.Search, it.Name, it.Code) {
			continue
		}
		if filters.Status != "" && it.Status != filters.Status {
			continue
		}
		if filters.CategoryID > 0 && it.CategoryID != filters.CategoryID {
			continue
		}
		out = append(out, it)
	}
	r.s.catalogMu.RUnlock()
	items, total := paginate(out, filters.Page, func(a, b masterdata.Item) bool { return a.Name < b.Name })
	return items, total, nil
}

func (r *CatalogRepo) GetItem(_ context.Context, tenantID, id int64) (masterdata.Item, error) {
	r.s.catalogMu.RLock()
	defer r.s.catalogMu.RUnlock()
	it, ok := r.s.items[id]
	if !ok || it.TenantID != tenantID {
		return masterdata.Item{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
	}
	return it, nil
}

func (r *CatalogRepo) CreateItem(_ context.Context, item masterdata.Item) (masterdata.Item, error) {
	r.s.catalogMu.Lock()
	defer r.s.catalogMu.Unlock()
	for _, existing := range r.s.items {
		if existing.TenantID == item.TenantID && existing.Code == item.Code {
			return masterdata.Item{}, masterdata.ErrDuplicateCode
		}
	}
	if item.Status == "" {
		item.Status = masterdata.StatusActive
	}
	item.ID = r.s.id()
	item.CreatedAt = time.Now().UTC()
	item.UpdatedAt = item.CreatedAt
	r.s.items[item.ID] = item
	return item, nil
}

func (r *CatalogRepo) UpdateItem(_ context.Context, item masterdata.Item) error {
	r.s.catalogMu.Lock()
	defer r.s.catalogMu.Unlock()
	cur, ok := r.s.items[item.ID]
	if !ok || cur.TenantID != item.TenantID {
		return fmt.Errorf("%w: item %d", shared.ErrNotFound, item.ID)
	}
	item.CreatedAt = cur.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	r.s.items[item.ID] = item
	return nil
}

func (r *CatalogRepo) ListVendors(_ context.Context, tenantID int64, filters masterdata.ListFilters) ([]masterdata.Vendor, int, error) {
	r.s.catalogMu.RLock()
	var out []masterdata.Vendor
	for _, v := range r.s.vendors {
		if v.TenantID == tenantID && matches(filters.Search, v.Name, v.Code) &&
			(filters.Status == "" || v.Status == filters.Status) {
			out = append(out, v)
		}
	}
	r.s.catalogMu.RUnlock()
	items, total := paginate(out, filters.Page, func(a, b masterdata.Vendor) bool { return a.Name < b.Name })
	return items, total, nil
}

func (r *CatalogRepo) GetVendor(_ context.Context, tenantID, id int64) (masterdata.Vendor, error) {
	r.s.catalogMu.RLock()
	defer r.s.catalogMu.RUnlock()
	v, ok := r.s.vendors[id]
	if !ok || v.TenantID != tenantID {
		return masterdata.Vendor{}, fmt.Errorf("%w: vendor %d", shared.ErrNotFound, id)
	}
	return v, nil
}

func (r *CatalogRepo) CreateVendor(_ context.Context, vendor masterdata.Vendor) (masterdata.Vendor, error) {
	r.s.catalogMu.Lock()
	defer r.s.catalogMu.Unlock()
	for _, existing := range r.s.vendors {
		if existing.TenantID == vendor.TenantID && existing.Code == vendor.Code {
			return masterdata.Vendor{}, masterdata.ErrDuplicateCode
		}
	}
	if vendor.Status == "" {
		vendor.Status = masterdata.StatusActive
	}
	vendor.ID = r.s.id()
	vendor.CreatedAt = time.Now().UTC()
	vendor.UpdatedAt = vendor.CreatedAt
	r.s.vendors[vendor.ID] = vendor
	return vendor, nil
}

func (r *CatalogRepo) ListWorkAreas(_ context.Context, scope shared.ScopeFilter, filters masterdata.ListFilters) ([]masterdata.WorkArea, int, error) {
	r.s.catalogMu.RLock()
	var out []masterdata.WorkArea
	for _, wa := range r.s.workAreas {
		if !inScope(scope, wa.TenantID, wa.BranchID) || !matches(filters.Search, wa.Name) {
			continue
		}
		if filters.Status != "" && wa.Status != filters.Status {
			continue
		}
		if filters.BranchID > 0 && wa.BranchID != filters.BranchID {
			continue
		}
		out = append(out, wa)
	}
	r.s.catalogMu.RUnlock()
	items, total := paginate(out, filters.Page, func(a, b masterdata.WorkArea) bool {
		if a.BranchID != b.BranchID {
			return a.BranchID < b.BranchID
		}
		return a.Name < b.Name
	})
	return items, total, nil
}

func (r *CatalogRepo) GetWorkArea(_ context.Context, tenantID, id int64) (masterdata.WorkArea, error) {
	r.s.catalogMu.RLock()
	defer r.s.catalogMu.RUnlock()
	wa, ok := r.s.workAreas[id]
	if !ok || wa.TenantID != tenantID {
		return masterdata.WorkArea{}, fmt.Errorf("%w: work area %d", shared.ErrNotFound, id)
	}
	return wa, nil
}

func (r *CatalogRepo) CreateWorkArea(_ context.Context, wa masterdata.WorkArea) (masterdata.WorkArea, error) {
	r.s.catalogMu.Lock()
	defer r.s.catalogMu.Unlock()
	if wa.Status == "" {
		wa.Status = masterdata.StatusActive
	}
	wa.ID = r.s.id()
	wa.CreatedAt = time.Now().UTC()
	wa.UpdatedAt = wa.CreatedAt
	r.s.workAreas[wa.ID] = wa
	return wa, nil
}

// IdempotencyStore keeps claimed request keys in memory.
type IdempotencyStore struct{ s *Store }

func idemKey(tenantID int64, key, module string) string {
	return fmt.Sprintf("%d|%s|%s", tenantID, module, key)
}

// CheckAndInsert claims key, failing with shared.ErrIdempotencyConflict on reuse.
func (i *IdempotencyStore) CheckAndInsert(ctx context.Context, tenantID int64, key, module string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.s.idemMu.Lock()
	defer i.s.idemMu.Unlock()
	k := idemKey(tenantID, key, module)
	if _, ok := i.s.idem[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	i.s.idem[k] = struct{}{}
	return nil
}

// Delete releases key. Like a driver call it fails once ctx is done.
func (i *IdempotencyStore) Delete(ctx context.Context, tenantID int64, key, module string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.s.idemMu.Lock()
	defer i.s.idemMu.Unlock()
	delete(i.s.idem, idemKey(tenantID, key, module))
	return nil
}
