package memstore

import (
	"context"
	"slices"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/reports"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// ReportRepo implements reports.Repository over the store and an audit log.
type ReportRepo struct {
	s     *Store
	audit *AuditLog
}

var _ reports.Repository = (*ReportRepo)(nil)

// Reports returns the read-only report view. audit may be nil.
func (s *Store) Reports(audit *AuditLog) *ReportRepo { return &ReportRepo{s: s, audit: audit} }

func (r *ReportRepo) catalog() map[int64]masterdata.Item {
	r.s.catalogMu.RLock()
	defer r.s.catalogMu.RUnlock()
	out := make(map[int64]masterdata.Item, len(r.s.items))
	for id, it := range r.s.items {
		out[id] = it
	}
	return out
}

func (r *ReportRepo) StockValue(_ context.Context, scope shared.ScopeFilter) (float64, error) {
	items := r.catalog()
	var total float64
	r.s.read(func(st *state) {
		for key, s := range st.stock {
			if inScope(scope, key.TenantID, key.BranchID) {
				total += s.Quantity * items[key.ItemID].UnitCost
			}
		}
	})
	return total, nil
}

func (r *ReportRepo) CountLowStock(_ context.Context, scope shared.ScopeFilter, threshold float64) (int, error) {
	n := 0
	r.s.read(func(st *state) {
		for key, s := range st.stock {
			if inScope(scope, key.TenantID, key.BranchID) && s.Quantity < threshold {
				n++
			}
		}
	})
	return n, nil
}

func (r *ReportRepo) CountPOs(_ context.Context, scope shared.ScopeFilter, statuses []string) (int, error) {
	n := 0
	r.s.read(func(st *state) {
		for _, po := range st.pos {
			if inScope(scope, po.TenantID, po.BranchID) && slices.Contains(statuses, string(po.Status)) {
				n++
			}
		}
	})
	return n, nil
}

func (r *ReportRepo) CountIndents(_ context.Context, scope shared.ScopeFilter, statuses []string) (int, error) {
	n := 0
	r.s.read(func(st *state) {
		for _, in := range st.indents {
			if inScope(scope, in.TenantID, in.BranchID) && slices.Contains(statuses, string(in.Status)) {
				n++
			}
		}
	})
	return n, nil
}

func (r *ReportRepo) CountActiveItems(_ context.Context, tenantID int64) (int, error) {
	n := 0
	for _, it := range r.catalog() {
		if it.TenantID == tenantID && it.Status == masterdata.StatusActive {
			n++
		}
	}
	return n, nil
}

func (r *ReportRepo) ListAudit(_ context.Context, scope shared.ScopeFilter, filter reports.AuditFilter, page shared.PageRequest) ([]reports.AuditRecord, int, error) {
	if r.audit == nil {
		return nil, 0, nil
	}
	var out []reports.AuditRecord
	for i, e := range r.audit.Entries() {
		switch {
		case !inScope(scope, e.TenantID, e.BranchID):
			continue
		case filter.PerformedBy > 0 && e.PerformedBy != filter.PerformedBy:
			continue
		case filter.Entity != "" && e.Entity != filter.Entity:
			continue
		case filter.Action != "" && e.Action != filter.Action:
			continue
		case !filter.Range.Contains(e.At):
			continue
		}
		out = append(out, reports.AuditRecord{
			ID:          int64(i + 1),
			TenantID:    e.TenantID,
			BranchID:    e.BranchID,
			PerformedBy: e.PerformedBy,
			Action:      e.Action,
			Entity:      e.Entity,
			EntityID:    e.EntityID,
			Details:     e.Details,
			OccurredAt:  e.At,
		})
	}
	items, total := paginate(out, page, func(a, b reports.AuditRecord) bool {
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.After(b.OccurredAt)
		}
		return a.ID > b.ID
	})
	return items, total, nil
}

func (r *ReportRepo) ListPOStatus(_ context.Context, scope shared.ScopeFilter, filter reports.POStatusFilter, page shared.PageRequest) ([]reports.POStatusRow, int, error) {
	var out []reports.POStatusRow
	r.s.read(func(st *state) {
		receipts := make(map[int64]int)
		for _, g := range st.grns {
			if g.POID > 0 {
				receipts[g.POID]++
			}
		}
		for _, po := range st.pos {
			switch {
			case !inScope(scope, po.TenantID, po.BranchID):
				continue
			case filter.Status != "" && string(po.Status) != filter.Status:
				continue
			case filter.VendorID > 0 && po.VendorID != filter.VendorID:
				continue
			case !filter.Range.Contains(po.CreatedAt):
				continue
			}
			out = append(out, reports.POStatusRow{
				ID:          po.ID,
				BranchID:    po.BranchID,
				Number:      po.Number,
				VendorID:    po.VendorID,
				VendorName:  po.VendorName,
				Status:      string(po.Status),
				Type:        string(po.Type),
				TotalAmount: po.TotalAmount,
				CreatedAt:   po.CreatedAt,
				ApprovedAt:  po.ApprovedAt,
				GRNCount:    receipts[po.ID],
			})
		}
	})
	items, total := paginate(out, page, func(a, b reports.POStatusRow) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return items, total, nil
}

// vendorOf resolves the vendor of a receipt's source order.
func vendorOf(st *state, g procurement.GRN) (int64, string) {
	if g.POID > 0 {
		po := st.pos[g.POID]
		return po.VendorID, po.VendorName
	}
	so := st.sos[g.SOID]
	return so.VendorID, so.VendorName
}

func (r *ReportRepo) ListGRNLines(_ context.Context, scope shared.ScopeFilter, filter reports.GRNFilter, page shared.PageRequest) ([]reports.GRNLine, int, error) {
	items := r.catalog()
	var out []reports.GRNLine
	r.s.read(func(st *state) {
		for _, gi := range st.grnItems {
			g := st.grns[gi.GRNID]
			vendorID, vendorName := vendorOf(st, g)
			item := items[gi.ItemID]
			switch {
			case !inScope(scope, g.TenantID, g.BranchID):
				continue
			case filter.VendorID > 0 && vendorID != filter.VendorID:
				continue
			case filter.OffStandard && !reports.OffStandard(gi.UnitCost, item.UnitCost):
				continue
			case !filter.Range.Contains(g.ReceivedAt):
				continue
			}
			out = append(out, reports.GRNLine{
				GRNID:           g.ID,
				GRNNumber:       g.Number,
				BranchID:        g.BranchID,
				POID:            g.POID,
				SOID:            g.SOID,
				VendorName:      vendorName,
				VendorInvoiceNo: g.VendorInvoiceNo,
				ReceivedAt:      g.ReceivedAt,
				WorkAreaID:      g.WorkAreaID,
				ItemID:          gi.ItemID,
				ItemCode:        item.Code,
				ItemName:        item.Name,
				ReceivedQty:     gi.ReceivedQty,
				UnitCost:        gi.UnitCost,
				StandardCost:    item.UnitCost,
				TaxAmount:       gi.TaxAmount,
				TotalAmount:     gi.TotalAmount,
			})
		}
	})
	lines, total := paginate(out, page, func(a, b reports.GRNLine) bool {
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.After(b.ReceivedAt)
		}
		if a.GRNID != b.GRNID {
			return a.GRNID > b.GRNID
		}
		return a.ItemID < b.ItemID
	})
	return lines, total, nil
}

func (r *ReportRepo) ListIndentIssue(_ context.Context, scope shared.ScopeFilter, filter reports.IndentIssueFilter) ([]reports.IndentIssueLine, error) {
	items := r.catalog()
	var out []reports.IndentIssueLine
	r.s.read(func(st *state) {
		for _, line := range st.indentItems {
			in := st.indents[line.IndentID]
			switch {
			case !inScope(scope, in.TenantID, in.BranchID):
				continue
			case !in.Status.Issuable() && in.Status != indent.StatusIssued:
				continue
			case filter.WorkAreaID > 0 && in.WorkAreaID != filter.WorkAreaID:
				continue
			case !filter.Range.Contains(in.IndentDate):
				continue
			}
			approved := 0.0
			if line.ApprovedQty != nil {
				approved = *line.ApprovedQty
			}
			item := items[line.ItemID]
			out = append(out, reports.IndentIssueLine{
				IndentID:     in.ID,
				BranchID:     in.BranchID,
				WorkAreaID:   in.WorkAreaID,
				IndentDate:   in.IndentDate,
				IndentStatus: string(in.Status),
				ItemID:       line.ItemID,
				ItemCode:     item.Code,
				ItemName:     item.Name,
				RequestedQty: line.RequestedQty,
				ApprovedQty:  approved,
				IssuedQty:    line.IssuedQty,
				PendingQty:   max(shared.RoundQty(approved-line.IssuedQty), 0),
			})
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].IndentID != out[j].IndentID {
			return out[i].IndentID < out[j].IndentID
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

func (r *ReportRepo) ListSupplierPurchases(_ context.Context, scope shared.ScopeFilter, rng reports.DateRange) ([]reports.SupplierPurchase, error) {
	byVendor := make(map[int64]*reports.SupplierPurchase)
	r.s.read(func(st *state) {
		for _, g := range st.grns {
			if !inScope(scope, g.TenantID, g.BranchID) || !rng.Contains(g.ReceivedAt) {
				continue
			}
			vendorID, vendorName := vendorOf(st, g)
			p, ok := byVendor[vendorID]
			if !ok {
				p = &reports.SupplierPurchase{VendorID: vendorID, VendorName: vendorName}
				byVendor[vendorID] = p
			}
			p.GRNCount++
			p.TotalAmount = shared.RoundAmount(p.TotalAmount + g.TotalAmount)
		}
	})
	out := make([]reports.SupplierPurchase, 0, len(byVendor))
	for _, p := range byVendor {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalAmount != out[j].TotalAmount {
			return out[i].TotalAmount > out[j].TotalAmount
		}
		return strings.Compare(out[i].VendorName, out[j].VendorName) < 0
	})
	return out, nil
}
