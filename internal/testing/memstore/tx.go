package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

var errAuditUnavailable = errors.New("memstore: audit sink unavailable")

// tx implements every transactional store over the locked state.
type tx struct {
	s   *Store
	now time.Time
}

func (t *tx) st() *state { return t.s.data }

// Ledger

func (t *tx) GetStockForUpdate(_ context.Context, key inventory.StockKey) (inventory.Stock, error) {
	if s, ok := t.st().stock[key]; ok {
		return s, nil
	}
	return inventory.Stock{StockKey: key}, inventory.ErrStockNotFound
}

func (t *tx) AddStock(_ context.Context, key inventory.StockKey, delta float64) (inventory.Stock, error) {
	s := t.st().stock[key]
	s.StockKey = key
	s.Quantity = shared.RoundQty(s.Quantity + delta)
	if s.Quantity < 0 {
		return inventory.Stock{}, fmt.Errorf("memstore: stock %s would go negative", key)
	}
	s.UpdatedAt = t.now
	t.st().stock[key] = s
	return s, nil
}

func (t *tx) InsertMovement(_ context.Context, m inventory.Movement) error {
	m.ID = t.s.id()
	t.st().movements = append(t.st().movements, m)
	return nil
}

// Indents

func (t *tx) CreateIndent(_ context.Context, in indent.Indent) (int64, error) {
	in.ID = t.s.id()
	in.Items = nil
	t.st().indents[in.ID] = in
	return in.ID, nil
}

func (t *tx) InsertIndentItem(_ context.Context, item indent.Item) (int64, error) {
	item.ID = t.s.id()
	item.ApprovedQty = cloneQty(item.ApprovedQty)
	t.st().indentItems[item.ID] = item
	return item.ID, nil
}

func (t *tx) GetIndentItem(_ context.Context, tenantID, lineID int64) (indent.Item, error) {
	item, ok := t.st().indentItems[lineID]
	if !ok || t.st().indents[item.IndentID].TenantID != tenantID {
		return indent.Item{}, fmt.Errorf("%w %d", indent.ErrIndentItemNotFound, lineID)
	}
	return item, nil
}

func (t *tx) GetIndentForUpdate(_ context.Context, tenantID, id int64) (indent.Indent, error) {
	in, ok := t.st().indents[id]
	if !ok || in.TenantID != tenantID {
		return indent.Indent{}, fmt.Errorf("%w %d", indent.ErrIndentNotFound, id)
	}
	return in, nil
}

func (t *tx) ListIndentItemsForUpdate(_ context.Context, indentID int64) ([]indent.Item, error) {
	return itemsOf(t.st(), indentID), nil
}

func (t *tx) UpdateIndentStatus(_ context.Context, id int64, status indent.Status) error {
	in := t.st().indents[id]
	in.Status = status
	in.UpdatedAt = t.now
	t.st().indents[id] = in
	return nil
}

func (t *tx) SetIndentPORaised(_ context.Context, id int64, raised bool) error {
	in := t.st().indents[id]
	in.IsPORaised = raised
	in.UpdatedAt = t.now
	t.st().indents[id] = in
	return nil
}

func (t *tx) SaveIndentItem(_ context.Context, item indent.Item) error {
	if _, ok := t.st().indentItems[item.ID]; !ok {
		return fmt.Errorf("%w %d", indent.ErrIndentItemNotFound, item.ID)
	}
	item.ApprovedQty = cloneQty(item.ApprovedQty)
	t.st().indentItems[item.ID] = item
	return nil
}

func (t *tx) DeleteIndentItem(_ context.Context, id int64) error {
	delete(t.st().indentItems, id)
	return nil
}

func (t *tx) InsertIssueRecord(_ context.Context, rec indent.IssueRecord) error {
	rec.ID = t.s.id()
	t.st().issueRecords = append(t.st().issueRecords, rec)
	return nil
}

// Purchase orders

func (t *tx) CreatePO(_ context.Context, po procurement.PurchaseOrder) (int64, error) {
	po.ID = t.s.id()
	po.Items = nil
	t.st().pos[po.ID] = po
	return po.ID, nil
}

func (t *tx) InsertPOItem(_ context.Context, item procurement.POItem) (int64, error) {
	item.ID = t.s.id()
	t.st().poItems[item.ID] = item
	return item.ID, nil
}

func (t *tx) GetPOForUpdate(_ context.Context, tenantID, id int64) (procurement.PurchaseOrder, error) {
	po, ok := t.st().pos[id]
	if !ok || po.TenantID != tenantID {
		return procurement.PurchaseOrder{}, fmt.Errorf("%w %d", procurement.ErrPONotFound, id)
	}
	po.Items = poItemsOf(t.st(), id)
	return po, nil
}

func (t *tx) UpdatePOHeader(_ context.Context, po procurement.PurchaseOrder) error {
	po.Items = nil
	po.UpdatedAt = t.now
	t.st().pos[po.ID] = po
	return nil
}

func (t *tx) UpdatePOItem(_ context.Context, item procurement.POItem) error {
	cur, ok := t.st().poItems[item.ID]
	if !ok {
		return fmt.Errorf("%w %d", procurement.ErrPOItemNotFound, item.ID)
	}
	cur.Quantity = item.Quantity
	cur.TotalAmount = item.TotalAmount
	t.st().poItems[item.ID] = cur
	return nil
}

func (t *tx) DeletePO(_ context.Context, id int64) error {
	for itemID, item := range t.st().poItems {
		if item.POID == id {
			delete(t.st().poItems, itemID)
		}
	}
	delete(t.st().pos, id)
	return nil
}

func (t *tx) CountActivePOsForIndent(_ context.Context, indentID, excludePOID int64) (int, error) {
	active := make(map[int64]struct{})
	for _, item := range t.st().poItems {
		if item.IndentID != indentID || item.POID == excludePOID {
			continue
		}
		if po, ok := t.st().pos[item.POID]; ok && po.Status.Active() {
			active[po.ID] = struct{}{}
		}
	}
	return len(active), nil
}

// Special orders

func (t *tx) CreateSO(_ context.Context, so procurement.SpecialOrder) (int64, error) {
	so.ID = t.s.id()
	so.Items = nil
	t.st().sos[so.ID] = so
	return so.ID, nil
}

func (t *tx) InsertSOItem(_ context.Context, item procurement.SOItem) (int64, error) {
	item.ID = t.s.id()
	t.st().soItems[item.ID] = item
	return item.ID, nil
}

func (t *tx) GetSOForUpdate(_ context.Context, tenantID, id int64) (procurement.SpecialOrder, error) {
	so, ok := t.st().sos[id]
	if !ok || so.TenantID != tenantID {
		return procurement.SpecialOrder{}, fmt.Errorf("%w %d", procurement.ErrSONotFound, id)
	}
	return so, nil
}

func (t *tx) UpdateSOHeader(_ context.Context, so procurement.SpecialOrder) error {
	so.Items = nil
	t.st().sos[so.ID] = so
	return nil
}

// Receipts and returns

func (t *tx) CreateGRN(_ context.Context, grn procurement.GRN) (int64, error) {
	grn.ID = t.s.id()
	grn.Items = nil
	t.st().grns[grn.ID] = grn
	return grn.ID, nil
}

func (t *tx) InsertGRNItem(_ context.Context, item procurement.GRNItem) (int64, error) {
	item.ID = t.s.id()
	t.st().grnItems[item.ID] = item
	return item.ID, nil
}

func (t *tx) GetGRNForUpdate(_ context.Context, tenantID, id int64) (procurement.GRN, error) {
	grn, ok := t.st().grns[id]
	if !ok || grn.TenantID != tenantID {
		return procurement.GRN{}, fmt.Errorf("%w %d", procurement.ErrGRNNotFound, id)
	}
	return grn, nil
}

func (t *tx) LockGRNItems(_ context.Context, grnID, itemID int64) ([]procurement.GRNItem, error) {
	var out []procurement.GRNItem
	for _, item := range grnItemsOf(t.st(), grnID) {
		if item.ItemID == itemID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (t *tx) SumReturned(_ context.Context, grnID, itemID int64) (float64, error) {
	var sum float64
	for _, r := range t.st().rtvs {
		if r.GRNID == grnID && r.ItemID == itemID {
			sum += r.ReturnedQty
		}
	}
	return shared.RoundQty(sum), nil
}

func (t *tx) InsertRTV(_ context.Context, rtv procurement.RTV) (int64, error) {
	rtv.ID = t.s.id()
	t.st().rtvs[rtv.ID] = rtv
	return rtv.ID, nil
}

func cloneQty(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func itemsOf(st *state, indentID int64) []indent.Item {
	var out []indent.Item
	for _, item := range st.indentItems {
		if item.IndentID == indentID {
			item.ApprovedQty = cloneQty(item.ApprovedQty)
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func poItemsOf(st *state, poID int64) []procurement.POItem {
	var out []procurement.POItem
	for _, item := range st.poItems {
		if item.POID == poID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func soItemsOf(st *state, soID int64) []procurement.SOItem {
	var out []procurement.SOItem
	for _, item := range st.soItems {
		if item.SOID == soID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func grnItemsOf(st *state, grnID int64) []procurement.GRNItem {
	var out []procurement.GRNItem
	for _, item := range st.grnItems {
		if item.GRNID == grnID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
