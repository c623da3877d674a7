// Package memstore is an in-memory persistence layer for service tests. All
// transactions are serialised on one mutex and roll back to a snapshot when
// the callback fails, which mirrors the all-or-nothing contract of db.WithTx.
package memstore

import (
	"context"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type state struct {
	stock        map[inventory.StockKey]inventory.Stock
	movements    []inventory.Movement
	indents      map[int64]indent.Indent
	indentItems  map[int64]indent.Item
	issueRecords []indent.IssueRecord
	pos          map[int64]procurement.PurchaseOrder
	poItems      map[int64]procurement.POItem
	sos          map[int64]procurement.SpecialOrder
	soItems      map[int64]procurement.SOItem
	grns         map[int64]procurement.GRN
	grnItems     map[int64]procurement.GRNItem
	rtvs         map[int64]procurement.RTV
}

func newState() *state {
	return &state{
		stock:       make(map[inventory.StockKey]inventory.Stock),
		indents:     make(map[int64]indent.Indent),
		indentItems: make(map[int64]indent.Item),
		pos:         make(map[int64]procurement.PurchaseOrder),
		poItems:     make(map[int64]procurement.POItem),
		sos:         make(map[int64]procurement.SpecialOrder),
		soItems:     make(map[int64]procurement.SOItem),
		grns:        make(map[int64]procurement.GRN),
		grnItems:    make(map[int64]procurement.GRNItem),
		rtvs:        make(map[int64]procurement.RTV),
	}
}

func (s *state) clone() *state {
	return &state{
		stock:        maps.Clone(s.stock),
		movements:    append([]inventory.Movement(nil), s.movements...),
		indents:      maps.Clone(s.indents),
		indentItems:  maps.Clone(s.indentItems),
		issueRecords: append([]indent.IssueRecord(nil), s.issueRecords...),
		pos:          maps.Clone(s.pos),
		poItems:      maps.Clone(s.poItems),
		sos:          maps.Clone(s.sos),
		soItems:      maps.Clone(s.soItems),
		grns:         maps.Clone(s.grns),
		grnItems:     maps.Clone(s.grnItems),
		rtvs:         maps.Clone(s.rtvs),
	}
}

// Store holds every table used by the stock services.
type Store struct {
	mu   sync.Mutex
	data *state

	// catalogMu guards master data separately so catalog lookups made inside a
	// transaction never wait on the transaction mutex.
	catalogMu sync.RWMutex
	items     map[int64]masterdata.Item
	vendors   map[int64]masterdata.Vendor
	workAreas map[int64]masterdata.WorkArea

	idemMu sync.Mutex
	idem   map[string]struct{}

	nextID atomic.Int64
	txs    atomic.Int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		data:      newState(),
		items:     make(map[int64]masterdata.Item),
		vendors:   make(map[int64]masterdata.Vendor),
		workAreas: make(map[int64]masterdata.WorkArea),
		idem:      make(map[string]struct{}),
	}
}

func (s *Store) id() int64 {
	return s.nextID.Add(1)
}

// Transactions reports how many transactions committed or rolled back.
func (s *Store) Transactions() int64 {
	return s.txs.Load()
}

func (s *Store) withTx(ctx context.Context, fn func(*tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs.Add(1)
	snapshot := s.data.clone()
	if err := fn(&tx{s: s, now: time.Now().UTC()}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) read(fn func(*state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.data)
}

// Balance returns the ledger quantity at key.
func (s *Store) Balance(key inventory.StockKey) float64 {
	var qty float64
	s.read(func(st *state) { qty = st.stock[key].Quantity })
	return qty
}

// Movements returns a copy of the journal.
func (s *Store) Movements() []inventory.Movement {
	var out []inventory.Movement
	s.read(func(st *state) { out = append(out, st.movements...) })
	return out
}

// SeedStock writes a ledger row and its opening movement directly.
func (s *Store) SeedStock(key inventory.StockKey, qty float64) {
	s.read(func(st *state) {
		cur := st.stock[key]
		cur.StockKey = key
		cur.Quantity = shared.RoundQty(cur.Quantity + qty)
		cur.UpdatedAt = time.Now().UTC()
		st.stock[key] = cur
		st.movements = append(st.movements, inventory.Movement{
			ID:           s.id(),
			StockKey:     key,
			Type:         inventory.MovementAdjust,
			Qty:          qty,
			BalanceAfter: cur.Quantity,
			RefModule:    "SEED",
			PostedAt:     cur.UpdatedAt,
		})
	})
}

// CorruptStock overwrites a balance without a movement, producing drift.
func (s *Store) CorruptStock(key inventory.StockKey, qty float64) {
	s.read(func(st *state) {
		cur := st.stock[key]
		cur.StockKey = key
		cur.Quantity = qty
		st.stock[key] = cur
	})
}

// Inventory returns the ledger repository view.
func (s *Store) Inventory() *InventoryRepo { return &InventoryRepo{s: s} }

// Indents returns the indent repository view, which also reads the pool.
func (s *Store) Indents() *IndentRepo { return &IndentRepo{s: s} }

// Procurement returns the procurement repository view.
func (s *Store) Procurement() *ProcurementRepo { return &ProcurementRepo{s: s} }

// Catalog returns the master data repository view.
func (s *Store) Catalog() *CatalogRepo { return &CatalogRepo{s: s} }

// Idempotency returns the request key store.
func (s *Store) Idempotency() *IdempotencyStore { return &IdempotencyStore{s: s} }

// paginate slices items for page after sorting with less.
func paginate[T any](items []T, page shared.PageRequest, less func(a, b T) bool) ([]T, int) {
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
	total := len(items)
	start := page.Offset()
	if start >= total {
		return nil, total
	}
	end := min(start+page.Limit(), total)
	return items[start:end], total
}

// AuditLog captures audit entries in memory. Set Fail to simulate a broken sink.
type AuditLog struct {
	mu      sync.Mutex
	entries []shared.AuditEntry
	Fail    bool
}

// Append implements shared.AuditSink.
func (a *AuditLog) Append(_ context.Context, entry shared.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Fail {
		return errAuditUnavailable
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	a.entries = append(a.entries, entry)
	return nil
}

// Actions lists recorded actions in order.
func (a *AuditLog) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

// Entries returns a copy of the recorded entries.
func (a *AuditLog) Entries() []shared.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]shared.AuditEntry(nil), a.entries...)
}

// AddItem registers an active catalog item and returns its ID.
func (s *Store) AddItem(tenantID int64, code, name string, unitCost, taxRate float64) int64 {
	item, err := s.Catalog().CreateItem(context.Background(), masterdata.Item{
		TenantID: tenantID,
		Code:     code,
		Name:     name,
		UnitCost: unitCost,
		TaxRate:  taxRate,
	})
	if err != nil {
		panic(err)
	}
	return item.ID
}

// AddVendor registers an active vendor and returns its ID.
func (s *Store) AddVendor(tenantID int64, code, name string) int64 {
	vendor, err := s.Catalog().CreateVendor(context.Background(), masterdata.Vendor{TenantID: tenantID, Code: code, Name: name})
	if err != nil {
		panic(err)
	}
	return vendor.ID
}

// AddWorkArea registers an active work area under branchID and returns its ID.
func (s *Store) AddWorkArea(tenantID, branchID int64, name string) int64 {
	wa, err := s.Catalog().CreateWorkArea(context.Background(), masterdata.WorkArea{TenantID: tenantID, BranchID: branchID, Name: name})
	if err != nil {
		panic(err)
	}
	return wa.ID
}

// IndentItem reads one indent line as currently committed.
func (s *Store) IndentItem(id int64) indent.Item {
	var item indent.Item
	s.read(func(st *state) { item = st.indentItems[id] })
	item.ApprovedQty = cloneQty(item.ApprovedQty)
	return item
}

// IndentHeader reads one indent header as currently committed.
func (s *Store) IndentHeader(id int64) indent.Indent {
	var in indent.Indent
	s.read(func(st *state) { in = st.indents[id] })
	return in
}
