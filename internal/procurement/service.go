package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, tenantID, id int64) (PurchaseOrder, error)
	ListPOs(ctx context.Context, scope shared.ScopeFilter, filters POFilters, page shared.PageRequest) ([]PurchaseOrder, int, error)
	GetSO(ctx context.Context, tenantID, id int64) (SpecialOrder, error)
	ListSOs(ctx context.Context, scope shared.ScopeFilter, filters SOFilters, page shared.PageRequest) ([]SpecialOrder, int, error)
	GetGRN(ctx context.Context, tenantID, id int64) (GRN, error)
	ListGRNs(ctx context.Context, scope shared.ScopeFilter, filters GRNFilters, page shared.PageRequest) ([]GRN, int, error)
	ListRTVs(ctx context.Context, scope shared.ScopeFilter, filters RTVFilters, page shared.PageRequest) ([]RTV, int, error)
}

// TxRepository exposes transactional operations. The indent and ledger stores
// share the procurement transaction so every linkage write commits with it.
type TxRepository interface {
	indent.TxStore
	inventory.TxStore

	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOItem(ctx context.Context, item POItem) (int64, error)
	// GetPOForUpdate row-locks the order and loads its lines.
	GetPOForUpdate(ctx context.Context, tenantID, id int64) (PurchaseOrder, error)
	UpdatePOHeader(ctx context.Context, po PurchaseOrder) error
	UpdatePOItem(ctx context.Context, item POItem) error
	DeletePO(ctx context.Context, id int64) error
	// CountActivePOsForIndent counts non-terminal orders other than excludePOID
	// holding lines of the indent.
	CountActivePOsForIndent(ctx context.Context, indentID, excludePOID int64) (int, error)

	CreateSO(ctx context.Context, so SpecialOrder) (int64, error)
	InsertSOItem(ctx context.Context, item SOItem) (int64, error)
	GetSOForUpdate(ctx context.Context, tenantID, id int64) (SpecialOrder, error)
	UpdateSOHeader(ctx context.Context, so SpecialOrder) error

	CreateGRN(ctx context.Context, grn GRN) (int64, error)
	InsertGRNItem(ctx context.Context, item GRNItem) (int64, error)
	GetGRNForUpdate(ctx context.Context, tenantID, id int64) (GRN, error)
	// LockGRNItems row-locks the receipt's lines for one item.
	LockGRNItems(ctx context.Context, grnID, itemID int64) ([]GRNItem, error)
	SumReturned(ctx context.Context, grnID, itemID int64) (float64, error)
	InsertRTV(ctx context.Context, rtv RTV) (int64, error)
}

// Service orchestrates purchase orders, special orders, receipts and returns.
type Service struct {
	repo        RepositoryPort
	catalog     ItemCatalog
	vendors     VendorDirectory
	workAreas   shared.WorkAreaDirectory
	idempotency IdempotencyPort
	audit       shared.AuditSink
	logger      *slog.Logger
	now         func() time.Time
}

// Dependencies groups the collaborators of Service. Only Repo is required.
type Dependencies struct {
	Repo        RepositoryPort
	Catalog     ItemCatalog
	Vendors     VendorDirectory
	WorkAreas   shared.WorkAreaDirectory
	Idempotency IdempotencyPort
	Audit       shared.AuditSink
	Logger      *slog.Logger
}

// NewService constructs procurement service.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        deps.Repo,
		catalog:     deps.Catalog,
		vendors:     deps.Vendors,
		workAreas:   deps.WorkAreas,
		idempotency: deps.Idempotency,
		audit:       deps.Audit,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// resolvedLine is a validated PO line with its cost and tax settled.
type resolvedLine struct {
	POLineInput
	unitCost float64
	taxRate  float64
}

// CreatePO records a PENDING purchase order. Lines that reference indent demand
// mark their indent as raised and move onto the order in the same transaction.
func (s *Service) CreatePO(ctx context.Context, rc shared.RequestContext, input CreatePOInput) (PurchaseOrder, error) {
	if _, err := rc.RequireBranch(); err != nil {
		return PurchaseOrder{}, err
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, shared.Validationf("purchase order requires at least one line")
	}
	poType := POType(strings.ToUpper(strings.TrimSpace(string(input.Type))))
	if poType == "" {
		poType = POTypeStandard
	}
	if poType != POTypeStandard && poType != POTypeSpecial {
		return PurchaseOrder{}, shared.Validationf("unknown purchase order type %q", input.Type)
	}
	vendorName, err := s.resolveVendor(ctx, rc.TenantID, input.VendorID, input.VendorName)
	if err != nil {
		return PurchaseOrder{}, err
	}

	lines := make([]resolvedLine, 0, len(input.Lines))
	seen := make(map[int64]struct{})
	linked := false
	for i, line := range input.Lines {
		resolved, err := s.resolveLine(ctx, rc.TenantID, i+1, line)
		if err != nil {
			return PurchaseOrder{}, err
		}
		if line.IndentItemID > 0 {
			if _, dup := seen[line.IndentItemID]; dup {
				return PurchaseOrder{}, shared.Validationf("indent item %d appears twice", line.IndentItemID)
			}
			seen[line.IndentItemID] = struct{}{}
			linked = true
		}
		lines = append(lines, resolved)
	}
	if !linked {
		if _, err := rc.BranchForCreate(); err != nil {
			return PurchaseOrder{}, err
		}
	}

	po := PurchaseOrder{
		TenantID:     rc.TenantID,
		BranchID:     rc.BranchID,
		VendorID:     input.VendorID,
		VendorName:   vendorName,
		CreatedBy:    rc.ActorID(),
		DeliveryDate: input.DeliveryDate,
		Status:       POStatusPending,
		Type:         poType,
		Note:         strings.TrimSpace(input.Note),
	}
	var created PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := s.lockLinkedIndents(ctx, tx, rc, lines)
		if err != nil {
			return err
		}
		for _, id := range locked.order {
			if locked.indents[id].IsPORaised {
				return fmt.Errorf("%w: indent %d", shared.ErrDuplicateProcurement, id)
			}
		}
		for _, id := range locked.order {
			in := locked.indents[id]
			if !in.Status.Issuable() {
				return shared.InvalidStatef("indent %d is %s, only APPROVED or PARTIALLY_ISSUED indents can be procured", id, in.Status)
			}
		}
		for _, line := range lines {
			if line.IndentItemID == 0 {
				continue
			}
			item := locked.items[line.IndentItemID]
			if item.ProcurementStatus != indent.ProcurementPending {
				return shared.InvalidStatef("indent item %d is %s, only PENDING lines can be placed on a purchase order", item.ID, item.ProcurementStatus)
			}
			if line.ItemID != item.ItemID {
				return shared.Validationf("indent item %d is for item %d, not %d", item.ID, item.ItemID, line.ItemID)
			}
		}
		order := po
		if branch, err := locked.branch(rc); err != nil {
			return err
		} else if branch > 0 {
			order.BranchID = branch
		}
		created, err = s.insertPO(ctx, tx, order, lines, locked)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, rc, created.BranchID, "PO_CREATE", "purchase_order", created.ID, map[string]any{
		"number": created.Number,
		"lines":  len(created.Items),
		"total":  created.TotalAmount,
	})
	return created, nil
}

// CreatePOFromIndentItems converts pooled indent lines into a DRAFT purchase
// order. Each line defaults to its pool quantity.
func (s *Service) CreatePOFromIndentItems(ctx context.Context, rc shared.RequestContext, input FromPoolInput) (PurchaseOrder, error) {
	if _, err := rc.RequireBranch(); err != nil {
		return PurchaseOrder{}, err
	}
	if len(input.Items) == 0 {
		return PurchaseOrder{}, shared.Validationf("select at least one indent item")
	}
	seen := make(map[int64]struct{}, len(input.Items))
	for _, pick := range input.Items {
		if pick.IndentItemID <= 0 {
			return PurchaseOrder{}, shared.Validationf("invalid indent item ID")
		}
		if _, dup := seen[pick.IndentItemID]; dup {
			return PurchaseOrder{}, shared.Validationf("indent item %d appears twice", pick.IndentItemID)
		}
		seen[pick.IndentItemID] = struct{}{}
		if pick.Quantity != nil && *pick.Quantity <= 0 {
			return PurchaseOrder{}, shared.Validationf("quantity for indent item %d must be positive", pick.IndentItemID)
		}
	}
	vendorName, err := s.resolveVendor(ctx, rc.TenantID, input.VendorID, input.VendorName)
	if err != nil {
		return PurchaseOrder{}, err
	}

	po := PurchaseOrder{
		TenantID:     rc.TenantID,
		BranchID:     rc.BranchID,
		VendorID:     input.VendorID,
		VendorName:   vendorName,
		CreatedBy:    rc.ActorID(),
		DeliveryDate: input.DeliveryDate,
		Status:       POStatusDraft,
		Type:         POTypeStandard,
		Note:         strings.TrimSpace(input.Note),
	}
	var created PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		picks := make([]resolvedLine, 0, len(input.Items))
		for _, pick := range input.Items {
			picks = append(picks, resolvedLine{POLineInput: POLineInput{IndentItemID: pick.IndentItemID}})
		}
		locked, err := s.lockLinkedIndents(ctx, tx, rc, picks)
		if err != nil {
			return err
		}
		lines := make([]resolvedLine, 0, len(input.Items))
		for _, pick := range input.Items {
			item := locked.items[pick.IndentItemID]
			if item.ProcurementStatus != indent.ProcurementPending {
				return shared.InvalidStatef("indent item %d is %s, it has already been pooled", item.ID, item.ProcurementStatus)
			}
			in := locked.indents[item.IndentID]
			if !in.Status.Issuable() {
				return shared.InvalidStatef("indent %d is %s, only APPROVED or PARTIALLY_ISSUED indents can be procured", in.ID, in.Status)
			}
			if in.IsPORaised {
				return fmt.Errorf("%w: indent %d", shared.ErrDuplicateProcurement, in.ID)
			}
			qty := indent.ResolvePoolQty(item)
			if pick.Quantity != nil {
				qty = shared.RoundQty(*pick.Quantity)
			}
			if qty <= 0 {
				return shared.Validationf("indent item %d has no quantity left to procure", item.ID)
			}
			line := resolvedLine{POLineInput: POLineInput{ItemID: item.ItemID, Quantity: qty, IndentItemID: item.ID}}
			if err := s.applyCatalogDefaults(ctx, rc.TenantID, &line); err != nil {
				return err
			}
			lines = append(lines, line)
		}
		order := po
		if branch, err := locked.branch(rc); err != nil {
			return err
		} else if branch > 0 {
			order.BranchID = branch
		}
		created, err = s.insertPO(ctx, tx, order, lines, locked)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, rc, created.BranchID, "PO_CREATE_FROM_POOL", "purchase_order", created.ID, map[string]any{
		"number": created.Number,
		"lines":  len(created.Items),
		"total":  created.TotalAmount,
	})
	return created, nil
}

// ApprovePO moves a PENDING or DRAFT order to APPROVED.
func (s *Service) ApprovePO(ctx context.Context, rc shared.RequestContext, id int64) (PurchaseOrder, error) {
	po, err := s.mutatePO(ctx, rc, id, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		if !po.Status.Editable() {
			return shared.InvalidStatef("purchase order %d is %s, only PENDING or DRAFT orders can be approved", po.ID, po.Status)
		}
		at := s.now()
		po.Status = POStatusApproved
		po.ApprovedBy = rc.ActorID()
		po.ApprovedAt = &at
		return tx.UpdatePOHeader(ctx, *po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, rc, po.BranchID, "PO_APPROVE", "purchase_order", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

// RevertPO returns an APPROVED order to PENDING.
func (s *Service) RevertPO(ctx context.Context, rc shared.RequestContext, id int64) (PurchaseOrder, error) {
	po, err := s.mutatePO(ctx, rc, id, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		if po.Status != POStatusApproved {
			return shared.InvalidStatef("purchase order %d is %s, only APPROVED orders can be reverted", po.ID, po.Status)
		}
		po.Status = POStatusPending
		po.ApprovedBy = 0
		po.ApprovedAt = nil
		return tx.UpdatePOHeader(ctx, *po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, rc, po.BranchID, "PO_REVERT", "purchase_order", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

// UpdatePO changes the vendor or delivery date of an editable order.
func (s *Service) UpdatePO(ctx context.Context, rc shared.RequestContext, id int64, input UpdatePOInput) (PurchaseOrder, error) {
	vendorName, err := s.resolveVendor(ctx, rc.TenantID, input.VendorID, input.VendorName)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po, err := s.mutatePO(ctx, rc, id, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		if !po.Status.Editable() {
			return shared.InvalidStatef("purchase order %d is %s, only PENDING or DRAFT orders can be edited", po.ID, po.Status)
		}
		po.VendorID = input.VendorID
		po.VendorName = vendorName
		po.DeliveryDate = input.DeliveryDate
		return tx.UpdatePOHeader(ctx, *po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, rc, po.BranchID, "PO_UPDATE", "purchase_order", po.ID, map[string]any{"vendor": vendorName})
	return po, nil
}

// CancelPO terminally cancels an editable order and returns its indent demand to the pool.
func (s *Service) CancelPO(ctx context.Context, rc shared.RequestContext, id int64) (PurchaseOrder, error) {
	po, err := s.mutatePO(ctx, rc, id, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		if !po.Status.Editable() {
			return shared.InvalidStatef("purchase order %d is %s, only PENDING or DRAFT orders can be cancelled", po.ID, po.Status)
		}
		if err := releaseLinkage(ctx, tx, rc, *po); err != nil {
			return err
		}
		po.Status = POStatusCancelled
		return tx.UpdatePOHeader(ctx, *po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, rc, po.BranchID, "PO_CANCEL", "purchase_order", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

// DeletePO removes an editable order with its lines and returns its indent demand to the pool.
func (s *Service) DeletePO(ctx context.Context, rc shared.RequestContext, id int64) error {
	po, err := s.mutatePO(ctx, rc, id, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		if !po.Status.Editable() {
			return shared.InvalidStatef("purchase order %d is %s, only PENDING or DRAFT orders can be deleted", po.ID, po.Status)
		}
		if err := releaseLinkage(ctx, tx, rc, *po); err != nil {
			return err
		}
		return tx.DeletePO(ctx, po.ID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, rc, po.BranchID, "PO_DELETE", "purchase_order", po.ID, map[string]any{"number": po.Number})
	return nil
}

// PatchItemQuantity changes one line's quantity on an editable order, keeping
// the order total and the linked indent line in step.
func (s *Service) PatchItemQuantity(ctx context.Context, rc shared.RequestContext, poID, poItemID int64, qty float64) (PurchaseOrder, error) {
	if qty <= 0 {
		return PurchaseOrder{}, shared.Validationf("quantity must be positive")
	}
	qty = shared.RoundQty(qty)
	var previous float64
	po, err := s.mutatePO(ctx, rc, poID, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		if !po.Status.Editable() {
			return shared.InvalidStatef("purchase order %d is %s, only PENDING or DRAFT orders can be edited", po.ID, po.Status)
		}
		idx := -1
		for i := range po.Items {
			if po.Items[i].ID == poItemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w %d", ErrPOItemNotFound, poItemID)
		}
		line := &po.Items[idx]
		previous = line.Quantity
		delta := shared.RoundQty(qty - line.Quantity)
		if line.IndentItemID > 0 && delta != 0 {
			_, items, err := indent.LockForUpdate(ctx, tx, rc, line.IndentID)
			if err != nil {
				return err
			}
			for i := range items {
				if items[i].ID != line.IndentItemID {
					continue
				}
				items[i].POQty = shared.RoundQty(max(0, items[i].POQty+delta))
				if err := tx.SaveIndentItem(ctx, items[i]); err != nil {
					return err
				}
			}
		}
		line.Quantity = qty
		line.TotalAmount = POLineTotal(qty, line.UnitCost, line.TaxRate)
		if err := tx.UpdatePOItem(ctx, *line); err != nil {
			return err
		}
		po.TotalAmount = sumPO(po.Items)
		return tx.UpdatePOHeader(ctx, *po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, rc, po.BranchID, "PO_ITEM_QUANTITY_PATCH", "purchase_order", po.ID, map[string]any{
		"po_item_id": poItemID,
		"from":       previous,
		"to":         qty,
	})
	return po, nil
}

// GetPO returns a purchase order with its lines.
func (s *Service) GetPO(ctx context.Context, rc shared.RequestContext, id int64) (PurchaseOrder, error) {
	if id <= 0 {
		return PurchaseOrder{}, shared.Validationf("invalid purchase order ID")
	}
	po, err := s.repo.GetPO(ctx, rc.TenantID, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !rc.CanSeeBranch(po.BranchID) {
		return PurchaseOrder{}, fmt.Errorf("%w %d", ErrPONotFound, id)
	}
	return po, nil
}

// ListPOs pages purchase orders inside the caller's scope.
func (s *Service) ListPOs(ctx context.Context, rc shared.RequestContext, filters POFilters, page shared.PageRequest) ([]PurchaseOrder, int, error) {
	scope := rc.Scope()
	if scope.Empty() {
		return nil, 0, nil
	}
	return s.repo.ListPOs(ctx, scope, filters, page.Normalize())
}

func (s *Service) mutatePO(ctx context.Context, rc shared.RequestContext, id int64, fn func(context.Context, TxRepository, *PurchaseOrder) error) (PurchaseOrder, error) {
	if _, err := rc.RequireBranch(); err != nil {
		return PurchaseOrder{}, err
	}
	if id <= 0 {
		return PurchaseOrder{}, shared.Validationf("invalid purchase order ID")
	}
	var result PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, rc.TenantID, id)
		if err != nil {
			return err
		}
		if !rc.CanSeeBranch(po.BranchID) {
			return fmt.Errorf("%w %d", ErrPONotFound, id)
		}
		if err := fn(ctx, tx, &po); err != nil {
			return err
		}
		result = po
		return nil
	})
	return result, err
}

// lockedIndents holds the indents touched by a purchase order, locked in ID order.
type lockedIndents struct {
	order   []int64
	indents map[int64]indent.Indent
	items   map[int64]indent.Item
}

// branch returns the single branch of the locked indents. Zero means none were locked.
func (l lockedIndents) branch(rc shared.RequestContext) (int64, error) {
	var branch int64
	for _, id := range l.order {
		b := l.indents[id].BranchID
		if branch != 0 && b != branch {
			return 0, shared.Validationf("a purchase order cannot span indents from different branches")
		}
		branch = b
	}
	if branch != 0 && rc.BranchID != 0 && branch != rc.BranchID {
		return 0, fmt.Errorf("%w: branch %d", indent.ErrIndentNotFound, branch)
	}
	return branch, nil
}

func (s *Service) lockLinkedIndents(ctx context.Context, tx TxRepository, rc shared.RequestContext, lines []resolvedLine) (lockedIndents, error) {
	out := lockedIndents{indents: make(map[int64]indent.Indent), items: make(map[int64]indent.Item)}
	lineIndent := make(map[int64]int64)
	for _, line := range lines {
		if line.IndentItemID == 0 {
			continue
		}
		item, err := tx.GetIndentItem(ctx, rc.TenantID, line.IndentItemID)
		if err != nil {
			return lockedIndents{}, err
		}
		lineIndent[line.IndentItemID] = item.IndentID
		if _, ok := out.indents[item.IndentID]; !ok {
			out.indents[item.IndentID] = indent.Indent{}
			out.order = append(out.order, item.IndentID)
		}
	}
	sort.Slice(out.order, func(i, j int) bool { return out.order[i] < out.order[j] })
	for _, id := range out.order {
		in, items, err := indent.LockForUpdate(ctx, tx, rc, id)
		if err != nil {
			return lockedIndents{}, err
		}
		out.indents[id] = in
		for _, item := range items {
			out.items[item.ID] = item
		}
	}
	for lineID, indentID := range lineIndent {
		item, ok := out.items[lineID]
		if !ok || item.IndentID != indentID {
			return lockedIndents{}, fmt.Errorf("%w %d", indent.ErrIndentItemNotFound, lineID)
		}
	}
	return out, nil
}

func (s *Service) insertPO(ctx context.Context, tx TxRepository, po PurchaseOrder, lines []resolvedLine, locked lockedIndents) (PurchaseOrder, error) {
	if po.BranchID == 0 {
		return PurchaseOrder{}, shared.Validationf("branch is required to create records")
	}
	now := s.now()
	po.Number = generateNumber("PO", now)
	po.CreatedAt = now
	po.UpdatedAt = now
	po.Items = make([]POItem, 0, len(lines))
	for _, line := range lines {
		item := POItem{
			ItemID:       line.ItemID,
			ItemName:     strings.TrimSpace(line.ItemName),
			IndentItemID: line.IndentItemID,
			Quantity:     shared.RoundQty(line.Quantity),
			UnitCost:     line.unitCost,
			TaxRate:      line.taxRate,
		}
		if line.IndentItemID > 0 {
			item.IndentID = locked.items[line.IndentItemID].IndentID
		}
		item.TotalAmount = POLineTotal(item.Quantity, item.UnitCost, item.TaxRate)
		po.Items = append(po.Items, item)
	}
	po.TotalAmount = sumPO(po.Items)

	id, err := tx.CreatePO(ctx, po)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.ID = id
	for i := range po.Items {
		po.Items[i].POID = id
		itemID, err := tx.InsertPOItem(ctx, po.Items[i])
		if err != nil {
			return PurchaseOrder{}, err
		}
		po.Items[i].ID = itemID
		if po.Items[i].IndentItemID == 0 {
			continue
		}
		line := locked.items[po.Items[i].IndentItemID]
		line.POQty = shared.RoundQty(line.POQty + po.Items[i].Quantity)
		line.ProcurementStatus = indent.ProcurementInPO
		if err := tx.SaveIndentItem(ctx, line); err != nil {
			return PurchaseOrder{}, err
		}
		locked.items[line.ID] = line
	}
	for _, indentID := range locked.order {
		if err := tx.SetIndentPORaised(ctx, indentID, true); err != nil {
			return PurchaseOrder{}, err
		}
	}
	return po, nil
}

// releaseLinkage returns the order's indent quantities to the pool. Lines whose
// PO quantity drops to zero go back to PENDING, and an indent is no longer
// raised once no other active order references it.
func releaseLinkage(ctx context.Context, tx TxRepository, rc shared.RequestContext, po PurchaseOrder) error {
	byIndent := make(map[int64]map[int64]float64)
	var order []int64
	for _, item := range po.Items {
		if item.IndentItemID == 0 {
			continue
		}
		if _, ok := byIndent[item.IndentID]; !ok {
			byIndent[item.IndentID] = make(map[int64]float64)
			order = append(order, item.IndentID)
		}
		byIndent[item.IndentID][item.IndentItemID] += item.Quantity
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, indentID := range order {
		_, items, err := indent.LockForUpdate(ctx, tx, rc, indentID)
		if err != nil {
			return err
		}
		for i := range items {
			qty, ok := byIndent[indentID][items[i].ID]
			if !ok {
				continue
			}
			items[i].POQty = shared.RoundQty(max(0, items[i].POQty-qty))
			if items[i].POQty == 0 && items[i].ProcurementStatus == indent.ProcurementInPO {
				items[i].ProcurementStatus = indent.ProcurementPending
			}
			if err := tx.SaveIndentItem(ctx, items[i]); err != nil {
				return err
			}
		}
		active, err := tx.CountActivePOsForIndent(ctx, indentID, po.ID)
		if err != nil {
			return err
		}
		if active == 0 {
			if err := tx.SetIndentPORaised(ctx, indentID, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) resolveLine(ctx context.Context, tenantID int64, n int, line POLineInput) (resolvedLine, error) {
	if line.ItemID <= 0 && strings.TrimSpace(line.ItemName) == "" {
		return resolvedLine{}, shared.Validationf("line %d: item or item name is required", n)
	}
	if line.Quantity <= 0 {
		return resolvedLine{}, shared.Validationf("line %d: quantity must be positive", n)
	}
	if line.UnitCost != nil && *line.UnitCost < 0 {
		return resolvedLine{}, shared.Validationf("line %d: unit cost must be >= 0", n)
	}
	if line.TaxRate != nil && (*line.TaxRate < 0 || *line.TaxRate > 100) {
		return resolvedLine{}, shared.Validationf("line %d: tax rate must be within 0-100", n)
	}
	if line.IndentItemID < 0 {
		return resolvedLine{}, shared.Validationf("line %d: invalid indent item ID", n)
	}
	if line.IndentItemID > 0 && line.ItemID <= 0 {
		return resolvedLine{}, shared.Validationf("line %d: indent-linked lines must name the catalog item", n)
	}
	resolved := resolvedLine{POLineInput: line}
	if line.ItemID <= 0 {
		if line.UnitCost == nil {
			return resolvedLine{}, shared.Validationf("line %d: ad-hoc lines need an explicit unit cost", n)
		}
		resolved.unitCost = *line.UnitCost
		if line.TaxRate != nil {
			resolved.taxRate = *line.TaxRate
		}
		return resolved, nil
	}
	if err := s.applyCatalogDefaults(ctx, tenantID, &resolved); err != nil {
		return resolvedLine{}, err
	}
	return resolved, nil
}

// applyCatalogDefaults fills cost, tax and name from the item master where the
// line leaves them unset.
func (s *Service) applyCatalogDefaults(ctx context.Context, tenantID int64, line *resolvedLine) error {
	if line.UnitCost != nil {
		line.unitCost = *line.UnitCost
	}
	if line.TaxRate != nil {
		line.taxRate = *line.TaxRate
	}
	if s.catalog == nil {
		if line.UnitCost == nil {
			return shared.Validationf("item %d: unit cost is required", line.ItemID)
		}
		return nil
	}
	item, err := s.catalog.GetItem(ctx, tenantID, line.ItemID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Validationf("item %d does not exist", line.ItemID)
		}
		return err
	}
	if line.UnitCost == nil {
		line.unitCost = item.UnitCost
	}
	if line.TaxRate == nil {
		line.taxRate = item.TaxRate
	}
	if strings.TrimSpace(line.ItemName) == "" {
		line.ItemName = item.Name
	}
	return nil
}

func (s *Service) resolveVendor(ctx context.Context, tenantID, vendorID int64, name string) (string, error) {
	name = strings.TrimSpace(name)
	if vendorID < 0 {
		return "", shared.Validationf("invalid vendor ID")
	}
	if vendorID == 0 {
		if name == "" {
			return "", shared.Validationf("vendor or vendor name is required")
		}
		return name, nil
	}
	if s.vendors == nil {
		return name, nil
	}
	vendor, err := s.vendors.GetVendor(ctx, tenantID, vendorID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return "", shared.Validationf("vendor %d does not exist", vendorID)
		}
		return "", err
	}
	return vendor.Name, nil
}

func (s *Service) recordAudit(ctx context.Context, rc shared.RequestContext, branchID int64, action, entity string, id int64, details map[string]any) {
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditEntry{
		TenantID:    rc.TenantID,
		BranchID:    branchID,
		PerformedBy: rc.ActorID(),
		Action:      action,
		Entity:      entity,
		EntityID:    fmt.Sprint(id),
		Details:     details,
	})
}

// generateNumber builds a document number such as PO-20260102-1a2b3c4d.
func generateNumber(prefix string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), strings.ToUpper(suffix))
}
