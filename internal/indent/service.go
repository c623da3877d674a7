package indent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetIndent(ctx context.Context, tenantID, id int64) (Indent, error)
	FindIndentItem(ctx context.Context, tenantID, lineID int64) (Item, error)
	ListIndents(ctx context.Context, scope shared.ScopeFilter, filters ListFilters, page shared.PageRequest) ([]Indent, int, error)
	ListIssueRecords(ctx context.Context, tenantID, indentID int64) ([]IssueRecord, error)
}

// TxStore is the transactional view of indents. Procurement composes it into
// its own unit of work to maintain the purchase order linkage.
type TxStore interface {
	CreateIndent(ctx context.Context, in Indent) (int64, error)
	InsertIndentItem(ctx context.Context, item Item) (int64, error)
	// GetIndentItem reads one line of a tenant's indent without locking it.
	GetIndentItem(ctx context.Context, tenantID, lineID int64) (Item, error)
	// GetIndentForUpdate row-locks the indent header; items are not loaded.
	GetIndentForUpdate(ctx context.Context, tenantID, id int64) (Indent, error)
	// ListIndentItemsForUpdate row-locks every line of the indent in ID order.
	ListIndentItemsForUpdate(ctx context.Context, indentID int64) ([]Item, error)
	UpdateIndentStatus(ctx context.Context, id int64, status Status) error
	SetIndentPORaised(ctx context.Context, id int64, raised bool) error
	SaveIndentItem(ctx context.Context, item Item) error
	DeleteIndentItem(ctx context.Context, id int64) error
	InsertIssueRecord(ctx context.Context, rec IssueRecord) error
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	TxStore
	inventory.TxStore
}

// Service orchestrates the indent lifecycle and stock issuance.
type Service struct {
	repo      RepositoryPort
	pool      *Pool
	catalog   ItemCatalog
	workAreas shared.WorkAreaDirectory
	audit     shared.AuditSink
	logger    *slog.Logger
}

// NewService constructs the indent service.
func NewService(repo RepositoryPort, pool *Pool, catalog ItemCatalog, workAreas shared.WorkAreaDirectory, audit shared.AuditSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pool: pool, catalog: catalog, workAreas: workAreas, audit: audit, logger: logger}
}

// LockForUpdate locks an indent and its lines inside tx, hiding indents outside
// the caller's branch scope.
func LockForUpdate(ctx context.Context, tx TxStore, rc shared.RequestContext, id int64) (Indent, []Item, error) {
	in, err := tx.GetIndentForUpdate(ctx, rc.TenantID, id)
	if err != nil {
		return Indent{}, nil, err
	}
	if !rc.CanSeeBranch(in.BranchID) {
		return Indent{}, nil, fmt.Errorf("%w %d", ErrIndentNotFound, id)
	}
	items, err := tx.ListIndentItemsForUpdate(ctx, id)
	if err != nil {
		return Indent{}, nil, err
	}
	return in, items, nil
}

// CreateIndent records a new OPEN indent.
func (s *Service) CreateIndent(ctx context.Context, rc shared.RequestContext, input CreateInput) (Indent, error) {
	if len(input.Lines) == 0 {
		return Indent{}, shared.Validationf("indent requires at least one line")
	}
	entryType := EntryType(strings.ToUpper(strings.TrimSpace(string(input.EntryType))))
	if entryType == "" {
		entryType = EntryOpen
	}
	if entryType != EntryOpen && entryType != EntryPackage {
		return Indent{}, shared.Validationf("unknown entry type %q", input.EntryType)
	}
	for i, line := range input.Lines {
		if line.ItemID <= 0 {
			return Indent{}, shared.Validationf("line %d: item is required", i+1)
		}
		if line.RequestedQty <= 0 {
			return Indent{}, shared.Validationf("line %d: requested quantity must be positive", i+1)
		}
		if err := s.ensureItem(ctx, rc.TenantID, line.ItemID); err != nil {
			return Indent{}, err
		}
	}
	branchID, err := shared.ResolveWorkAreaBranch(ctx, rc, s.workAreas, input.WorkAreaID)
	if err != nil {
		return Indent{}, err
	}

	now := time.Now().UTC()
	created := Indent{
		TenantID:   rc.TenantID,
		BranchID:   branchID,
		WorkAreaID: input.WorkAreaID,
		CreatedBy:  rc.ActorID(),
		IndentDate: now,
		Status:     StatusOpen,
		Remarks:    strings.TrimSpace(input.Remarks),
		EntryType:  entryType,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateIndent(ctx, created)
		if err != nil {
			return err
		}
		created.ID = id
		created.Items = created.Items[:0]
		for _, line := range input.Lines {
			item := Item{
				IndentID:          id,
				ItemID:            line.ItemID,
				RequestedQty:      shared.RoundQty(line.RequestedQty),
				ProcurementStatus: ProcurementPending,
			}
			item.PendingQty = ResolvePendingQty(item)
			itemID, err := tx.InsertIndentItem(ctx, item)
			if err != nil {
				return err
			}
			item.ID = itemID
			created.Items = append(created.Items, item)
		}
		return nil
	})
	if err != nil {
		return Indent{}, err
	}
	s.recordAudit(ctx, rc, created.BranchID, "INDENT_CREATE", created.ID, map[string]any{"lines": len(created.Items), "work_area_id": created.WorkAreaID})
	return created, nil
}

// Approve moves an OPEN indent to APPROVED and fixes every line's approved quantity.
func (s *Service) Approve(ctx context.Context, rc shared.RequestContext, id int64, input ApproveInput) (Indent, error) {
	if _, err := rc.RequireBranch(); err != nil {
		return Indent{}, err
	}
	var result Indent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		in, items, err := LockForUpdate(ctx, tx, rc, id)
		if err != nil {
			return err
		}
		if in.Status != StatusOpen {
			return shared.InvalidStatef("indent %d is %s, only OPEN indents can be approved", id, in.Status)
		}
		known := make(map[int64]struct{}, len(items))
		for _, item := range items {
			known[item.ID] = struct{}{}
		}
		for lineID := range input.ApprovedQty {
			if _, ok := known[lineID]; !ok {
				return fmt.Errorf("%w %d", ErrIndentItemNotFound, lineID)
			}
		}
		for i := range items {
			approved := ResolveApprovedQty(items[i])
			if override, ok := input.ApprovedQty[items[i].ID]; ok {
				if override < 0 || shared.QtyGreater(override, items[i].RequestedQty) {
					return shared.Validationf("approved quantity for line %d must be within 0 and %s",
						items[i].ID, shared.FormatQty(items[i].RequestedQty))
				}
				approved = shared.RoundQty(override)
			}
			items[i].ApprovedQty = &approved
			items[i].PendingQty = ResolvePendingQty(items[i])
			if err := tx.SaveIndentItem(ctx, items[i]); err != nil {
				return err
			}
		}
		if err := tx.UpdateIndentStatus(ctx, id, StatusApproved); err != nil {
			return err
		}
		if err := tx.InsertIssueRecord(ctx, IssueRecord{
			TenantID:    rc.TenantID,
			BranchID:    in.BranchID,
			IndentID:    id,
			Action:      RecordApproved,
			PerformedBy: rc.ActorID(),
			Remarks:     strings.TrimSpace(input.Remarks),
			RecordedAt:  time.Now().UTC(),
		}); err != nil {
			return err
		}
		in.Status = StatusApproved
		in.Items = items
		result = in
		return nil
	})
	if err != nil {
		return Indent{}, err
	}
	s.recordAudit(ctx, rc, result.BranchID, "INDENT_APPROVE", id, map[string]any{"overrides": len(input.ApprovedQty)})
	return result, nil
}

// Reject terminally rejects an OPEN indent.
func (s *Service) Reject(ctx context.Context, rc shared.RequestContext, id int64, remarks string) (Indent, error) {
	return s.closeOpen(ctx, rc, id, StatusRejected, "INDENT_REJECT", remarks)
}

// Cancel terminally cancels an OPEN indent.
func (s *Service) Cancel(ctx context.Context, rc shared.RequestContext, id int64, remarks string) (Indent, error) {
	return s.closeOpen(ctx, rc, id, StatusCancelled, "INDENT_CANCEL", remarks)
}

func (s *Service) closeOpen(ctx context.Context, rc shared.RequestContext, id int64, target Status, action, remarks string) (Indent, error) {
	if _, err := rc.RequireBranch(); err != nil {
		return Indent{}, err
	}
	var result Indent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		in, items, err := LockForUpdate(ctx, tx, rc, id)
		if err != nil {
			return err
		}
		if in.Status != StatusOpen {
			return shared.InvalidStatef("indent %d is %s, only OPEN indents can move to %s", id, in.Status, target)
		}
		if err := tx.UpdateIndentStatus(ctx, id, target); err != nil {
			return err
		}
		in.Status = target
		in.Items = items
		result = in
		return nil
	})
	if err != nil {
		return Indent{}, err
	}
	s.recordAudit(ctx, rc, result.BranchID, action, id, map[string]any{"remarks": strings.TrimSpace(remarks)})
	return result, nil
}

// UpdateItem changes the requested quantity of a line on an OPEN indent.
func (s *Service) UpdateItem(ctx context.Context, rc shared.RequestContext, lineID int64, requestedQty float64) (Item, error) {
	if requestedQty <= 0 {
		return Item{}, shared.Validationf("requested quantity must be positive")
	}
	var updated Item
	err := s.mutateOpenLine(ctx, rc, lineID, func(ctx context.Context, tx TxRepository, items []Item, idx int) error {
		items[idx].RequestedQty = shared.RoundQty(requestedQty)
		items[idx].ApprovedQty = nil
		items[idx].PendingQty = ResolvePendingQty(items[idx])
		updated = items[idx]
		return tx.SaveIndentItem(ctx, items[idx])
	})
	if err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, rc, rc.BranchID, "INDENT_ITEM_UPDATE", updated.IndentID, map[string]any{"line_id": lineID, "requested_qty": updated.RequestedQty})
	return updated, nil
}

// DeleteItem removes a line from an OPEN indent. The last line cannot be removed.
func (s *Service) DeleteItem(ctx context.Context, rc shared.RequestContext, lineID int64) error {
	var indentID int64
	err := s.mutateOpenLine(ctx, rc, lineID, func(ctx context.Context, tx TxRepository, items []Item, idx int) error {
		if len(items) == 1 {
			return shared.Validationf("cannot delete the only line of indent %d", items[idx].IndentID)
		}
		indentID = items[idx].IndentID
		return tx.DeleteIndentItem(ctx, lineID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, rc, rc.BranchID, "INDENT_ITEM_DELETE", indentID, map[string]any{"line_id": lineID})
	return nil
}

func (s *Service) mutateOpenLine(ctx context.Context, rc shared.RequestContext, lineID int64, fn func(context.Context, TxRepository, []Item, int) error) error {
	if _, err := rc.RequireBranch(); err != nil {
		return err
	}
	if lineID <= 0 {
		return shared.Validationf("invalid indent item ID")
	}
	line, err := s.repo.FindIndentItem(ctx, rc.TenantID, lineID)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		in, items, err := LockForUpdate(ctx, tx, rc, line.IndentID)
		if err != nil {
			return err
		}
		if in.Status != StatusOpen {
			return shared.InvalidStatef("indent %d is %s, lines are editable only while OPEN", in.ID, in.Status)
		}
		for idx := range items {
			if items[idx].ID == lineID {
				return fn(ctx, tx, items, idx)
			}
		}
		return fmt.Errorf("%w %d", ErrIndentItemNotFound, lineID)
	})
}

// IssueStock issues approved quantities from a source work area, debiting the
// ledger. Every line commits or none does.
func (s *Service) IssueStock(ctx context.Context, rc shared.RequestContext, id int64, input IssueInput) (Indent, error) {
	if _, err := rc.RequireBranch(); err != nil {
		return Indent{}, err
	}
	if input.SourceWorkAreaID <= 0 {
		return Indent{}, shared.Validationf("source work area is required")
	}
	positive := 0
	for _, line := range input.Lines {
		if line.IssueQty < 0 {
			return Indent{}, shared.Validationf("issue quantity for line %d must not be negative", line.IndentItemID)
		}
		if line.IssueQty > 0 {
			positive++
		}
	}
	if positive == 0 {
		return Indent{}, shared.Validationf("nothing to issue")
	}
	sourceBranch, err := shared.ResolveWorkAreaBranch(ctx, rc, s.workAreas, input.SourceWorkAreaID)
	if err != nil {
		return Indent{}, err
	}

	var (
		result Indent
		issued = make(map[int64]float64)
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		clear(issued)
		in, items, err := LockForUpdate(ctx, tx, rc, id)
		if err != nil {
			return err
		}
		if !in.Status.Issuable() {
			return shared.InvalidStatef("indent %d is %s, stock can be issued only when APPROVED or PARTIALLY_ISSUED", id, in.Status)
		}
		if sourceBranch != in.BranchID {
			return fmt.Errorf("%w: work area %d not in branch %d", shared.ErrNotFound, input.SourceWorkAreaID, in.BranchID)
		}
		index := make(map[int64]int, len(items))
		for i, item := range items {
			index[item.ID] = i
		}
		ref := inventory.Reference{
			Type:    inventory.MovementIssue,
			Module:  "INDENT",
			RefID:   fmt.Sprintf("INDENT-%d", id),
			ActorID: rc.ActorID(),
			Note:    strings.TrimSpace(input.Remarks),
		}
		for _, req := range input.Lines {
			if req.IssueQty == 0 {
				continue
			}
			i, ok := index[req.IndentItemID]
			if !ok {
				return fmt.Errorf("%w %d", ErrIndentItemNotFound, req.IndentItemID)
			}
			line := &items[i]
			qty := shared.RoundQty(req.IssueQty)
			if available := IssuableQty(*line); shared.QtyGreater(qty, available) {
				return shared.InsufficientQuantity(line.ItemID, qty, available)
			}
			key := inventory.StockKey{TenantID: rc.TenantID, BranchID: in.BranchID, WorkAreaID: input.SourceWorkAreaID, ItemID: line.ItemID}
			if _, err := inventory.Decrement(ctx, tx, key, qty, ref); err != nil {
				return err
			}
			line.IssuedQty = shared.RoundQty(line.IssuedQty + qty)
			line.PendingQty = ResolvePendingQty(*line)
			if err := tx.SaveIndentItem(ctx, *line); err != nil {
				return err
			}
			issued[line.ID] += qty
		}
		next := RollupStatus(in.Status, items)
		if next != in.Status {
			if err := tx.UpdateIndentStatus(ctx, id, next); err != nil {
				return err
			}
			in.Status = next
		}
		if err := tx.InsertIssueRecord(ctx, IssueRecord{
			TenantID:    rc.TenantID,
			BranchID:    in.BranchID,
			IndentID:    id,
			Action:      RecordIssued,
			PerformedBy: rc.ActorID(),
			Remarks:     strings.TrimSpace(input.Remarks),
			RecordedAt:  time.Now().UTC(),
		}); err != nil {
			return err
		}
		in.Items = items
		result = in
		return nil
	})
	if err != nil {
		return Indent{}, err
	}
	s.recordAudit(ctx, rc, result.BranchID, "INDENT_ISSUE", id, map[string]any{
		"source_work_area_id": input.SourceWorkAreaID,
		"lines":               issued,
		"status":              result.Status,
	})
	return result, nil
}

// GetIndent returns an indent with its lines.
func (s *Service) GetIndent(ctx context.Context, rc shared.RequestContext, id int64) (Indent, error) {
	if id <= 0 {
		return Indent{}, shared.Validationf("invalid indent ID")
	}
	in, err := s.repo.GetIndent(ctx, rc.TenantID, id)
	if err != nil {
		return Indent{}, err
	}
	if !rc.CanSeeBranch(in.BranchID) {
		return Indent{}, fmt.Errorf("%w %d", ErrIndentNotFound, id)
	}
	return in, nil
}

// ListIndents pages indents inside the caller's scope.
func (s *Service) ListIndents(ctx context.Context, rc shared.RequestContext, filters ListFilters, page shared.PageRequest) ([]Indent, int, error) {
	scope := rc.Scope()
	if scope.Empty() {
		return nil, 0, nil
	}
	if filters.EligibleForProcurement && filters.Status == "" {
		filters.Status = StatusApproved
	}
	return s.repo.ListIndents(ctx, scope, filters, page.Normalize())
}

// ListIssueRecords returns the milestones recorded for an indent.
func (s *Service) ListIssueRecords(ctx context.Context, rc shared.RequestContext, indentID int64) ([]IssueRecord, error) {
	if _, err := s.GetIndent(ctx, rc, indentID); err != nil {
		return nil, err
	}
	return s.repo.ListIssueRecords(ctx, rc.TenantID, indentID)
}

// GetProcurementPool returns the unresolved procurement demand.
func (s *Service) GetProcurementPool(ctx context.Context, rc shared.RequestContext, filter PoolFilter) ([]PoolEntry, error) {
	if s.pool == nil {
		return nil, errors.New("indent: procurement pool not configured")
	}
	return s.pool.List(ctx, rc, filter)
}

func (s *Service) ensureItem(ctx context.Context, tenantID, itemID int64) error {
	if s.catalog == nil {
		return nil
	}
	if _, err := s.catalog.GetItem(ctx, tenantID, itemID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Validationf("item %d does not exist", itemID)
		}
		return err
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, rc shared.RequestContext, branchID int64, action string, id int64, details map[string]any) {
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditEntry{
		TenantID:    rc.TenantID,
		BranchID:    branchID,
		PerformedBy: rc.ActorID(),
		Action:      action,
		Entity:      "indent",
		EntityID:    fmt.Sprint(id),
		Details:     details,
	})
}
