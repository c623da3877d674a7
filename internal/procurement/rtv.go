package procurement

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// CreateRTV returns received goods to the vendor. Cumulative returns per
// receipt item never exceed the received quantity, and the ledger is debited
// at the receipt's work area.
func (s *Service) CreateRTV(ctx context.Context, rc shared.RequestContext, input CreateRTVInput) ([]RTV, error) {
	if _, err := rc.RequireBranch(); err != nil {
		return nil, err
	}
	if input.GRNID <= 0 {
		return nil, shared.Validationf("goods receipt is required")
	}
	if len(input.Lines) == 0 {
		return nil, shared.Validationf("return requires at least one line")
	}
	for i, line := range input.Lines {
		if line.ItemID <= 0 {
			return nil, shared.Validationf("line %d: item is required", i+1)
		}
		if line.ReturnedQty <= 0 {
			return nil, shared.Validationf("line %d: returned quantity must be positive", i+1)
		}
	}

	var created []RTV
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created = created[:0]
		grn, err := tx.GetGRNForUpdate(ctx, rc.TenantID, input.GRNID)
		if err != nil {
			return err
		}
		if !rc.CanSeeBranch(grn.BranchID) {
			return fmt.Errorf("%w %d", ErrGRNNotFound, input.GRNID)
		}
		ref := inventory.Reference{
			Type:    inventory.MovementReturn,
			Module:  "RTV",
			RefID:   grn.Number,
			ActorID: rc.ActorID(),
		}
		for _, line := range input.Lines {
			qty := shared.RoundQty(line.ReturnedQty)
			lines, err := tx.LockGRNItems(ctx, grn.ID, line.ItemID)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				return fmt.Errorf("%w: item %d on goods receipt %d", ErrGRNItemNotFound, line.ItemID, grn.ID)
			}
			var received float64
			for _, l := range lines {
				received += l.ReceivedQty
			}
			returned, err := tx.SumReturned(ctx, grn.ID, line.ItemID)
			if err != nil {
				return err
			}
			if shared.QtyGreater(returned+qty, received) {
				return shared.OverReturn(line.ItemID, qty, shared.RoundQty(received), shared.RoundQty(returned))
			}
			rtv := RTV{
				TenantID:    rc.TenantID,
				BranchID:    grn.BranchID,
				GRNID:       grn.ID,
				ItemID:      line.ItemID,
				ReturnedQty: qty,
				Reason:      strings.TrimSpace(line.Reason),
				ProcessedBy: rc.ActorID(),
				ReturnedAt:  s.now(),
			}
			id, err := tx.InsertRTV(ctx, rtv)
			if err != nil {
				return err
			}
			rtv.ID = id
			key := inventory.StockKey{TenantID: rc.TenantID, BranchID: grn.BranchID, WorkAreaID: grn.WorkAreaID, ItemID: line.ItemID}
			lineRef := ref
			lineRef.Note = rtv.Reason
			if _, err := inventory.Decrement(ctx, tx, key, qty, lineRef); err != nil {
				return err
			}
			created = append(created, rtv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	branchID := rc.BranchID
	if len(created) > 0 {
		branchID = created[0].BranchID
	}
	s.recordAudit(ctx, rc, branchID, "RTV_CREATE", "grn", input.GRNID, map[string]any{"lines": len(created)})
	return created, nil
}

// ListRTVs pages returns inside the caller's scope.
func (s *Service) ListRTVs(ctx context.Context, rc shared.RequestContext, filters RTVFilters, page shared.PageRequest) ([]RTV, int, error) {
	scope := rc.Scope()
	if scope.Empty() {
		return nil, 0, nil
	}
	return s.repo.ListRTVs(ctx, scope, filters, page.Normalize())
}
