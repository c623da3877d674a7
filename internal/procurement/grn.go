package procurement

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const grnIdempotencyModule = "procurement.grn"

// CreateGRN records goods received against an approved purchase order or an
// open special order. Stock is credited to the destination work area and the
// source order is closed, even when the delivery is partial.
func (s *Service) CreateGRN(ctx context.Context, rc shared.RequestContext, input CreateGRNInput) (GRN, error) {
	if (input.POID > 0) == (input.SOID > 0) {
		return GRN{}, shared.Validationf("a goods receipt references exactly one purchase order or special order")
	}
	if input.POID < 0 || input.SOID < 0 {
		return GRN{}, shared.Validationf("invalid source order ID")
	}
	if len(input.Lines) == 0 {
		return GRN{}, shared.Validationf("goods receipt requires at least one line")
	}
	for i, line := range input.Lines {
		switch {
		case line.ItemID <= 0:
			return GRN{}, shared.Validationf("line %d: item is required", i+1)
		case line.ReceivedQty <= 0:
			return GRN{}, shared.Validationf("line %d: received quantity must be positive", i+1)
		case line.UnitCost < 0:
			return GRN{}, shared.Validationf("line %d: unit cost must be >= 0", i+1)
		case line.TaxAmount < 0:
			return GRN{}, shared.Validationf("line %d: tax amount must be >= 0", i+1)
		}
	}
	branchID, err := shared.ResolveWorkAreaBranch(ctx, rc, s.workAreas, input.WorkAreaID)
	if err != nil {
		return GRN{}, err
	}

	key := strings.TrimSpace(input.IdempotencyKey)
	claimed := false
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, rc.TenantID, key, grnIdempotencyModule); err != nil {
			return GRN{}, err
		}
		claimed = true
	}

	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	var result GRN
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grn := GRN{
			TenantID:          rc.TenantID,
			BranchID:          branchID,
			POID:              input.POID,
			SOID:              input.SOID,
			VendorInvoiceNo:   strings.TrimSpace(input.VendorInvoiceNo),
			VendorInvoiceDate: input.VendorInvoiceDate,
			ReceivedAt:        receivedAt,
			WorkAreaID:        input.WorkAreaID,
			ReceivedBy:        rc.ActorID(),
			CreatedAt:         s.now(),
		}
		if input.POID > 0 {
			if err := s.closePOOnReceipt(ctx, tx, rc, input.POID, branchID); err != nil {
				return err
			}
		} else {
			if err := s.closeSOOnReceipt(ctx, tx, rc, input.SOID, branchID); err != nil {
				return err
			}
		}

		grn.Number = generateNumber("GRN", grn.CreatedAt)
		grn.Items = make([]GRNItem, 0, len(input.Lines))
		for _, line := range input.Lines {
			grn.Items = append(grn.Items, GRNItem{
				ItemID:      line.ItemID,
				ReceivedQty: shared.RoundQty(line.ReceivedQty),
				UnitCost:    line.UnitCost,
				TaxAmount:   shared.RoundAmount(line.TaxAmount),
				TotalAmount: GRNLineTotal(line.ReceivedQty, line.UnitCost, line.TaxAmount),
			})
		}
		grn.TotalAmount = sumGRN(grn.Items)
		id, err := tx.CreateGRN(ctx, grn)
		if err != nil {
			return err
		}
		grn.ID = id
		ref := inventory.Reference{
			Type:    inventory.MovementReceipt,
			Module:  "GRN",
			RefID:   grn.Number,
			ActorID: rc.ActorID(),
			Note:    grn.VendorInvoiceNo,
		}
		for i := range grn.Items {
			grn.Items[i].GRNID = id
			itemID, err := tx.InsertGRNItem(ctx, grn.Items[i])
			if err != nil {
				return err
			}
			grn.Items[i].ID = itemID
			stockKey := inventory.StockKey{TenantID: rc.TenantID, BranchID: branchID, WorkAreaID: input.WorkAreaID, ItemID: grn.Items[i].ItemID}
			if _, err := inventory.Increment(ctx, tx, stockKey, grn.Items[i].ReceivedQty, ref); err != nil {
				return err
			}
		}
		result = grn
		return nil
	})
	if err != nil {
		if claimed {
			// release even when the request itself was cancelled
			if derr := s.idempotency.Delete(context.WithoutCancel(ctx), rc.TenantID, key, grnIdempotencyModule); derr != nil {
				s.logger.Warn("release idempotency key failed", "key", key, "error", derr)
			}
		}
		return GRN{}, err
	}
	s.recordAudit(ctx, rc, result.BranchID, "GRN_CREATE", "grn", result.ID, map[string]any{
		"number": result.Number,
		"po_id":  result.POID,
		"so_id":  result.SOID,
		"total":  result.TotalAmount,
	})
	return result, nil
}

// closePOOnReceipt locks the order, then its indents, and closes both sides of
// the linkage. Linked IN_PO lines become PROCURED.
func (s *Service) closePOOnReceipt(ctx context.Context, tx TxRepository, rc shared.RequestContext, poID, branchID int64) error {
	po, err := tx.GetPOForUpdate(ctx, rc.TenantID, poID)
	if err != nil {
		return err
	}
	if !rc.CanSeeBranch(po.BranchID) || po.BranchID != branchID {
		return fmt.Errorf("%w %d", ErrPONotFound, poID)
	}
	if po.Status != POStatusApproved {
		return shared.InvalidStatef("purchase order %d is %s, goods can be received only against APPROVED orders", poID, po.Status)
	}
	linked := make(map[int64]map[int64]struct{})
	var order []int64
	for _, item := range po.Items {
		if item.IndentItemID == 0 {
			continue
		}
		if _, ok := linked[item.IndentID]; !ok {
			linked[item.IndentID] = make(map[int64]struct{})
			order = append(order, item.IndentID)
		}
		linked[item.IndentID][item.IndentItemID] = struct{}{}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, indentID := range order {
		_, items, err := indent.LockForUpdate(ctx, tx, rc, indentID)
		if err != nil {
			return err
		}
		for i := range items {
			if _, ok := linked[indentID][items[i].ID]; !ok || items[i].ProcurementStatus != indent.ProcurementInPO {
				continue
			}
			items[i].ProcurementStatus = indent.ProcurementProcured
			if err := tx.SaveIndentItem(ctx, items[i]); err != nil {
				return err
			}
		}
		active, err := tx.CountActivePOsForIndent(ctx, indentID, poID)
		if err != nil {
			return err
		}
		if active == 0 {
			if err := tx.SetIndentPORaised(ctx, indentID, false); err != nil {
				return err
			}
		}
	}
	po.Status = POStatusClosed
	return tx.UpdatePOHeader(ctx, po)
}

func (s *Service) closeSOOnReceipt(ctx context.Context, tx TxRepository, rc shared.RequestContext, soID, branchID int64) error {
	so, err := tx.GetSOForUpdate(ctx, rc.TenantID, soID)
	if err != nil {
		return err
	}
	if !rc.CanSeeBranch(so.BranchID) || so.BranchID != branchID {
		return fmt.Errorf("%w %d", ErrSONotFound, soID)
	}
	if so.Status == SOStatusClosed {
		return shared.InvalidStatef("special order %d is already CLOSED", soID)
	}
	so.Status = SOStatusClosed
	return tx.UpdateSOHeader(ctx, so)
}

// GetGRN returns a goods receipt with its lines.
func (s *Service) GetGRN(ctx context.Context, rc shared.RequestContext, id int64) (GRN, error) {
	if id <= 0 {
		return GRN{}, shared.Validationf("invalid goods receipt ID")
	}
	grn, err := s.repo.GetGRN(ctx, rc.TenantID, id)
	if err != nil {
		return GRN{}, err
	}
	if !rc.CanSeeBranch(grn.BranchID) {
		return GRN{}, fmt.Errorf("%w %d", ErrGRNNotFound, id)
	}
	return grn, nil
}

// ListGRNs pages goods receipts inside the caller's scope.
func (s *Service) ListGRNs(ctx context.Context, rc shared.RequestContext, filters GRNFilters, page shared.PageRequest) ([]GRN, int, error) {
	scope := rc.Scope()
	if scope.Empty() {
		return nil, 0, nil
	}
	return s.repo.ListGRNs(ctx, scope, filters, page.Normalize())
}
