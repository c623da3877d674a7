package procurement

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// CreateSO records an OPEN special order.
func (s *Service) CreateSO(ctx context.Context, rc shared.RequestContext, input CreateSOInput) (SpecialOrder, error) {
	branchID, err := rc.BranchForCreate()
	if err != nil {
		return SpecialOrder{}, err
	}
	if len(input.Lines) == 0 {
		return SpecialOrder{}, shared.Validationf("special order requires at least one line")
	}
	vendorName, err := s.resolveVendor(ctx, rc.TenantID, input.VendorID, input.VendorName)
	if err != nil {
		return SpecialOrder{}, err
	}
	now := s.now()
	so := SpecialOrder{
		TenantID:     rc.TenantID,
		BranchID:     branchID,
		Number:       generateNumber("SO", now),
		VendorID:     input.VendorID,
		VendorName:   vendorName,
		SODate:       now,
		DeliveryDate: input.DeliveryDate,
		Status:       SOStatusOpen,
		CreatedBy:    rc.ActorID(),
		Note:         strings.TrimSpace(input.Note),
	}
	for i, line := range input.Lines {
		resolved, err := s.resolveLine(ctx, rc.TenantID, i+1, POLineInput{
			ItemID:   line.ItemID,
			ItemName: line.ItemName,
			Quantity: line.Quantity,
			UnitCost: line.UnitCost,
		})
		if err != nil {
			return SpecialOrder{}, err
		}
		qty := shared.RoundQty(line.Quantity)
		so.Items = append(so.Items, SOItem{
			ItemID:      line.ItemID,
			ItemName:    strings.TrimSpace(resolved.ItemName),
			Quantity:    qty,
			UnitCost:    resolved.unitCost,
			TotalAmount: SOLineTotal(qty, resolved.unitCost),
		})
	}
	so.TotalAmount = sumSO(so.Items)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateSO(ctx, so)
		if err != nil {
			return err
		}
		so.ID = id
		for i := range so.Items {
			so.Items[i].SOID = id
			itemID, err := tx.InsertSOItem(ctx, so.Items[i])
			if err != nil {
				return err
			}
			so.Items[i].ID = itemID
		}
		return nil
	})
	if err != nil {
		return SpecialOrder{}, err
	}
	s.recordAudit(ctx, rc, so.BranchID, "SO_CREATE", "special_order", so.ID, map[string]any{"number": so.Number, "total": so.TotalAmount})
	return so, nil
}

// ApproveSO moves an OPEN special order to APPROVED.
func (s *Service) ApproveSO(ctx context.Context, rc shared.RequestContext, id int64) (SpecialOrder, error) {
	so, err := s.mutateSO(ctx, rc, id, func(ctx context.Context, tx TxRepository, so *SpecialOrder) error {
		if so.Status != SOStatusOpen {
			return shared.InvalidStatef("special order %d is %s, only OPEN orders can be approved", so.ID, so.Status)
		}
		at := s.now()
		so.Status = SOStatusApproved
		so.ApprovedBy = rc.ActorID()
		so.ApprovedAt = &at
		return tx.UpdateSOHeader(ctx, *so)
	})
	if err != nil {
		return SpecialOrder{}, err
	}
	s.recordAudit(ctx, rc, so.BranchID, "SO_APPROVE", "special_order", so.ID, map[string]any{"number": so.Number})
	return so, nil
}

// CloseSO closes an APPROVED special order without a receipt.
func (s *Service) CloseSO(ctx context.Context, rc shared.RequestContext, id int64) (SpecialOrder, error) {
	so, err := s.mutateSO(ctx, rc, id, func(ctx context.Context, tx TxRepository, so *SpecialOrder) error {
		if so.Status != SOStatusApproved {
			return shared.InvalidStatef("special order %d is %s, only APPROVED orders can be closed", so.ID, so.Status)
		}
		so.Status = SOStatusClosed
		return tx.UpdateSOHeader(ctx, *so)
	})
	if err != nil {
		return SpecialOrder{}, err
	}
	s.recordAudit(ctx, rc, so.BranchID, "SO_CLOSE", "special_order", so.ID, map[string]any{"number": so.Number})
	return so, nil
}

// GetSO returns a special order with its lines.
func (s *Service) GetSO(ctx context.Context, rc shared.RequestContext, id int64) (SpecialOrder, error) {
	if id <= 0 {
		return SpecialOrder{}, shared.Validationf("invalid special order ID")
	}
	so, err := s.repo.GetSO(ctx, rc.TenantID, id)
	if err != nil {
		return SpecialOrder{}, err
	}
	if !rc.CanSeeBranch(so.BranchID) {
		return SpecialOrder{}, fmt.Errorf("%w %d", ErrSONotFound, id)
	}
	return so, nil
}

// ListSOs pages special orders inside the caller's scope.
func (s *Service) ListSOs(ctx context.Context, rc shared.RequestContext, filters SOFilters, page shared.PageRequest) ([]SpecialOrder, int, error) {
	scope := rc.Scope()
	if scope.Empty() {
		return nil, 0, nil
	}
	return s.repo.ListSOs(ctx, scope, filters, page.Normalize())
}

func (s *Service) mutateSO(ctx context.Context, rc shared.RequestContext, id int64, fn func(context.Context, TxRepository, *SpecialOrder) error) (SpecialOrder, error) {
	if _, err := rc.RequireBranch(); err != nil {
		return SpecialOrder{}, err
	}
	if id <= 0 {
		return SpecialOrder{}, shared.Validationf("invalid special order ID")
	}
	var result SpecialOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		so, err := tx.GetSOForUpdate(ctx, rc.TenantID, id)
		if err != nil {
			return err
		}
		if !rc.CanSeeBranch(so.BranchID) {
			return fmt.Errorf("%w %d", ErrSONotFound, id)
		}
		if err := fn(ctx, tx, &so); err != nil {
			return err
		}
		result = so
		return nil
	})
	return result, err
}
