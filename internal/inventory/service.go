package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListStock(ctx context.Context, scope shared.ScopeFilter, filter StockFilter, page shared.PageRequest) ([]Stock, int, error)
	ListMovements(ctx context.Context, scope shared.ScopeFilter, filter MovementFilter) ([]Movement, error)
	ListDrift(ctx context.Context, tenantID int64) ([]Drift, error)
	ListTenantIDs(ctx context.Context) ([]int64, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	TxStore
}

// Service coordinates manual ledger operations and stock queries.
type Service struct {
	repo      RepositoryPort
	audit     shared.AuditSink
	workAreas shared.WorkAreaDirectory
	logger    *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditSink, workAreas shared.WorkAreaDirectory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, workAreas: workAreas, logger: logger}
}

// AdjustStock applies a signed manual correction through the ledger primitives.
func (s *Service) AdjustStock(ctx context.Context, rc shared.RequestContext, input AdjustmentInput) (Stock, error) {
	if input.ItemID <= 0 {
		return Stock{}, shared.Validationf("item is required")
	}
	if math.Abs(input.Qty) < 1e-9 {
		return Stock{}, shared.Validationf("adjustment quantity must be non zero")
	}
	branchID, err := shared.ResolveWorkAreaBranch(ctx, rc, s.workAreas, input.WorkAreaID)
	if err != nil {
		return Stock{}, err
	}
	key := StockKey{TenantID: rc.TenantID, BranchID: branchID, WorkAreaID: input.WorkAreaID, ItemID: input.ItemID}
	ref := Reference{
		Type:    MovementAdjust,
		Module:  "ADJUSTMENT",
		RefID:   uuid.NewString(),
		ActorID: rc.ActorID(),
		Note:    input.Reason,
	}
	var result Stock
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if input.Qty > 0 {
			result, err = Increment(ctx, tx, key, input.Qty, ref)
		} else {
			result, err = Decrement(ctx, tx, key, -input.Qty, ref)
		}
		return err
	})
	if err != nil {
		return Stock{}, err
	}
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditEntry{
		TenantID:    rc.TenantID,
		BranchID:    branchID,
		PerformedBy: rc.ActorID(),
		Action:      "STOCK_ADJUST",
		Entity:      "inventory_stock",
		EntityID:    key.String(),
		Details: map[string]any{
			"qty":     input.Qty,
			"reason":  input.Reason,
			"ref_id":  ref.RefID,
			"balance": result.Quantity,
		},
	})
	return result, nil
}

// ListStock returns ledger rows visible to the caller.
func (s *Service) ListStock(ctx context.Context, rc shared.RequestContext, filter StockFilter, page shared.PageRequest) ([]Stock, int, error) {
	scope := rc.Scope()
	if scope.Empty() {
		return nil, 0, shared.ErrBranchContextRequired
	}
	return s.repo.ListStock(ctx, scope, filter, page)
}

// StockCard lists journal movements for an item, optionally narrowed to a work area.
func (s *Service) StockCard(ctx context.Context, rc shared.RequestContext, filter MovementFilter) ([]Movement, error) {
	if filter.ItemID <= 0 {
		return nil, shared.Validationf("item is required")
	}
	scope := rc.Scope()
	if scope.Empty() {
		return nil, shared.ErrBranchContextRequired
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 200
	}
	return s.repo.ListMovements(ctx, scope, filter)
}

// Reconcile compares ledger balances with their journals. It never writes balances.
func (s *Service) Reconcile(ctx context.Context, tenantID int64) ([]Drift, error) {
	if tenantID <= 0 {
		return nil, fmt.Errorf("inventory: reconcile requires tenant")
	}
	drift, err := s.repo.ListDrift(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("inventory: reconcile tenant %d: %w", tenantID, err)
	}
	return drift, nil
}

// TenantIDs lists tenants that own ledger rows.
func (s *Service) TenantIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListTenantIDs(ctx)
}
