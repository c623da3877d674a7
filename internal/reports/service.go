package reports

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository reads report data. Every method is read-only.
type Repository interface {
	StockValue(ctx context.Context, scope shared.ScopeFilter) (float64, error)
	CountLowStock(ctx context.Context, scope shared.ScopeFilter, threshold float64) (int, error)
	CountPOs(ctx context.Context, scope shared.ScopeFilter, statuses []string) (int, error)
	CountIndents(ctx context.Context, scope shared.ScopeFilter, statuses []string) (int, error)
	CountActiveItems(ctx context.Context, tenantID int64) (int, error)
	ListAudit(ctx context.Context, scope shared.ScopeFilter, filter AuditFilter, page shared.PageRequest) ([]AuditRecord, int, error)
	ListPOStatus(ctx context.Context, scope shared.ScopeFilter, filter POStatusFilter, page shared.PageRequest) ([]POStatusRow, int, error)
	ListGRNLines(ctx context.Context, scope shared.ScopeFilter, filter GRNFilter, page shared.PageRequest) ([]GRNLine, int, error)
	ListIndentIssue(ctx context.Context, scope shared.ScopeFilter, filter IndentIssueFilter) ([]IndentIssueLine, error)
	ListSupplierPurchases(ctx context.Context, scope shared.ScopeFilter, rng DateRange) ([]SupplierPurchase, error)
}

// Service serves dashboards, audit trails and procurement reports.
type Service struct {
	repo     Repository
	lowStock float64
	logger   *slog.Logger
}

// NewService constructs a Service. A non-positive lowStock uses DefaultLowStockThreshold.
func NewService(repo Repository, lowStock float64, logger *slog.Logger) *Service {
	if lowStock <= 0 {
		lowStock = DefaultLowStockThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, lowStock: lowStock, logger: logger}
}

func (s *Service) scope(rc shared.RequestContext) (shared.ScopeFilter, error) {
	if rc.TenantID <= 0 {
		return shared.ScopeFilter{}, shared.ErrUnauthenticated
	}
	scope := rc.Scope()
	if scope.Empty() {
		return shared.ScopeFilter{}, shared.ErrBranchContextRequired
	}
	return scope, nil
}

func checkRange(r DateRange) error {
	if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
		return shared.Validationf("from must be before to")
	}
	return nil
}

// Dashboard computes the headline figures for the caller's branches. The
// queries are independent and run concurrently.
func (s *Service) Dashboard(ctx context.Context, rc shared.RequestContext) (DashboardStats, error) {
	scope, err := s.scope(rc)
	if err != nil {
		return DashboardStats{}, err
	}
	var stats DashboardStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.TotalStockValue, err = s.repo.StockValue(gctx, scope)
		return err
	})
	g.Go(func() (err error) {
		stats.LowStockCount, err = s.repo.CountLowStock(gctx, scope, s.lowStock)
		return err
	})
	g.Go(func() (err error) {
		stats.PendingPOs, err = s.repo.CountPOs(gctx, scope, []string{
			string(procurement.POStatusDraft), string(procurement.POStatusPending),
		})
		return err
	})
	g.Go(func() (err error) {
		stats.PendingIndents, err = s.repo.CountIndents(gctx, scope, []string{string(indent.StatusOpen)})
		return err
	})
	g.Go(func() (err error) {
		stats.ActiveItems, err = s.repo.CountActiveItems(gctx, scope.TenantID)
		return err
	})
	if err := g.Wait(); err != nil {
		return DashboardStats{}, fmt.Errorf("reports: dashboard: %w", err)
	}
	stats.TotalStockValue = shared.RoundAmount(stats.TotalStockValue)
	return stats, nil
}

// ListAuditLogs pages the audit trail newest first. Branch-bound callers only
// see entries recorded against their branch.
func (s *Service) ListAuditLogs(ctx context.Context, rc shared.RequestContext, filter AuditFilter, page shared.PageRequest) ([]AuditRecord, int, error) {
	scope, err := s.scope(rc)
	if err != nil {
		return nil, 0, err
	}
	if err := checkRange(filter.Range); err != nil {
		return nil, 0, err
	}
	filter.Entity = strings.ToLower(strings.TrimSpace(filter.Entity))
	filter.Action = strings.ToUpper(strings.TrimSpace(filter.Action))
	return s.repo.ListAudit(ctx, scope, filter, page.Normalize())
}

var poStatuses = map[string]bool{
	string(procurement.POStatusDraft):     true,
	string(procurement.POStatusPending):   true,
	string(procurement.POStatusApproved):  true,
	string(procurement.POStatusClosed):    true,
	string(procurement.POStatusCancelled): true,
}

// POStatus lists purchase orders with their receipt counts.
func (s *Service) POStatus(ctx context.Context, rc shared.RequestContext, filter POStatusFilter, page shared.PageRequest) ([]POStatusRow, int, error) {
	scope, err := s.scope(rc)
	if err != nil {
		return nil, 0, err
	}
	if err := checkRange(filter.Range); err != nil {
		return nil, 0, err
	}
	filter.Status = strings.ToUpper(strings.TrimSpace(filter.Status))
	if filter.Status != "" && !poStatuses[filter.Status] {
		return nil, 0, shared.Validationf("unknown purchase order status %q", filter.Status)
	}
	return s.repo.ListPOStatus(ctx, scope, filter, page.Normalize())
}

// DetailedGRN lists received lines with item and vendor details.
func (s *Service) DetailedGRN(ctx context.Context, rc shared.RequestContext, filter GRNFilter, page shared.PageRequest) ([]GRNLine, int, error) {
	scope, err := s.scope(rc)
	if err != nil {
		return nil, 0, err
	}
	if err := checkRange(filter.Range); err != nil {
		return nil, 0, err
	}
	return s.repo.ListGRNLines(ctx, scope, filter, page.Normalize())
}

// RateVariance lists received lines whose unit cost differs from the item's
// standard cost. Variance is received minus standard.
func (s *Service) RateVariance(ctx context.Context, rc shared.RequestContext, rng DateRange, page shared.PageRequest) ([]RateVariance, int, error) {
	scope, err := s.scope(rc)
	if err != nil {
		return nil, 0, err
	}
	if err := checkRange(rng); err != nil {
		return nil, 0, err
	}
	lines, total, err := s.repo.ListGRNLines(ctx, scope, GRNFilter{Range: rng, OffStandard: true}, page.Normalize())
	if err != nil {
		return nil, 0, err
	}
	out := make([]RateVariance, 0, len(lines))
	for _, l := range lines {
		out = append(out, ToRateVariance(l))
	}
	return out, total, nil
}

// ToRateVariance derives the variance figures of a receipt line.
func ToRateVariance(l GRNLine) RateVariance {
	variance := shared.RoundAmount(l.UnitCost - l.StandardCost)
	pct := 0.0
	if l.StandardCost != 0 {
		pct = math.Round(variance/l.StandardCost*10000) / 100
	}
	return RateVariance{
		GRNID:           l.GRNID,
		GRNNumber:       l.GRNNumber,
		VendorInvoiceNo: l.VendorInvoiceNo,
		ReceivedAt:      l.ReceivedAt,
		ItemID:          l.ItemID,
		ItemName:        l.ItemName,
		ReceivedCost:    l.UnitCost,
		StandardCost:    l.StandardCost,
		Variance:        variance,
		VariancePct:     pct,
	}
}

// IndentIssue lists approved indent lines with issued and pending quantities.
func (s *Service) IndentIssue(ctx context.Context, rc shared.RequestContext, filter IndentIssueFilter) ([]IndentIssueLine, error) {
	scope, err := s.scope(rc)
	if err != nil {
		return nil, err
	}
	if err := checkRange(filter.Range); err != nil {
		return nil, err
	}
	lines, err := s.repo.ListIndentIssue(ctx, scope, filter)
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []IndentIssueLine{}
	}
	return lines, nil
}

// SupplierPurchases totals receipt value per vendor, largest first.
func (s *Service) SupplierPurchases(ctx context.Context, rc shared.RequestContext, rng DateRange) ([]SupplierPurchase, error) {
	scope, err := s.scope(rc)
	if err != nil {
		return nil, err
	}
	if err := checkRange(rng); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListSupplierPurchases(ctx, scope, rng)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []SupplierPurchase{}
	}
	return rows, nil
}
