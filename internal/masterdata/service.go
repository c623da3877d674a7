package masterdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// ErrDuplicateCode indicates a code already used within the tenant.
var ErrDuplicateCode = fmt.Errorf("%w: code already exists", shared.ErrValidation)

// service implements Service interface
type service struct {
	repo   Repository
	audit  shared.AuditSink
	logger *slog.Logger
}

// NewService creates a new master data service
func NewService(repo Repository, audit shared.AuditSink, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{repo: repo, audit: audit, logger: logger}
}

// Item operations
func (s *service) ListItems(ctx context.Context, rc shared.RequestContext, filters ListFilters) ([]Item, int, error) {
	return s.repo.ListItems(ctx, rc.TenantID, filters)
}

func (s *service) GetItem(ctx context.Context, tenantID, id int64) (Item, error) {
	if id <= 0 {
		return Item{}, shared.Validationf("invalid item ID")
	}
	return s.repo.GetItem(ctx, tenantID, id)
}

func (s *service) CreateItem(ctx context.Context, rc shared.RequestContext, item Item) (Item, error) {
	item.TenantID = rc.TenantID
	item = normalizeItem(item)
	if err := validateItem(item); err != nil {
		return Item{}, err
	}
	created, err := s.repo.CreateItem(ctx, item)
	if err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, rc, "ITEM_CREATE", "item", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

func (s *service) UpdateItem(ctx context.Context, rc shared.RequestContext, item Item) (Item, error) {
	if item.ID <= 0 {
		return Item{}, shared.Validationf("invalid item ID")
	}
	current, err := s.repo.GetItem(ctx, rc.TenantID, item.ID)
	if err != nil {
		return Item{}, err
	}
	item.TenantID = rc.TenantID
	item.CreatedAt = current.CreatedAt
	item = normalizeItem(item)
	if err := validateItem(item); err != nil {
		return Item{}, err
	}
	if err := s.repo.UpdateItem(ctx, item); err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, rc, "ITEM_UPDATE", "item", item.ID, map[string]any{"unit_cost": item.UnitCost, "tax_rate": item.TaxRate})
	return item, nil
}

// Vendor operations
func (s *service) ListVendors(ctx context.Context, rc shared.RequestContext, filters ListFilters) ([]Vendor, int, error) {
	return s.repo.ListVendors(ctx, rc.TenantID, filters)
}

func (s *service) GetVendor(ctx context.Context, tenantID, id int64) (Vendor, error) {
	if id <= 0 {
		return Vendor{}, shared.Validationf("invalid vendor ID")
	}
	return s.repo.GetVendor(ctx, tenantID, id)
}

func (s *service) CreateVendor(ctx context.Context, rc shared.RequestContext, vendor Vendor) (Vendor, error) {
	vendor.TenantID = rc.TenantID
	vendor.Code = strings.ToUpper(strings.TrimSpace(vendor.Code))
	vendor.Name = strings.TrimSpace(vendor.Name)
	if vendor.Status == "" {
		vendor.Status = StatusActive
	}
	if vendor.Code == "" || vendor.Name == "" {
		return Vendor{}, shared.Validationf("vendor code and name are required")
	}
	created, err := s.repo.CreateVendor(ctx, vendor)
	if err != nil {
		return Vendor{}, err
	}
	s.recordAudit(ctx, rc, "VENDOR_CREATE", "vendor", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

// Work area operations
func (s *service) ListWorkAreas(ctx context.Context, rc shared.RequestContext, filters ListFilters) ([]WorkArea, int, error) {
	return s.repo.ListWorkAreas(ctx, rc.Scope(), filters)
}

func (s *service) GetWorkArea(ctx context.Context, tenantID, id int64) (WorkArea, error) {
	if id <= 0 {
		return WorkArea{}, shared.Validationf("invalid work area ID")
	}
	return s.repo.GetWorkArea(ctx, tenantID, id)
}

func (s *service) CreateWorkArea(ctx context.Context, rc shared.RequestContext, wa WorkArea) (WorkArea, error) {
	branchID, err := rc.BranchForCreate()
	if err != nil {
		return WorkArea{}, err
	}
	wa.TenantID = rc.TenantID
	wa.BranchID = branchID
	wa.Name = strings.TrimSpace(wa.Name)
	if wa.Status == "" {
		wa.Status = StatusActive
	}
	if wa.Name == "" {
		return WorkArea{}, shared.Validationf("work area name is required")
	}
	created, err := s.repo.CreateWorkArea(ctx, wa)
	if err != nil {
		return WorkArea{}, err
	}
	s.recordAudit(ctx, rc, "WORK_AREA_CREATE", "work_area", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// WorkAreaBranch implements shared.WorkAreaDirectory. Inactive work areas
// cannot hold new stock movements.
func (s *service) WorkAreaBranch(ctx context.Context, tenantID, workAreaID int64) (int64, error) {
	wa, err := s.repo.GetWorkArea(ctx, tenantID, workAreaID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return 0, fmt.Errorf("%w: work area %d", shared.ErrNotFound, workAreaID)
		}
		return 0, err
	}
	if wa.Status != StatusActive {
		return 0, shared.Validationf("work area %d is inactive", workAreaID)
	}
	return wa.BranchID, nil
}

func (s *service) recordAudit(ctx context.Context, rc shared.RequestContext, action, entity string, id int64, details map[string]any) {
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditEntry{
		TenantID:    rc.TenantID,
		BranchID:    rc.BranchID,
		PerformedBy: rc.ActorID(),
		Action:      action,
		Entity:      entity,
		EntityID:    fmt.Sprint(id),
		Details:     details,
	})
}

func normalizeItem(item Item) Item {
	item.Code = strings.ToUpper(strings.TrimSpace(item.Code))
	item.Name = strings.TrimSpace(item.Name)
	item.InventoryUOM = strings.TrimSpace(item.InventoryUOM)
	if item.Status == "" {
		item.Status = StatusActive
	}
	return item
}

func validateItem(item Item) error {
	if item.Code == "" {
		return shared.Validationf("item code is required")
	}
	if item.Name == "" {
		return shared.Validationf("item name is required")
	}
	if item.UnitCost < 0 {
		return shared.Validationf("unit cost must be >= 0")
	}
	if item.TaxRate < 0 || item.TaxRate > 100 {
		return shared.Validationf("tax rate must be within 0-100")
	}
	if item.Status != StatusActive && item.Status != StatusInactive {
		return shared.Validationf("unknown item status %q", item.Status)
	}
	return nil
}
