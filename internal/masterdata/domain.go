package masterdata

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Status values shared by master records.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// ListFilters represents standard list page filters
type ListFilters struct {
	Search     string
	Status     string
	CategoryID int64
	BranchID   int64
	Page       shared.PageRequest
}

// Item is a catalog record. Its cost and tax default new purchase order lines.
type Item struct {
	ID            int64     `json:"id"`
	TenantID      int64     `json:"tenant_id"`
	Code          string    `json:"item_code"`
	Name          string    `json:"item_name"`
	CategoryID    int64     `json:"category_id"`
	SubCategoryID int64     `json:"sub_category_id,omitempty"`
	HSNCode       string    `json:"hsn_code,omitempty"`
	InventoryUOM  string    `json:"inventory_uom"`
	UnitCost      float64   `json:"unit_cost"`
	TaxRate       float64   `json:"tax_rate"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Vendor is a supplier record.
type Vendor struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkArea is a stock-holding location inside a branch.
type WorkArea struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	BranchID  int64     `json:"branch_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository persists master records.
type Repository interface {
	ListItems(ctx context.Context, tenantID int64, filters ListFilters) ([]Item, int, error)
	GetItem(ctx context.Context, tenantID, id int64) (Item, error)
	CreateItem(ctx context.Context, item Item) (Item, error)
	UpdateItem(ctx context.Context, item Item) error

	ListVendors(ctx context.Context, tenantID int64, filters ListFilters) ([]Vendor, int, error)
	GetVendor(ctx context.Context, tenantID, id int64) (Vendor, error)
	CreateVendor(ctx context.Context, vendor Vendor) (Vendor, error)

	ListWorkAreas(ctx context.Context, scope shared.ScopeFilter, filters ListFilters) ([]WorkArea, int, error)
	GetWorkArea(ctx context.Context, tenantID, id int64) (WorkArea, error)
	CreateWorkArea(ctx context.Context, wa WorkArea) (WorkArea, error)
}

// Service exposes master data operations.
type Service interface {
	ListItems(ctx context.Context, rc shared.RequestContext, filters ListFilters) ([]Item, int, error)
	GetItem(ctx context.Context, tenantID, id int64) (Item, error)
	CreateItem(ctx context.Context, rc shared.RequestContext, item Item) (Item, error)
	UpdateItem(ctx context.Context, rc shared.RequestContext, item Item) (Item, error)

	ListVendors(ctx context.Context, rc shared.RequestContext, filters ListFilters) ([]Vendor, int, error)
	GetVendor(ctx context.Context, tenantID, id int64) (Vendor, error)
	CreateVendor(ctx context.Context, rc shared.RequestContext, vendor Vendor) (Vendor, error)

	ListWorkAreas(ctx context.Context, rc shared.RequestContext, filters ListFilters) ([]WorkArea, int, error)
	GetWorkArea(ctx context.Context, tenantID, id int64) (WorkArea, error)
	CreateWorkArea(ctx context.Context, rc shared.RequestContext, wa WorkArea) (WorkArea, error)
	WorkAreaBranch(ctx context.Context, tenantID, workAreaID int64) (int64, error)
}
