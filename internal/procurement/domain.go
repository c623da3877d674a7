package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusPending   POStatus = "PENDING"
	POStatusApproved  POStatus = "APPROVED"
	POStatusClosed    POStatus = "CLOSED"
	POStatusCancelled POStatus = "CANCELLED"
)

// Editable reports whether the order can still be changed, cancelled or deleted.
func (s POStatus) Editable() bool {
	return s == POStatusPending || s == POStatusDraft
}

// Active reports whether the order still holds indent demand.
func (s POStatus) Active() bool {
	return s.Editable() || s == POStatusApproved
}

// POType separates pool-driven procurement from special purchases.
type POType string

const (
	POTypeStandard POType = "STANDARD"
	POTypeSpecial  POType = "SPECIAL"
)

// Special order lifecycle statuses.
type SOStatus string

const (
	SOStatusOpen     SOStatus = "OPEN"
	SOStatusApproved SOStatus = "APPROVED"
	SOStatusClosed   SOStatus = "CLOSED"
)

var (
	// ErrPONotFound is returned for unknown or out-of-scope purchase orders.
	ErrPONotFound = fmt.Errorf("%w: purchase order", shared.ErrNotFound)
	// ErrPOItemNotFound is returned for unknown purchase order lines.
	ErrPOItemNotFound = fmt.Errorf("%w: purchase order item", shared.ErrNotFound)
	// ErrSONotFound is returned for unknown or out-of-scope special orders.
	ErrSONotFound = fmt.Errorf("%w: special order", shared.ErrNotFound)
	// ErrGRNNotFound is returned for unknown or out-of-scope goods receipts.
	ErrGRNNotFound = fmt.Errorf("%w: goods receipt", shared.ErrNotFound)
	// ErrGRNItemNotFound is returned when a return names an item the receipt never held.
	ErrGRNItemNotFound = fmt.Errorf("%w: goods receipt item", shared.ErrNotFound)
)

// PurchaseOrder is a commitment to buy from a vendor.
type PurchaseOrder struct {
	ID           int64      `json:"id"`
	TenantID     int64      `json:"tenant_id"`
	BranchID     int64      `json:"branch_id"`
	Number       string     `json:"number"`
	VendorID     int64      `json:"vendor_id,omitempty"`
	VendorName   string     `json:"vendor_name"`
	CreatedBy    int64      `json:"created_by"`
	ApprovedBy   int64      `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	DeliveryDate *time.Time `json:"delivery_date,omitempty"`
	Status       POStatus   `json:"status"`
	Type         POType     `json:"type"`
	TotalAmount  float64    `json:"total_amount"`
	Note         string     `json:"note,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Items        []POItem   `json:"items,omitempty"`
}

// POItem is one purchase order line. IndentItemID links it to pooled demand.
type POItem struct {
	ID           int64   `json:"id"`
	POID         int64   `json:"po_id"`
	ItemID       int64   `json:"item_id,omitempty"`
	ItemName     string  `json:"item_name"`
	IndentID     int64   `json:"indent_id,omitempty"`
	IndentItemID int64   `json:"indent_item_id,omitempty"`
	Quantity     float64 `json:"quantity"`
	UnitCost     float64 `json:"unit_cost"`
	TaxRate      float64 `json:"tax_rate"`
	TotalAmount  float64 `json:"total_amount"`
}

// SpecialOrder is an off-pool purchase that goods may be received against.
type SpecialOrder struct {
	ID           int64      `json:"id"`
	TenantID     int64      `json:"tenant_id"`
	BranchID     int64      `json:"branch_id"`
	Number       string     `json:"number"`
	VendorID     int64      `json:"vendor_id,omitempty"`
	VendorName   string     `json:"vendor_name"`
	SODate       time.Time  `json:"so_date"`
	DeliveryDate *time.Time `json:"delivery_date,omitempty"`
	Status       SOStatus   `json:"status"`
	CreatedBy    int64      `json:"created_by"`
	ApprovedBy   int64      `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	TotalAmount  float64    `json:"total_amount"`
	Note         string     `json:"note,omitempty"`
	Items        []SOItem   `json:"items,omitempty"`
}

// SOItem is one special order line.
type SOItem struct {
	ID          int64   `json:"id"`
	SOID        int64   `json:"so_id"`
	ItemID      int64   `json:"item_id,omitempty"`
	ItemName    string  `json:"item_name"`
	Quantity    float64 `json:"quantity"`
	UnitCost    float64 `json:"unit_cost"`
	TotalAmount float64 `json:"total_amount"`
}

// GRN records goods received against exactly one of a purchase or special order.
type GRN struct {
	ID                int64      `json:"id"`
	TenantID          int64      `json:"tenant_id"`
	BranchID          int64      `json:"branch_id"`
	Number            string     `json:"number"`
	POID              int64      `json:"po_id,omitempty"`
	SOID              int64      `json:"so_id,omitempty"`
	VendorInvoiceNo   string     `json:"vendor_invoice_no,omitempty"`
	VendorInvoiceDate *time.Time `json:"vendor_invoice_date,omitempty"`
	ReceivedAt        time.Time  `json:"received_at"`
	WorkAreaID        int64      `json:"work_area_id"`
	ReceivedBy        int64      `json:"received_by"`
	TotalAmount       float64    `json:"total_amount"`
	CreatedAt         time.Time  `json:"created_at"`
	Items             []GRNItem  `json:"items,omitempty"`
}

// GRNItem is one received line.
type GRNItem struct {
	ID          int64   `json:"id"`
	GRNID       int64   `json:"grn_id"`
	ItemID      int64   `json:"item_id"`
	ReceivedQty float64 `json:"received_qty"`
	UnitCost    float64 `json:"unit_cost"`
	TaxAmount   float64 `json:"tax_amount"`
	TotalAmount float64 `json:"total_amount"`
}

// RTV returns previously received goods to the vendor.
type RTV struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	BranchID    int64     `json:"branch_id"`
	GRNID       int64     `json:"grn_id"`
	ItemID      int64     `json:"item_id"`
	ReturnedQty float64   `json:"returned_qty"`
	Reason      string    `json:"reason,omitempty"`
	ProcessedBy int64     `json:"processed_by"`
	ReturnedAt  time.Time `json:"returned_at"`
}

// POFilters narrows purchase order listings.
type POFilters struct {
	Status   POStatus
	VendorID int64
}

// SOFilters narrows special order listings.
type SOFilters struct {
	Status SOStatus
}

// GRNFilters narrows goods receipt listings.
type GRNFilters struct {
	POID int64
	SOID int64
}

// RTVFilters narrows return listings.
type RTVFilters struct {
	GRNID int64
}

// CreatePOInput describes a purchase order with explicit lines.
type CreatePOInput struct {
	VendorID     int64
	VendorName   string
	DeliveryDate *time.Time
	Type         POType
	Note         string
	Lines        []POLineInput
}

// POLineInput is one requested PO line. UnitCost and TaxRate default from the
// item master when nil.
type POLineInput struct {
	ItemID       int64
	ItemName     string
	Quantity     float64
	UnitCost     *float64
	TaxRate      *float64
	IndentItemID int64
}

// FromPoolInput converts pooled indent lines into a DRAFT purchase order.
type FromPoolInput struct {
	VendorID     int64
	VendorName   string
	DeliveryDate *time.Time
	Note         string
	Items        []PoolPick
}

// PoolPick selects one indent line. Quantity defaults to the line's pool quantity.
type PoolPick struct {
	IndentItemID int64
	Quantity     *float64
}

// UpdatePOInput changes the vendor or delivery date of an editable order.
type UpdatePOInput struct {
	VendorID     int64
	VendorName   string
	DeliveryDate *time.Time
}

// CreateSOInput describes a special order.
type CreateSOInput struct {
	VendorID     int64
	VendorName   string
	DeliveryDate *time.Time
	Note         string
	Lines        []SOLineInput
}

// SOLineInput is one special order line.
type SOLineInput struct {
	ItemID   int64
	ItemName string
	Quantity float64
	UnitCost *float64
}

// CreateGRNInput describes a goods receipt.
type CreateGRNInput struct {
	POID              int64
	SOID              int64
	VendorInvoiceNo   string
	VendorInvoiceDate *time.Time
	ReceivedAt        time.Time
	WorkAreaID        int64
	Lines             []GRNLineInput
	// IdempotencyKey makes client retries safe when set.
	IdempotencyKey string
}

// GRNLineInput is one received line.
type GRNLineInput struct {
	ItemID      int64
	ReceivedQty float64
	UnitCost    float64
	TaxAmount   float64
}

// CreateRTVInput describes a return against one receipt.
type CreateRTVInput struct {
	GRNID int64
	Lines []RTVLineInput
}

// RTVLineInput is one returned item.
type RTVLineInput struct {
	ItemID      int64
	ReturnedQty float64
	Reason      string
}

// ItemCatalog resolves catalog items for cost and tax defaults.
type ItemCatalog interface {
	GetItem(ctx context.Context, tenantID, id int64) (masterdata.Item, error)
}

// VendorDirectory resolves vendor names.
type VendorDirectory interface {
	GetVendor(ctx context.Context, tenantID, id int64) (masterdata.Vendor, error)
}

// IdempotencyPort claims request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, tenantID int64, key, module string) error
	Delete(ctx context.Context, tenantID int64, key, module string) error
}
