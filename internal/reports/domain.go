package reports

import (
	"math"
	"time"
)

// DefaultLowStockThreshold marks a ledger row as running low.
const DefaultLowStockThreshold = 10.0

// DashboardStats summarises the caller's scope.
type DashboardStats struct {
	TotalStockValue float64 `json:"total_stock_value"`
	LowStockCount   int     `json:"low_stock_count"`
	PendingPOs      int     `json:"pending_pos"`
	PendingIndents  int     `json:"pending_indents"`
	ActiveItems     int     `json:"active_items"`
}

// DateRange bounds a report. From is inclusive, To exclusive; zero values are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	PerformedBy int64
	Entity      string
	Action      string
	Range       DateRange
}

// AuditRecord is one stored audit entry.
type AuditRecord struct {
	ID          int64          `json:"id"`
	TenantID    int64          `json:"tenant_id"`
	BranchID    int64          `json:"branch_id,omitempty"`
	PerformedBy int64          `json:"performed_by"`
	Action      string         `json:"action"`
	Entity      string         `json:"entity"`
	EntityID    string         `json:"entity_id,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// POStatusFilter narrows the purchase order status report.
type POStatusFilter struct {
	Status   string
	VendorID int64
	Range    DateRange
}

// POStatusRow is one purchase order with its receipt progress.
type POStatusRow struct {
	ID          int64      `json:"id"`
	BranchID    int64      `json:"branch_id"`
	Number      string     `json:"number"`
	VendorID    int64      `json:"vendor_id,omitempty"`
	VendorName  string     `json:"vendor_name"`
	Status      string     `json:"status"`
	Type        string     `json:"type"`
	TotalAmount float64    `json:"total_amount"`
	CreatedAt   time.Time  `json:"created_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	GRNCount    int        `json:"grn_count"`
}

// GRNFilter narrows receipt line reports.
type GRNFilter struct {
	VendorID int64
	Range    DateRange
	// OffStandard keeps only lines priced away from the item's standard cost.
	OffStandard bool
}

// OffStandard reports whether a received cost differs from standard by at least a cent.
func OffStandard(unitCost, standardCost float64) bool {
	return math.Abs(unitCost-standardCost) >= 0.005
}

// GRNLine is one received line joined with its receipt header and item master.
type GRNLine struct {
	GRNID           int64     `json:"grn_id"`
	GRNNumber       string    `json:"grn_number"`
	BranchID        int64     `json:"branch_id"`
	POID            int64     `json:"po_id,omitempty"`
	SOID            int64     `json:"so_id,omitempty"`
	VendorName      string    `json:"vendor_name"`
	VendorInvoiceNo string    `json:"vendor_invoice_no,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
	WorkAreaID      int64     `json:"work_area_id"`
	ItemID          int64     `json:"item_id"`
	ItemCode        string    `json:"item_code"`
	ItemName        string    `json:"item_name"`
	ReceivedQty     float64   `json:"received_qty"`
	UnitCost        float64   `json:"unit_cost"`
	StandardCost    float64   `json:"standard_cost"`
	TaxAmount       float64   `json:"tax_amount"`
	TotalAmount     float64   `json:"total_amount"`
}

// RateVariance is a receipt line priced away from the item's standard cost.
type RateVariance struct {
	GRNID           int64     `json:"grn_id"`
	GRNNumber       string    `json:"grn_number"`
	VendorInvoiceNo string    `json:"vendor_invoice_no,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
	ItemID          int64     `json:"item_id"`
	ItemName        string    `json:"item_name"`
	ReceivedCost    float64   `json:"received_cost"`
	StandardCost    float64   `json:"standard_cost"`
	Variance        float64   `json:"variance"`
	VariancePct     float64   `json:"variance_pct"`
}

// IndentIssueFilter narrows the indent issue report.
type IndentIssueFilter struct {
	WorkAreaID int64
	Range      DateRange
}

// IndentIssueLine shows how much of an approved line was issued.
type IndentIssueLine struct {
	IndentID     int64     `json:"indent_id"`
	BranchID     int64     `json:"branch_id"`
	WorkAreaID   int64     `json:"work_area_id"`
	IndentDate   time.Time `json:"indent_date"`
	IndentStatus string    `json:"indent_status"`
	ItemID       int64     `json:"item_id"`
	ItemCode     string    `json:"item_code"`
	ItemName     string    `json:"item_name"`
	RequestedQty float64   `json:"requested_qty"`
	ApprovedQty  float64   `json:"approved_qty"`
	IssuedQty    float64   `json:"issued_qty"`
	PendingQty   float64   `json:"pending_qty"`
}

// SupplierPurchase totals receipts per vendor.
type SupplierPurchase struct {
	VendorID    int64   `json:"vendor_id,omitempty"`
	VendorName  string  `json:"vendor_name"`
	GRNCount    int     `json:"grn_count"`
	TotalAmount float64 `json:"total_amount"`
}
