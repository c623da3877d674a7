package indent

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Status enumerates indent lifecycle states.
type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
	StatusCancelled       Status = "CANCELLED"
	StatusPartiallyIssued Status = "PARTIALLY_ISSUED"
	StatusIssued          Status = "ISSUED"
)

// Issuable reports whether stock may be issued against the indent.
func (s Status) Issuable() bool {
	return s == StatusApproved || s == StatusPartiallyIssued
}

// ProcurementStatus tracks whether a line has been placed on a purchase order.
type ProcurementStatus string

const (
	ProcurementPending  ProcurementStatus = "PENDING"
	ProcurementInPO     ProcurementStatus = "IN_PO"
	ProcurementProcured ProcurementStatus = "PROCURED"
)

// EntryType distinguishes free-form indents from package-based ones.
type EntryType string

const (
	EntryOpen    EntryType = "OPEN"
	EntryPackage EntryType = "PACKAGE"
)

// Issue record actions.
const (
	RecordApproved = "APPROVED"
	RecordIssued   = "ISSUED"
)

var (
	// ErrIndentNotFound is returned for unknown or out-of-scope indents.
	ErrIndentNotFound = fmt.Errorf("%w: indent", shared.ErrNotFound)
	// ErrIndentItemNotFound is returned for unknown indent lines.
	ErrIndentItemNotFound = fmt.Errorf("%w: indent item", shared.ErrNotFound)
)

// Indent is a work area's internal request for stock.
type Indent struct {
	ID         int64     `json:"id"`
	TenantID   int64     `json:"tenant_id"`
	BranchID   int64     `json:"branch_id"`
	WorkAreaID int64     `json:"work_area_id"`
	CreatedBy  int64     `json:"created_by"`
	IndentDate time.Time `json:"indent_date"`
	Status     Status    `json:"status"`
	Remarks    string    `json:"remarks,omitempty"`
	EntryType  EntryType `json:"entry_type"`
	IsPORaised bool      `json:"is_po_raised"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Items      []Item    `json:"items,omitempty"`
}

// Item is one requested line of an indent.
type Item struct {
	ID           int64   `json:"id"`
	IndentID     int64   `json:"indent_id"`
	ItemID       int64   `json:"item_id"`
	RequestedQty float64 `json:"requested_qty"`
	// ApprovedQty stays nil until the indent is approved.
	ApprovedQty       *float64          `json:"approved_qty"`
	POQty             float64           `json:"po_qty"`
	IssuedQty         float64           `json:"issued_qty"`
	PendingQty        float64           `json:"pending_qty"`
	ProcurementStatus ProcurementStatus `json:"procurement_status"`
}

// IssueRecord marks an approval or issuance milestone. It holds no quantities.
type IssueRecord struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	BranchID    int64     `json:"branch_id"`
	IndentID    int64     `json:"indent_id"`
	Action      string    `json:"action"`
	PerformedBy int64     `json:"performed_by"`
	Remarks     string    `json:"remarks,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// PoolEntry is one indent line with unresolved procurement demand.
type PoolEntry struct {
	IndentItemID int64     `json:"indent_item_id"`
	IndentID     int64     `json:"indent_id"`
	BranchID     int64     `json:"branch_id"`
	WorkAreaID   int64     `json:"work_area_id"`
	IndentDate   time.Time `json:"indent_date"`
	IndentStatus Status    `json:"indent_status"`
	IsPORaised   bool      `json:"is_po_raised"`
	ItemID       int64     `json:"item_id"`
	ItemCode     string    `json:"item_code"`
	ItemName     string    `json:"item_name"`
	CategoryID   int64     `json:"category_id"`
	RequestedQty float64   `json:"requested_qty"`
	ApprovedQty  float64   `json:"approved_qty"`
	IssuedQty    float64   `json:"issued_qty"`
	POQty        float64   `json:"po_qty"`
	PendingPOQty float64   `json:"pending_po_qty"`
}

// PoolRow is the raw read used to build a PoolEntry.
type PoolRow struct {
	Item       Item
	BranchID   int64
	WorkAreaID int64
	IndentDate time.Time
	Status     Status
	IsPORaised bool
	ItemCode   string
	ItemName   string
	CategoryID int64
}

// PoolFilter narrows the procurement pool.
type PoolFilter struct {
	BranchID   int64
	CategoryID int64
}

// BranchDigest summarises pool demand per branch.
type BranchDigest struct {
	BranchID     int64     `json:"branch_id"`
	Lines        int       `json:"lines"`
	Indents      int       `json:"indents"`
	PendingPOQty float64   `json:"pending_po_qty"`
	ComputedAt   time.Time `json:"computed_at"`
}

// ListFilters narrows indent listings.
type ListFilters struct {
	Status     Status
	WorkAreaID int64
	From       time.Time
	To         time.Time
	// EligibleForProcurement selects approved indents that still have pool demand
	// and no purchase order raised.
	EligibleForProcurement bool
}

// CreateInput describes a new indent.
type CreateInput struct {
	WorkAreaID int64
	EntryType  EntryType
	Remarks    string
	Lines      []LineInput
}

// LineInput is one requested line.
type LineInput struct {
	ItemID       int64
	RequestedQty float64
}

// ApproveInput carries optional per-line approved quantity overrides keyed by line ID.
type ApproveInput struct {
	Remarks     string
	ApprovedQty map[int64]float64
}

// IssueInput describes a stock issuance.
type IssueInput struct {
	SourceWorkAreaID int64
	Remarks          string
	Lines            []IssueLine
}

// IssueLine requests qty for one indent line.
type IssueLine struct {
	IndentItemID int64
	IssueQty     float64
}

// ItemCatalog resolves catalog items.
type ItemCatalog interface {
	GetItem(ctx context.Context, tenantID, id int64) (masterdata.Item, error)
}
