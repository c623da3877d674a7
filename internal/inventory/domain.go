package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// MovementType enumerates ledger movements.
type MovementType string

const (
	// MovementReceipt credits stock from a goods receipt.
	MovementReceipt MovementType = "RECEIPT"
	// MovementIssue debits stock issued against an indent.
	MovementIssue MovementType = "ISSUE"
	// MovementReturn debits stock returned to a vendor.
	MovementReturn MovementType = "RETURN"
	// MovementAdjust records manual corrections in either direction.
	MovementAdjust MovementType = "ADJUST"
)

// StockKey identifies one ledger row.
type StockKey struct {
	TenantID   int64 `json:"tenant_id"`
	BranchID   int64 `json:"branch_id"`
	WorkAreaID int64 `json:"work_area_id"`
	ItemID     int64 `json:"item_id"`
}

func (k StockKey) String() string {
	return fmt.Sprintf("%d/%d/%d/%d", k.TenantID, k.BranchID, k.WorkAreaID, k.ItemID)
}

func (k StockKey) validate() error {
	if k.TenantID <= 0 || k.BranchID <= 0 || k.WorkAreaID <= 0 || k.ItemID <= 0 {
		return shared.Validationf("stock key %s incomplete", k)
	}
	return nil
}

// Stock is the quantity on hand for a key.
type Stock struct {
	StockKey
	Quantity  float64   `json:"quantity_in_stock"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Movement is a journal row written for every ledger mutation.
type Movement struct {
	ID           int64        `json:"id"`
	StockKey
	Type         MovementType `json:"type"`
	Qty          float64      `json:"qty"`
	BalanceAfter float64      `json:"balance_after"`
	RefModule    string       `json:"ref_module"`
	RefID        string       `json:"ref_id"`
	Note         string       `json:"note,omitempty"`
	ActorID      int64        `json:"actor_id"`
	PostedAt     time.Time    `json:"posted_at"`
}

// Reference ties a ledger mutation to the business document that caused it.
type Reference struct {
	Type    MovementType
	Module  string
	RefID   string
	ActorID int64
	Note    string
}

// AdjustmentInput describes a manual correction.
type AdjustmentInput struct {
	ItemID     int64
	WorkAreaID int64
	// Qty is signed: positive credits, negative debits.
	Qty    float64
	Reason string
}

// StockFilter narrows stock listings.
type StockFilter struct {
	WorkAreaID int64
	ItemID     int64
}

// MovementFilter narrows stock-card listings.
type MovementFilter struct {
	WorkAreaID int64
	ItemID     int64
	From       time.Time
	To         time.Time
	Limit      int
}

// Drift reports a ledger row whose balance disagrees with its journal.
type Drift struct {
	StockKey
	Quantity    float64 `json:"quantity_in_stock"`
	JournalSum  float64 `json:"journal_sum"`
	Discrepancy float64 `json:"discrepancy"`
}

// ErrStockNotFound indicates a missing ledger row.
var ErrStockNotFound = errors.New("inventory: stock row not found")

// ErrInvalidQuantity indicates a non-positive primitive quantity.
var ErrInvalidQuantity = fmt.Errorf("%w: inventory quantity must be positive", shared.ErrValidation)
