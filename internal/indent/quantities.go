package indent

import (
	"math"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// ResolveApprovedQty returns the line's approved quantity, which defaults to
// the requested quantity until a manager overrides it.
func ResolveApprovedQty(line Item) float64 {
	if line.ApprovedQty != nil {
		return *line.ApprovedQty
	}
	return line.RequestedQty
}

// ResolvePoolQty returns the quantity still eligible for a new purchase order:
// the approved remainder not yet issued and not yet placed on a PO.
func ResolvePoolQty(line Item) float64 {
	return shared.RoundQty(math.Max(0, ResolveApprovedQty(line)-line.IssuedQty-line.POQty))
}

// ResolvePendingQty returns the approved remainder not yet issued.
func ResolvePendingQty(line Item) float64 {
	return shared.RoundQty(math.Max(0, ResolveApprovedQty(line)-line.IssuedQty))
}

// IssuableQty returns how much may still be issued on the line.
func IssuableQty(line Item) float64 {
	return ResolvePendingQty(line)
}

// RollupStatus derives the indent status after an issuance.
func RollupStatus(current Status, lines []Item) Status {
	var approved, issued float64
	for _, l := range lines {
		approved += ResolveApprovedQty(l)
		issued += l.IssuedQty
	}
	switch {
	case !shared.QtyGreater(approved, issued):
		return StatusIssued
	case shared.QtyGreater(issued, 0):
		return StatusPartiallyIssued
	default:
		return current
	}
}

// ToPoolEntry projects a pool read, computing the pending PO quantity.
func ToPoolEntry(row PoolRow) PoolEntry {
	return PoolEntry{
		IndentItemID: row.Item.ID,
		IndentID:     row.Item.IndentID,
		BranchID:     row.BranchID,
		WorkAreaID:   row.WorkAreaID,
		IndentDate:   row.IndentDate,
		IndentStatus: row.Status,
		IsPORaised:   row.IsPORaised,
		ItemID:       row.Item.ItemID,
		ItemCode:     row.ItemCode,
		ItemName:     row.ItemName,
		CategoryID:   row.CategoryID,
		RequestedQty: row.Item.RequestedQty,
		ApprovedQty:  ResolveApprovedQty(row.Item),
		IssuedQty:    row.Item.IssuedQty,
		POQty:        row.Item.POQty,
		PendingPOQty: ResolvePoolQty(row.Item),
	}
}
