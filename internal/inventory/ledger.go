package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// TxStore is the transactional view of the ledger. Callers obtain it from
// their own unit of work so that ledger writes commit with the business
// document that caused them.
type TxStore interface {
	// GetStockForUpdate loads and row-locks a ledger row, returning
	// ErrStockNotFound when it does not exist yet.
	GetStockForUpdate(ctx context.Context, key StockKey) (Stock, error)
	// AddStock atomically adds delta to the row, creating it at zero first
	// when absent, and returns the new balance.
	AddStock(ctx context.Context, key StockKey, delta float64) (Stock, error)
	InsertMovement(ctx context.Context, m Movement) error
}

// Increment credits qty to the row at key, creating it on first touch.
func Increment(ctx context.Context, tx TxStore, key StockKey, qty float64, ref Reference) (Stock, error) {
	if err := key.validate(); err != nil {
		return Stock{}, err
	}
	if qty <= 0 {
		return Stock{}, ErrInvalidQuantity
	}
	stock, err := tx.AddStock(ctx, key, qty)
	if err != nil {
		return Stock{}, err
	}
	if err := tx.InsertMovement(ctx, newMovement(key, qty, stock.Quantity, ref)); err != nil {
		return Stock{}, err
	}
	return stock, nil
}

// Decrement debits qty from the row at key. A missing row or a balance lower
// than qty fails with an insufficient-stock error and leaves the row untouched.
func Decrement(ctx context.Context, tx TxStore, key StockKey, qty float64, ref Reference) (Stock, error) {
	if err := key.validate(); err != nil {
		return Stock{}, err
	}
	if qty <= 0 {
		return Stock{}, ErrInvalidQuantity
	}
	current, err := tx.GetStockForUpdate(ctx, key)
	if errors.Is(err, ErrStockNotFound) {
		return Stock{}, shared.InsufficientStock(key.ItemID, qty, 0)
	}
	if err != nil {
		return Stock{}, err
	}
	if shared.QtyGreater(qty, current.Quantity) {
		return Stock{}, shared.InsufficientStock(key.ItemID, qty, current.Quantity)
	}
	stock, err := tx.AddStock(ctx, key, -qty)
	if err != nil {
		return Stock{}, err
	}
	if err := tx.InsertMovement(ctx, newMovement(key, -qty, stock.Quantity, ref)); err != nil {
		return Stock{}, err
	}
	return stock, nil
}

func newMovement(key StockKey, signed, balance float64, ref Reference) Movement {
	return Movement{
		StockKey:     key,
		Type:         ref.Type,
		Qty:          shared.RoundQty(signed),
		BalanceAfter: shared.RoundQty(balance),
		RefModule:    ref.Module,
		RefID:        ref.RefID,
		Note:         ref.Note,
		ActorID:      ref.ActorID,
		PostedAt:     time.Now().UTC(),
	}
}
