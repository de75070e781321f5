package domain

import (
	"errors"

	"github.com/google/uuid"
)

var ErrNegativeStock = errors.New("available stock cannot go negative")

// InventoryRecord holds per-product stock counters. Available never goes
// negative; decrements are conditional and fail the whole unit otherwise.
type InventoryRecord struct {
	ProductID uuid.UUID
	Available int64
	Reserved  int64
}

// Decrement reduces available stock, rejecting any decrement that would
// leave it negative.
func (r *InventoryRecord) Decrement(quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if r.Available-quantity < 0 {
		return ErrNegativeStock
	}
	r.Available -= quantity
	return nil
}
