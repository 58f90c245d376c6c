// Package inventory holds the per-product stock ledger: a physical count
// plus a soft-held reserved count. Reservations become hard decrements at
// payment time (release then reduce) and are undone on cancellation.
package inventory

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("inventory record not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("reserved quantity lower than release amount")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

type Inventory struct {
	ProductID         string     `json:"productId"`
	Quantity          int        `json:"quantity"`
	ReservedQuantity  int        `json:"reservedQuantity"`
	LowStockThreshold int        `json:"lowStockThreshold"`
	BackorderAllowed  bool       `json:"backorderAllowed"`
	LastRestockDate   *time.Time `json:"lastRestockDate,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// AvailableStock is what can still be reserved.
func (i *Inventory) AvailableStock() int {
	if a := i.Quantity - i.ReservedQuantity; a > 0 {
		return a
	}
	return 0
}

// InStock is derived from the physical count alone.
func (i *Inventory) InStock() bool {
	return i.Quantity > 0
}

func (i *Inventory) LowStock() bool {
	return i.AvailableStock() <= i.LowStockThreshold
}

// Reserve soft-holds stock for an order. Counters are left untouched on
// failure.
func (i *Inventory) Reserve(amount int) error {
	if amount <= 0 {
		return ErrInvalidQuantity
	}
	if i.AvailableStock() < amount {
		return ErrInsufficientStock
	}
	i.ReservedQuantity += amount
	i.UpdatedAt = time.Now()
	return nil
}

// ReleaseReservation undoes a soft hold.
func (i *Inventory) ReleaseReservation(amount int) error {
	if amount <= 0 {
		return ErrInvalidQuantity
	}
	if i.ReservedQuantity < amount {
		return ErrInvalidState
	}
	i.ReservedQuantity -= amount
	i.UpdatedAt = time.Now()
	return nil
}

// ReduceStock hard-decrements the physical count.
func (i *Inventory) ReduceStock(amount int) error {
	if amount <= 0 {
		return ErrInvalidQuantity
	}
	if i.Quantity < amount {
		return ErrInsufficientStock
	}
	i.Quantity -= amount
	i.UpdatedAt = time.Now()
	return nil
}

// AddStock restocks the physical count and stamps the restock date.
func (i *Inventory) AddStock(amount int) error {
	if amount <= 0 {
		return ErrInvalidQuantity
	}
	i.Quantity += amount
	now := time.Now()
	i.LastRestockDate = &now
	i.UpdatedAt = now
	return nil
}
