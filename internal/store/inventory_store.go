package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/ec-platform/internal/domain/inventory"
)

// InventoryStore persists the stock ledger. Every mutation is a single
// conditional UPDATE so concurrent reservations against the same product
// cannot lose updates; the precondition lives in the WHERE clause.
type InventoryStore struct {
	db *sql.DB
}

func NewInventoryStore(db *sql.DB) *InventoryStore {
	return &InventoryStore{db: db}
}

func (s *InventoryStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS inventory (
			product_id          TEXT PRIMARY KEY,
			quantity            INT NOT NULL DEFAULT 0 CHECK (quantity >= 0),
			reserved_quantity   INT NOT NULL DEFAULT 0 CHECK (reserved_quantity >= 0),
			low_stock_threshold INT NOT NULL DEFAULT 5,
			backorder_allowed   BOOLEAN NOT NULL DEFAULT FALSE,
			last_restock_date   TIMESTAMPTZ,
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

// Create inserts the ledger row that accompanies a new product.
func (s *InventoryStore) Create(ctx context.Context, inv *inventory.Inventory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory (product_id, quantity, reserved_quantity, low_stock_threshold, backorder_allowed, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (product_id) DO NOTHING`,
		inv.ProductID, inv.Quantity, inv.ReservedQuantity, inv.LowStockThreshold, inv.BackorderAllowed,
	)
	return err
}

func (s *InventoryStore) Get(ctx context.Context, productID string) (*inventory.Inventory, error) {
	var inv inventory.Inventory
	err := s.db.QueryRowContext(ctx, `
		SELECT product_id, quantity, reserved_quantity, low_stock_threshold, backorder_allowed, last_restock_date, updated_at
		FROM inventory WHERE product_id = $1`, productID,
	).Scan(&inv.ProductID, &inv.Quantity, &inv.ReservedQuantity, &inv.LowStockThreshold,
		&inv.BackorderAllowed, &inv.LastRestockDate, &inv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Reserve soft-holds stock if enough is available.
func (s *InventoryStore) Reserve(ctx context.Context, productID string, amount int) error {
	if amount <= 0 {
		return inventory.ErrInvalidQuantity
	}
	return s.conditionalUpdate(ctx, `
		UPDATE inventory
		SET reserved_quantity = reserved_quantity + $2, updated_at = now()
		WHERE product_id = $1 AND quantity - reserved_quantity >= $2`,
		productID, amount, inventory.ErrInsufficientStock)
}

// ReleaseReservation undoes a soft hold.
func (s *InventoryStore) ReleaseReservation(ctx context.Context, productID string, amount int) error {
	if amount <= 0 {
		return inventory.ErrInvalidQuantity
	}
	return s.conditionalUpdate(ctx, `
		UPDATE inventory
		SET reserved_quantity = reserved_quantity - $2, updated_at = now()
		WHERE product_id = $1 AND reserved_quantity >= $2`,
		productID, amount, inventory.ErrInvalidState)
}

// ReduceStock hard-decrements the physical count.
func (s *InventoryStore) ReduceStock(ctx context.Context, productID string, amount int) error {
	if amount <= 0 {
		return inventory.ErrInvalidQuantity
	}
	return s.conditionalUpdate(ctx, `
		UPDATE inventory
		SET quantity = quantity - $2, updated_at = now()
		WHERE product_id = $1 AND quantity >= $2`,
		productID, amount, inventory.ErrInsufficientStock)
}

// AddStock restocks and stamps the restock date.
func (s *InventoryStore) AddStock(ctx context.Context, productID string, amount int) error {
	if amount <= 0 {
		return inventory.ErrInvalidQuantity
	}
	return s.conditionalUpdate(ctx, `
		UPDATE inventory
		SET quantity = quantity + $2, last_restock_date = now(), updated_at = now()
		WHERE product_id = $1`,
		productID, amount, nil)
}

// conditionalUpdate runs an UPDATE whose WHERE clause encodes the
// precondition. Zero rows affected means either a missing row or a violated
// precondition; a follow-up existence check tells them apart.
func (s *InventoryStore) conditionalUpdate(ctx context.Context, query, productID string, amount int, preconditionErr error) error {
	res, err := s.db.ExecContext(ctx, query, productID, amount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM inventory WHERE product_id = $1)`, productID,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return inventory.ErrNotFound
	}
	if preconditionErr != nil {
		return preconditionErr
	}
	return nil
}
