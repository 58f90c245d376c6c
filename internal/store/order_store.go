package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/ec-platform/internal/domain/order"
)

// OrderStore persists order aggregates. The full aggregate is stored as a
// JSONB document; the columns queried by list endpoints and the item
// containment lookup are broken out alongside it.
type OrderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

func (s *OrderStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id           UUID PRIMARY KEY,
			order_number TEXT NOT NULL UNIQUE,
			user_id      TEXT NOT NULL,
			status       TEXT NOT NULL,
			total        NUMERIC(12,2) NOT NULL,
			product_ids  TEXT[] NOT NULL,
			data         JSONB NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_orders_products ON orders USING GIN (product_ids);
	`)
	return err
}

func (s *OrderStore) Insert(ctx context.Context, o *order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, user_id, status, total, product_ids, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.OrderNumber, o.UserID, o.Status, o.Total, pq.Array(productIDs(o)), data, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (s *OrderStore) Update(ctx context.Context, o *order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $2, total = $3, product_ids = $4, data = $5, updated_at = $6
		WHERE id = $1`,
		o.ID, o.Status, o.Total, pq.Array(productIDs(o)), data, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

func (s *OrderStore) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return s.getOne(ctx, `SELECT data FROM orders WHERE id = $1`, id)
}

func (s *OrderStore) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return s.getOne(ctx, `SELECT data FROM orders WHERE order_number = $1`, number)
}

func (s *OrderStore) getOne(ctx context.Context, query, arg string) (*order.Order, error) {
	var data []byte
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, err
	}
	var o order.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &o, nil
}

func (s *OrderStore) ListByUser(ctx context.Context, userID string, limit int) ([]*order.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM orders WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListOpenByProduct returns non-terminal orders containing a product, used
// to flag lines when the product changes upstream.
func (s *OrderStore) ListOpenByProduct(ctx context.Context, productID string) ([]*order.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM orders
		WHERE $1 = ANY(product_ids)
		  AND status NOT IN ('completed', 'cancelled', 'refunded', 'delivered')`,
		productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]*order.Order, error) {
	var out []*order.Order
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var o order.Order
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func productIDs(o *order.Order) []string {
	ids := make([]string, len(o.Items))
	for i, it := range o.Items {
		ids[i] = it.ProductID
	}
	return ids
}
