package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/ec-platform/internal/domain/product"
)

const pqUniqueViolation = "23505"

// ProductStore persists catalog entries and their category tree.
type ProductStore struct {
	db *sql.DB
}

func NewProductStore(db *sql.DB) *ProductStore {
	return &ProductStore{db: db}
}

func (s *ProductStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS categories (
			id        TEXT PRIMARY KEY,
			name      TEXT NOT NULL,
			slug      TEXT NOT NULL UNIQUE,
			parent_id TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS products (
			id             TEXT PRIMARY KEY,
			sku            TEXT NOT NULL UNIQUE,
			name           TEXT NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			price          DOUBLE PRECISION NOT NULL,
			sale_price     DOUBLE PRECISION NOT NULL DEFAULT 0,
			featured_image TEXT NOT NULL DEFAULT '',
			is_digital     BOOLEAN NOT NULL DEFAULT FALSE,
			weight         DOUBLE PRECISION NOT NULL DEFAULT 0,
			category_id    TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_products_category ON products (category_id)
	`)
	return err
}

func (s *ProductStore) Insert(ctx context.Context, p *product.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, description, price, sale_price, featured_image, is_digital, weight, category_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.SKU, p.Name, p.Description, p.Price, p.SalePrice,
		p.FeaturedImage, p.IsDigital, p.Weight, p.CategoryID, p.CreatedAt, p.UpdatedAt,
	)
	return mapDuplicate(err, product.ErrDuplicateSKU)
}

func (s *ProductStore) Update(ctx context.Context, p *product.Product) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET sku = $2, name = $3, description = $4, price = $5, sale_price = $6,
		    featured_image = $7, is_digital = $8, weight = $9, category_id = $10, updated_at = $11
		WHERE id = $1`,
		p.ID, p.SKU, p.Name, p.Description, p.Price, p.SalePrice,
		p.FeaturedImage, p.IsDigital, p.Weight, p.CategoryID, p.UpdatedAt,
	)
	if err != nil {
		return mapDuplicate(err, product.ErrDuplicateSKU)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return product.ErrNotFound
	}
	return nil
}

func (s *ProductStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return product.ErrNotFound
	}
	return nil
}

func (s *ProductStore) GetByID(ctx context.Context, id string) (*product.Product, error) {
	return s.getOne(ctx, `WHERE id = $1`, id)
}

func (s *ProductStore) GetBySKU(ctx context.Context, sku string) (*product.Product, error) {
	return s.getOne(ctx, `WHERE sku = $1`, sku)
}

func (s *ProductStore) getOne(ctx context.Context, where string, arg any) (*product.Product, error) {
	var p product.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, description, price, sale_price, featured_image, is_digital, weight, category_id, created_at, updated_at
		FROM products `+where, arg,
	).Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price, &p.SalePrice,
		&p.FeaturedImage, &p.IsDigital, &p.Weight, &p.CategoryID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, product.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns a page of products, optionally filtered by category.
func (s *ProductStore) List(ctx context.Context, categoryID string, limit, offset int) ([]*product.Product, error) {
	query := `
		SELECT id, sku, name, description, price, sale_price, featured_image, is_digital, weight, category_id, created_at, updated_at
		FROM products`
	args := []any{}
	if categoryID != "" {
		query += ` WHERE category_id = $1`
		args = append(args, categoryID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit, offset)
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*product.Product
	for rows.Next() {
		var p product.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price, &p.SalePrice,
			&p.FeaturedImage, &p.IsDigital, &p.Weight, &p.CategoryID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Categories returns every category row; the tree is assembled in memory.
func (s *ProductStore) Categories(ctx context.Context) ([]product.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, slug, parent_id FROM categories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []product.Category
	for rows.Next() {
		var c product.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.ParentID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *ProductStore) SaveCategory(ctx context.Context, c product.Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, slug, parent_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = $2, slug = $3, parent_id = $4`,
		c.ID, c.Name, c.Slug, c.ParentID,
	)
	return err
}

func mapDuplicate(err, sentinel error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return sentinel
	}
	return err
}
