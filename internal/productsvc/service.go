// Package productsvc is the product service: the catalog, its category
// tree, and the stock ledger. It owns inventory exclusively; the order
// service only reaches stock through the events the orchestrator consumes.
package productsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ec-platform/internal/domain/inventory"
	"github.com/example/ec-platform/internal/domain/product"
	"github.com/example/ec-platform/internal/events"
	"github.com/example/ec-platform/internal/logging"
)

// CatalogStore is the product persistence surface.
type CatalogStore interface {
	Insert(ctx context.Context, p *product.Product) error
	Update(ctx context.Context, p *product.Product) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*product.Product, error)
	GetBySKU(ctx context.Context, sku string) (*product.Product, error)
	List(ctx context.Context, categoryID string, limit, offset int) ([]*product.Product, error)
	Categories(ctx context.Context) ([]product.Category, error)
	SaveCategory(ctx context.Context, c product.Category) error
}

// Ledger is the stock persistence surface. Mutations are atomic
// conditional writes; preconditions surface as the inventory package's
// sentinel errors.
type Ledger interface {
	Create(ctx context.Context, inv *inventory.Inventory) error
	Get(ctx context.Context, productID string) (*inventory.Inventory, error)
	Reserve(ctx context.Context, productID string, amount int) error
	ReleaseReservation(ctx context.Context, productID string, amount int) error
	ReduceStock(ctx context.Context, productID string, amount int) error
	AddStock(ctx context.Context, productID string, amount int) error
}

// Publisher sends enveloped events to the product exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, data any) error
}

type Service struct {
	catalog   CatalogStore
	ledger    Ledger
	publisher Publisher
	log       *slog.Logger
}

func NewService(catalog CatalogStore, ledger Ledger, publisher Publisher) *Service {
	return &Service{
		catalog:   catalog,
		ledger:    ledger,
		publisher: publisher,
		log:       logging.New("productsvc"),
	}
}

// CreateRequest is what the admin catalog API accepts.
type CreateRequest struct {
	SKU             string  `json:"sku" binding:"required"`
	Name            string  `json:"name" binding:"required"`
	Description     string  `json:"description"`
	Price           float64 `json:"price" binding:"required,gt=0"`
	SalePrice       float64 `json:"salePrice"`
	FeaturedImage   string  `json:"featuredImage"`
	IsDigital       bool    `json:"isDigital"`
	Weight          float64 `json:"weight"`
	CategoryID      string  `json:"categoryId"`
	InitialQuantity int     `json:"initialQuantity"`
}

// Create inserts the product and its ledger row in one logical operation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*product.Product, error) {
	now := time.Now()
	p := &product.Product{
		ID:            uuid.New().String(),
		SKU:           req.SKU,
		Name:          req.Name,
		Description:   req.Description,
		Price:         req.Price,
		SalePrice:     req.SalePrice,
		FeaturedImage: req.FeaturedImage,
		IsDigital:     req.IsDigital,
		Weight:        req.Weight,
		CategoryID:    req.CategoryID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.catalog.Insert(ctx, p); err != nil {
		return nil, err
	}
	if err := s.ledger.Create(ctx, &inventory.Inventory{
		ProductID:         p.ID,
		Quantity:          req.InitialQuantity,
		LowStockThreshold: 5,
		UpdatedAt:         now,
	}); err != nil {
		return nil, fmt.Errorf("create inventory row: %w", err)
	}
	return p, nil
}

// UpdateRequest carries partial catalog updates; nil fields keep their
// current value.
type UpdateRequest struct {
	Name          *string  `json:"name"`
	Description   *string  `json:"description"`
	Price         *float64 `json:"price"`
	SalePrice     *float64 `json:"salePrice"`
	FeaturedImage *string  `json:"featuredImage"`
	CategoryID    *string  `json:"categoryId"`
}

// Update persists the change, then publishes product.updated so open
// orders holding the product get flagged.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*product.Product, error) {
	p, err := s.catalog.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.SalePrice != nil {
		p.SalePrice = *req.SalePrice
	}
	if req.FeaturedImage != nil {
		p.FeaturedImage = *req.FeaturedImage
	}
	if req.CategoryID != nil {
		p.CategoryID = *req.CategoryID
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.UpdatedAt = time.Now()
	if err := s.catalog.Update(ctx, p); err != nil {
		return nil, err
	}

	s.publish(ctx, events.ProductUpdated, events.ProductUpdatedData{
		ProductID: p.ID,
		SKU:       p.SKU,
		Name:      p.Name,
		Price:     p.Price,
		SalePrice: p.SalePrice,
		UpdatedAt: p.UpdatedAt,
	})
	return p, nil
}

// Delete removes the product and publishes product.deleted. The ledger row
// stays: open orders may still release reservations against it.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.catalog.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, events.ProductDeleted, events.ProductDeletedData{
		ProductID: id,
		DeletedAt: time.Now(),
	})
	return nil
}

// Snapshot is the catalog view served to clients, product plus the derived
// stock fields checkout depends on.
type Snapshot struct {
	product.Product
	AvailableStock int  `json:"availableStock"`
	InStock        bool `json:"inStock"`
	LowStock       bool `json:"lowStock"`
}

func (s *Service) Get(ctx context.Context, id string) (*Snapshot, error) {
	p, err := s.catalog.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, p)
}

func (s *Service) GetBySKU(ctx context.Context, sku string) (*Snapshot, error) {
	p, err := s.catalog.GetBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, p)
}

func (s *Service) snapshot(ctx context.Context, p *product.Product) (*Snapshot, error) {
	snap := &Snapshot{Product: *p}
	inv, err := s.ledger.Get(ctx, p.ID)
	if err != nil && !errors.Is(err, inventory.ErrNotFound) {
		return nil, err
	}
	if err == nil {
		snap.AvailableStock = inv.AvailableStock()
		snap.InStock = inv.InStock()
		snap.LowStock = inv.LowStock()
	}
	if p.IsDigital {
		snap.InStock = true
	}
	return snap, nil
}

func (s *Service) List(ctx context.Context, categoryID string, limit, offset int) ([]*product.Product, error) {
	return s.catalog.List(ctx, categoryID, limit, offset)
}

// Inventory returns the raw ledger row.
func (s *Service) Inventory(ctx context.Context, productID string) (*inventory.Inventory, error) {
	return s.ledger.Get(ctx, productID)
}

// Restock adds stock and announces the new level.
func (s *Service) Restock(ctx context.Context, productID string, amount int) (*inventory.Inventory, error) {
	if err := s.ledger.AddStock(ctx, productID, amount); err != nil {
		return nil, err
	}
	inv, err := s.ledger.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	s.publishInventory(ctx, inv)
	return inv, nil
}

// Categories returns the full tree.
func (s *Service) Categories(ctx context.Context) (*product.CategoryTree, []product.Category, error) {
	cats, err := s.catalog.Categories(ctx)
	if err != nil {
		return nil, nil, err
	}
	return product.NewCategoryTree(cats), cats, nil
}

func (s *Service) SaveCategory(ctx context.Context, c product.Category) (product.Category, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	cats, err := s.catalog.Categories(ctx)
	if err != nil {
		return product.Category{}, err
	}
	if c.ParentID != "" {
		tree := product.NewCategoryTree(append(cats, c))
		if err := tree.Reparent(c.ID, c.ParentID); err != nil {
			return product.Category{}, err
		}
	}
	if err := s.catalog.SaveCategory(ctx, c); err != nil {
		return product.Category{}, err
	}
	return c, nil
}

func (s *Service) publishInventory(ctx context.Context, inv *inventory.Inventory) {
	s.publish(ctx, events.ProductInventoryUpdated, events.ProductInventoryUpdatedData{
		ProductID:      inv.ProductID,
		Quantity:       inv.Quantity,
		AvailableStock: inv.AvailableStock(),
		InStock:        inv.InStock(),
		UpdatedAt:      inv.UpdatedAt,
	})
}

func (s *Service) publish(ctx context.Context, routingKey string, data any) {
	if err := s.publisher.Publish(ctx, routingKey, data); err != nil {
		s.log.Error("publish failed", "event", routingKey, "error", err)
	}
}
