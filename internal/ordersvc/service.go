// Package ordersvc is the order service: checkout, order lifecycle
// transitions, and the order events other services consume. Every mutation
// is persisted before its event is published; events are best-effort and
// the ledger reconciles through redelivery.
package ordersvc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ec-platform/internal/domain/order"
	"github.com/example/ec-platform/internal/events"
	"github.com/example/ec-platform/internal/logging"
	"github.com/example/ec-platform/internal/principal"
)

// Store is the order persistence surface the service needs.
type Store interface {
	Insert(ctx context.Context, o *order.Order) error
	Update(ctx context.Context, o *order.Order) error
	GetByID(ctx context.Context, id string) (*order.Order, error)
	GetByNumber(ctx context.Context, number string) (*order.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*order.Order, error)
	ListOpenByProduct(ctx context.Context, productID string) ([]*order.Order, error)
}

// Publisher sends enveloped events to the order exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, data any) error
}

// Catalog answers product lookups at checkout. The concrete client calls
// the product service over HTTP through a circuit breaker.
type Catalog interface {
	Product(ctx context.Context, productID string) (ProductSnapshot, error)
}

// ProductSnapshot is the slice of catalog state checkout depends on.
type ProductSnapshot struct {
	ID             string  `json:"id"`
	SKU            string  `json:"sku"`
	Name           string  `json:"name"`
	Price          float64 `json:"price"`
	SalePrice      float64 `json:"salePrice"`
	IsDigital      bool    `json:"isDigital"`
	Weight         float64 `json:"weight"`
	AvailableStock int     `json:"availableStock"`
	InStock        bool    `json:"inStock"`
}

// ErrOutOfStock rejects checkout lines the catalog cannot cover.
var ErrOutOfStock = fmt.Errorf("requested quantity exceeds available stock")

type Service struct {
	store     Store
	publisher Publisher
	catalog   Catalog
	log       *slog.Logger
}

func NewService(store Store, publisher Publisher, catalog Catalog) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		catalog:   catalog,
		log:       logging.New("ordersvc"),
	}
}

// CreateRequest is what checkout accepts from the API.
type CreateRequest struct {
	Items           []CreateItem  `json:"items" binding:"required,min=1,dive"`
	ShippingAddress order.Address `json:"shippingAddress" binding:"required"`
	BillingAddress  order.Address `json:"billingAddress"`
	PaymentMethod   string        `json:"paymentMethod" binding:"required"`
	Currency        string        `json:"currency"`
	CustomerNotes   string        `json:"customerNotes"`
}

type CreateItem struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// Create validates every line against the catalog, builds the aggregate,
// persists it, and publishes order.created.
func (s *Service) Create(ctx context.Context, p principal.Principal, req CreateRequest) (*order.Order, error) {
	if len(req.Items) == 0 {
		return nil, order.ErrEmptyOrder
	}

	items := make([]order.Item, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity < 1 {
			return nil, order.ErrInvalidQuantity
		}
		snap, err := s.catalog.Product(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("lookup product %s: %w", line.ProductID, err)
		}
		if !snap.IsDigital && snap.AvailableStock < line.Quantity {
			return nil, fmt.Errorf("%w: product %s", ErrOutOfStock, line.ProductID)
		}
		items = append(items, order.Item{
			ProductID: snap.ID,
			SKU:       snap.SKU,
			Name:      snap.Name,
			Price:     snap.Price,
			SalePrice: snap.SalePrice,
			Quantity:  line.Quantity,
			IsDigital: snap.IsDigital,
			Weight:    snap.Weight,
		})
	}

	billing := req.BillingAddress
	if billing == (order.Address{}) {
		billing = req.ShippingAddress
	}

	o, err := order.New(p.ID, items, req.ShippingAddress, billing, req.PaymentMethod, req.Currency)
	if err != nil {
		return nil, err
	}
	o.CustomerNotes = req.CustomerNotes

	if err := s.store.Insert(ctx, o); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	s.publish(ctx, events.OrderCreated, events.OrderCreatedData{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Total:       o.Total,
		Status:      string(o.Status),
		Items:       eventItems(o.Items),
		CreatedAt:   o.CreatedAt,
	})
	return o, nil
}

// Get enforces ownership: customers see only their own orders.
func (s *Service) Get(ctx context.Context, p principal.Principal, id string) (*order.Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.authorize(p, o)
}

func (s *Service) GetByNumber(ctx context.Context, p principal.Principal, number string) (*order.Order, error) {
	o, err := s.store.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return s.authorize(p, o)
}

func (s *Service) authorize(p principal.Principal, o *order.Order) (*order.Order, error) {
	if p.IsAdmin() || p.Owns(o.UserID) {
		return o, nil
	}
	// Hide existence from strangers.
	return nil, order.ErrOrderNotFound
}

func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]*order.Order, error) {
	return s.store.ListByUser(ctx, userID, limit)
}

// UpdateStatus moves the order along the transition graph and publishes
// order.status_updated.
func (s *Service) UpdateStatus(ctx context.Context, id string, target order.Status, note string) (*order.Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := o.Status
	if err := o.UpdateStatus(target, note); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}

	s.publish(ctx, events.OrderStatusUpdated, events.OrderStatusUpdatedData{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		PrevStatus:  string(prev),
		Status:      string(o.Status),
		UpdatedAt:   o.UpdatedAt,
	})
	return o, nil
}

// UpdatePayment records a payment change. Settlement additionally publishes
// order.paid, which is what turns reservations into hard decrements
// downstream.
func (s *Service) UpdatePayment(ctx context.Context, id string, status order.PaymentStatus, transactionID string) (*order.Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.UpdatePayment(status, transactionID); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}

	if status == order.PaymentCompleted {
		paidAt := time.Now()
		if o.Payment.PaidAt != nil {
			paidAt = *o.Payment.PaidAt
		}
		s.publish(ctx, events.OrderPaid, events.OrderPaidData{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			UserID:      o.UserID,
			Total:       o.Total,
			Items:       eventItems(o.Items),
			PaidAt:      paidAt,
		})
	}
	return o, nil
}

// UpdateShipping records a shipping change, publishing order.shipped or
// order.delivered when the shipment crosses those states.
func (s *Service) UpdateShipping(ctx context.Context, id string, sh order.Shipping) (*order.Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	prevShipping := o.Shipping.Status
	if err := o.UpdateShipping(sh); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}

	switch {
	case o.Shipping.Status == order.ShippingShipped && prevShipping != order.ShippingShipped:
		shippedAt := time.Now()
		if o.Shipping.ShippedAt != nil {
			shippedAt = *o.Shipping.ShippedAt
		}
		s.publish(ctx, events.OrderShipped, events.OrderShippedData{
			OrderID:        o.ID,
			OrderNumber:    o.OrderNumber,
			UserID:         o.UserID,
			Carrier:        o.Shipping.Carrier,
			TrackingNumber: o.Shipping.TrackingNumber,
			ShippedAt:      shippedAt,
		})
	case o.Shipping.Status == order.ShippingDelivered && prevShipping != order.ShippingDelivered:
		deliveredAt := time.Now()
		if o.Shipping.DeliveredAt != nil {
			deliveredAt = *o.Shipping.DeliveredAt
		}
		s.publish(ctx, events.OrderDelivered, events.OrderDeliveredData{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			UserID:      o.UserID,
			DeliveredAt: deliveredAt,
		})
	}
	return o, nil
}

// AddItem grows an open order by one line (or bumps an existing line) and
// publishes order.item.added with the delta so the ledger can reserve it.
func (s *Service) AddItem(ctx context.Context, p principal.Principal, id string, item CreateItem) (*order.Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(p, o); err != nil {
		return nil, err
	}

	snap, err := s.catalog.Product(ctx, item.ProductID)
	if err != nil {
		return nil, fmt.Errorf("lookup product %s: %w", item.ProductID, err)
	}
	if !snap.IsDigital && snap.AvailableStock < item.Quantity {
		return nil, fmt.Errorf("%w: product %s", ErrOutOfStock, item.ProductID)
	}

	if err := o.AddItem(order.Item{
		ProductID: snap.ID,
		SKU:       snap.SKU,
		Name:      snap.Name,
		Price:     snap.Price,
		SalePrice: snap.SalePrice,
		Quantity:  item.Quantity,
		IsDigital: snap.IsDigital,
		Weight:    snap.Weight,
	}); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}

	s.publish(ctx, events.OrderItemAdded, events.OrderItemChangedData{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		ProductID:   item.ProductID,
		Quantity:    item.Quantity,
		UpdatedAt:   o.UpdatedAt,
	})
	return o, nil
}

// RemoveItem drops a line and publishes order.item.removed with the freed
// quantity so the ledger can release it.
func (s *Service) RemoveItem(ctx context.Context, p principal.Principal, id, productID string) (*order.Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(p, o); err != nil {
		return nil, err
	}

	qty, err := o.RemoveItem(productID)
	if err != nil {
		return nil, err
	}
	if len(o.Items) == 0 {
		return nil, order.ErrEmptyOrder
	}
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}

	s.publish(ctx, events.OrderItemRemoved, events.OrderItemChangedData{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		ProductID:   productID,
		Quantity:    qty,
		UpdatedAt:   o.UpdatedAt,
	})
	return o, nil
}

func (s *Service) ApplyDiscount(ctx context.Context, p principal.Principal, id, code string, typ order.DiscountType, value float64) (*order.Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(p, o); err != nil {
		return nil, err
	}
	if err := o.ApplyDiscount(code, typ, value); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Cancel applies the cancellation policy and publishes order.cancelled so
// reservations are released.
func (s *Service) Cancel(ctx context.Context, p principal.Principal, id, note string) (*order.Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && !p.Owns(o.UserID) {
		return nil, order.ErrOrderNotFound
	}
	if err := o.Cancel(p, note); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}

	cancelledAt := time.Now()
	if o.CancelledAt != nil {
		cancelledAt = *o.CancelledAt
	}
	s.publish(ctx, events.OrderCancelled, events.OrderCancelledData{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Items:       eventItems(o.Items),
		CancelledAt: cancelledAt,
	})
	return o, nil
}

// Refund records a refund; a full refund publishes order.refunded so stock
// returns to the shelf.
func (s *Service) Refund(ctx context.Context, id string, amount float64, note string) (*order.Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	full, err := o.Refund(amount, note)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}

	if full {
		s.publish(ctx, events.OrderRefunded, events.OrderRefundedData{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			UserID:      o.UserID,
			Amount:      amount,
			Items:       eventItems(o.Items),
			RefundedAt:  time.Now(),
		})
	}
	return o, nil
}

// publish logs and swallows publish failures: the write already happened,
// and the broker topology retries nothing on the producer side.
func (s *Service) publish(ctx context.Context, routingKey string, data any) {
	if err := s.publisher.Publish(ctx, routingKey, data); err != nil {
		s.log.Error("publish failed", "event", routingKey, "error", err)
	}
}

func eventItems(items []order.Item) []events.EventItem {
	out := make([]events.EventItem, len(items))
	for i, it := range items {
		out[i] = events.EventItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}
