// Package events defines the cross-service event contract: routing keys,
// payload shapes, and the wire envelope every message is wrapped in.
// Payloads carry the minimal item list consumers need, never full order
// content.
package events

import (
	"encoding/json"
	"time"
)

// Topic exchanges. Each owning service publishes to exactly one.
const (
	OrderExchange   = "order.events"
	ProductExchange = "product.events"
)

// Routing keys on the order events exchange.
const (
	OrderCreated       = "order.created"
	OrderStatusUpdated = "order.status_updated"
	OrderPaid          = "order.paid"
	OrderCancelled     = "order.cancelled"
	OrderRefunded      = "order.refunded"
	OrderShipped       = "order.shipped"
	OrderDelivered     = "order.delivered"
	OrderItemAdded     = "order.item.added"
	OrderItemRemoved   = "order.item.removed"
)

// Routing keys on the product events exchange.
const (
	ProductUpdated          = "product.updated"
	ProductDeleted          = "product.deleted"
	ProductInventoryUpdated = "product.inventory.updated"
)

// Envelope is the wire format for every published message. The Event field
// doubles as the routing key.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Wrap marshals data into an envelope for the given routing key.
func Wrap(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw, Timestamp: time.Now().UTC()}, nil
}

// EventItem is the minimal per-item shape carried by order events.
type EventItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type OrderCreatedData struct {
	OrderID     string      `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	UserID      string      `json:"userId"`
	Total       float64     `json:"total"`
	Status      string      `json:"status"`
	Items       []EventItem `json:"items"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type OrderStatusUpdatedData struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	UserID      string    `json:"userId"`
	PrevStatus  string    `json:"prevStatus"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type OrderPaidData struct {
	OrderID     string      `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	UserID      string      `json:"userId"`
	Total       float64     `json:"total"`
	Items       []EventItem `json:"items"`
	PaidAt      time.Time   `json:"paidAt"`
}

type OrderCancelledData struct {
	OrderID     string      `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	UserID      string      `json:"userId"`
	Items       []EventItem `json:"items"`
	CancelledAt time.Time   `json:"cancelledAt"`
}

type OrderRefundedData struct {
	OrderID     string      `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	UserID      string      `json:"userId"`
	Amount      float64     `json:"amount"`
	Items       []EventItem `json:"items"`
	RefundedAt  time.Time   `json:"refundedAt"`
}

type OrderShippedData struct {
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber"`
	UserID         string    `json:"userId"`
	Carrier        string    `json:"carrier"`
	TrackingNumber string    `json:"trackingNumber"`
	ShippedAt      time.Time `json:"shippedAt"`
}

type OrderDeliveredData struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	UserID      string    `json:"userId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// OrderItemChangedData is shared by order.item.added and order.item.removed.
type OrderItemChangedData struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	UserID      string    `json:"userId"`
	ProductID   string    `json:"productId"`
	Quantity    int       `json:"quantity"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ProductUpdatedData struct {
	ProductID string    `json:"productId"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	SalePrice float64   `json:"salePrice"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ProductDeletedData struct {
	ProductID string    `json:"productId"`
	DeletedAt time.Time `json:"deletedAt"`
}

type ProductInventoryUpdatedData struct {
	ProductID      string    `json:"productId"`
	Quantity       int       `json:"quantity"`
	AvailableStock int       `json:"availableStock"`
	InStock        bool      `json:"inStock"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
