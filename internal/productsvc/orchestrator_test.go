package productsvc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-platform/internal/dedupe"
	"github.com/example/ec-platform/internal/domain/inventory"
	"github.com/example/ec-platform/internal/domain/product"
	"github.com/example/ec-platform/internal/events"
	"github.com/example/ec-platform/internal/messaging"
)

// ============================================================
// Fakes
// ============================================================

type memLedger struct {
	mu   sync.Mutex
	rows map[string]*inventory.Inventory
	// failWith forces the next op on a product to fail transiently.
	failWith map[string]error
}

func newMemLedger() *memLedger {
	return &memLedger{rows: map[string]*inventory.Inventory{}, failWith: map[string]error{}}
}

func (l *memLedger) Create(_ context.Context, inv *inventory.Inventory) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.rows[inv.ProductID]; ok {
		return nil
	}
	cp := *inv
	l.rows[inv.ProductID] = &cp
	return nil
}

func (l *memLedger) Get(_ context.Context, productID string) (*inventory.Inventory, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inv, ok := l.rows[productID]
	if !ok {
		return nil, inventory.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (l *memLedger) do(productID string, op func(*inventory.Inventory) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.failWith[productID]; ok {
		delete(l.failWith, productID)
		return err
	}
	inv, ok := l.rows[productID]
	if !ok {
		return inventory.ErrNotFound
	}
	return op(inv)
}

func (l *memLedger) Reserve(_ context.Context, productID string, amount int) error {
	return l.do(productID, func(inv *inventory.Inventory) error { return inv.Reserve(amount) })
}

func (l *memLedger) ReleaseReservation(_ context.Context, productID string, amount int) error {
	return l.do(productID, func(inv *inventory.Inventory) error { return inv.ReleaseReservation(amount) })
}

func (l *memLedger) ReduceStock(_ context.Context, productID string, amount int) error {
	return l.do(productID, func(inv *inventory.Inventory) error { return inv.ReduceStock(amount) })
}

func (l *memLedger) AddStock(_ context.Context, productID string, amount int) error {
	return l.do(productID, func(inv *inventory.Inventory) error { return inv.AddStock(amount) })
}

type memCatalog struct {
	mu       sync.Mutex
	products map[string]*product.Product
	cats     map[string]product.Category
}

func newMemCatalog() *memCatalog {
	return &memCatalog{products: map[string]*product.Product{}, cats: map[string]product.Category{}}
}

func (c *memCatalog) Insert(_ context.Context, p *product.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.products {
		if existing.SKU == p.SKU {
			return product.ErrDuplicateSKU
		}
	}
	cp := *p
	c.products[p.ID] = &cp
	return nil
}

func (c *memCatalog) Update(_ context.Context, p *product.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.products[p.ID]; !ok {
		return product.ErrNotFound
	}
	cp := *p
	c.products[p.ID] = &cp
	return nil
}

func (c *memCatalog) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.products[id]; !ok {
		return product.ErrNotFound
	}
	delete(c.products, id)
	return nil
}

func (c *memCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (c *memCatalog) GetBySKU(_ context.Context, sku string) (*product.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.products {
		if p.SKU == sku {
			cp := *p
			return &cp, nil
		}
	}
	return nil, product.ErrNotFound
}

func (c *memCatalog) List(_ context.Context, categoryID string, _, _ int) ([]*product.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*product.Product
	for _, p := range c.products {
		if categoryID == "" || p.CategoryID == categoryID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *memCatalog) Categories(_ context.Context) ([]product.Category, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []product.Category
	for _, cat := range c.cats {
		out = append(out, cat)
	}
	return out, nil
}

func (c *memCatalog) SaveCategory(_ context.Context, cat product.Category) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cats[cat.ID] = cat
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	return nil
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func newTestOrchestrator() (*Orchestrator, *memLedger, *recordingPublisher) {
	ledger := newMemLedger()
	pub := &recordingPublisher{}
	svc := NewService(newMemCatalog(), ledger, pub)
	return NewOrchestrator(svc, dedupe.NewMemoryStore()), ledger, pub
}

func seedStock(t *testing.T, ledger *memLedger, productID string, qty int) {
	t.Helper()
	require.NoError(t, ledger.Create(context.Background(), &inventory.Inventory{
		ProductID: productID, Quantity: qty, LowStockThreshold: 2,
	}))
}

func deliver(t *testing.T, o *Orchestrator, event string, data any) error {
	t.Helper()
	env, err := events.Wrap(event, data)
	require.NoError(t, err)
	return o.Handle(context.Background(), env)
}

func stockOf(t *testing.T, ledger *memLedger, productID string) *inventory.Inventory {
	t.Helper()
	inv, err := ledger.Get(context.Background(), productID)
	require.NoError(t, err)
	return inv
}

// ============================================================
// Reservation on order.created
// ============================================================

func TestOrderCreatedReservesStock(t *testing.T) {
	o, ledger, pub := newTestOrchestrator()
	seedStock(t, ledger, "prod-1", 10)
	seedStock(t, ledger, "prod-2", 5)

	err := deliver(t, o, events.OrderCreated, events.OrderCreatedData{
		OrderID: "ord-1",
		Items:   []events.EventItem{{ProductID: "prod-1", Quantity: 3}, {ProductID: "prod-2", Quantity: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, stockOf(t, ledger, "prod-1").ReservedQuantity)
	assert.Equal(t, 10, stockOf(t, ledger, "prod-1").Quantity)
	assert.Equal(t, 1, stockOf(t, ledger, "prod-2").ReservedQuantity)
	assert.Contains(t, pub.keys(), events.ProductInventoryUpdated)
}

func TestOrderCreatedDuplicateDeliverySkipped(t *testing.T) {
	o, ledger, _ := newTestOrchestrator()
	seedStock(t, ledger, "prod-1", 10)

	data := events.OrderCreatedData{
		OrderID: "ord-1",
		Items:   []events.EventItem{{ProductID: "prod-1", Quantity: 3}},
	}
	require.NoError(t, deliver(t, o, events.OrderCreated, data))
	require.NoError(t, deliver(t, o, events.OrderCreated, data))

	assert.Equal(t, 3, stockOf(t, ledger, "prod-1").ReservedQuantity)
}

func TestOrderCreatedInsufficientStockCompensates(t *testing.T) {
	o, ledger, _ := newTestOrchestrator()
	seedStock(t, ledger, "prod-1", 10)
	seedStock(t, ledger, "prod-2", 1)

	err := deliver(t, o, events.OrderCreated, events.OrderCreatedData{
		OrderID: "ord-1",
		Items:   []events.EventItem{{ProductID: "prod-1", Quantity: 3}, {ProductID: "prod-2", Quantity: 5}},
	})
	require.NoError(t, err) // acked, not requeued

	// The prod-1 hold was rolled back; nothing is held for a checkout the
	// ledger could not fully cover.
	assert.Equal(t, 0, stockOf(t, ledger, "prod-1").ReservedQuantity)
	assert.Equal(t, 0, stockOf(t, ledger, "prod-2").ReservedQuantity)
}

func TestOrderCreatedMissingLedgerRowAbortsReservation(t *testing.T) {
	o, ledger, _ := newTestOrchestrator()
	seedStock(t, ledger, "prod-1", 10)

	err := deliver(t, o, events.OrderCreated, events.OrderCreatedData{
		OrderID: "ord-1",
		Items:   []events.EventItem{{ProductID: "ghost", Quantity: 1}, {ProductID: "prod-1", Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, stockOf(t, ledger, "prod-1").ReservedQuantity)
}

func TestOrderCreatedTransientFailureRequeues(t *testing.T) {
	o, ledger, _ := newTestOrchestrator()
	seedStock(t, ledger, "prod-1", 10)
	ledger.failWith["prod-1"] = errors.New("connection reset")

	data := events.OrderCreatedData{
		OrderID: "ord-1",
		Items:   []events.EventItem{{ProductID: "prod-1", Quantity: 3}},
	}
	err := deliver(t, o, events.OrderCreated, data)
	require.Error(t, err)

	// The claim was returned, so the redelivery goes through.
	require.NoError(t, deliver(t, o, events.OrderCreated, data))
	assert.Equal(t, 3, stockOf(t, ledger, "prod-1").ReservedQuantity)
}

// ============================================================
// Commit on order.paid
// ============================================================

func TestOrderPaidCommitsReservation(t *testing.T) {
	o, ledger, _ := newTestOrchestrator()
	seedStock(t, ledger, "prod-1", 10)

	items := []events.EventItem{{ProductID: "prod-1", Quantity: 3}}
	require.NoError(t, deliver(t, o, events.OrderCreated, events.OrderCreatedData{OrderID: "ord-1", Items: items}))
	require.NoError(t, deliver(t, o, events.OrderPaid, events.OrderPaidData{OrderID: "ord-1", Items: items}))

	inv := stockOf(t, ledger, "prod-1")
	assert.Equal(t, 7, inv.Quantity)
	assert.Equal(t, 0, inv.ReservedQuantity)
}

func TestOrderPaidDuplicateDeliverySkipped(t *testing.T) {
	o, ledger, _ := newTestOrchestrator()
	seedStock(t, ledger, "prod-1", 10)

	items := []events.EventItem{{ProductID: "prod-1", Quantity: 3}}
	require.NoError(t, deliver(t, o, events.OrderCreated, events.OrderCreatedData{OrderID: "ord-1", Items: items}))
	require.NoError(t, deliver(t, o, events.OrderPaid, events.OrderPaidData{OrderID: "ord-1", Items: items}))
	require.NoError(t, deliver(t, o, events.OrderPaid, events.OrderPaidData{OrderID: "ord-1", Items: items}))

	inv := stockOf(t, ledger, "prod-1")
	assert.Equal(t, 7, inv.Quantity)
	assert.Equal(t, 0, inv.ReservedQuantity)
}

func TestOrderPaidWithoutReservationStillReduces(t *testing.T) {
	o, ledger, _ := newTestOrchestrator()
	seedStock(t, ledger, "prod-1", 10)

	// Paid event arrives for an order whose created event was lost before
	// this consumer existed. The release fails, the reduce still runs.
	err := deliver(t, o, events.OrderPaid, events.OrderPaidData{
		OrderID: "ord-1",
		Items:   []events.EventItem{{ProductID: "prod-1", Quantity: 3}},
	})
	require.NoError(t, err)

	inv := stockOf(t, ledger, "prod-1")
	assert.Equal(t, 7, inv.Quantity)
	assert.Equal(t, 0, inv.ReservedQuantity)
}

// ============================================================
// Release and restock
// ============================================================

func TestOrderCancelledReleasesReservation(t *testing.T) {
	o, ledger, _ := newTestOrchestrator()
	seedStock(t, ledger, "prod-1", 10)

	items := []events.EventItem{{ProductID: "prod-1", Quantity: 4}}
	require.NoError(t, deliver(t, o, events.OrderCreated, events.OrderCreatedData{OrderID: "ord-1", Items: items}))
	require.NoError(t, deliver(t, o, events.OrderCancelled, events.OrderCancelledData{OrderID: "ord-1", Items: items}))

	inv := stockOf(t, ledger, "prod-1")
	assert.Equal(t, 10, inv.Quantity)
	assert.Equal(t, 0, inv.ReservedQuantity)
}

func TestOrderRefundedReturnsStock(t *testing.T) {
	o, ledger, _ := newTestOrchestrator()
	seedStock(t, ledger, "prod-1", 10)

	items := []events.EventItem{{ProductID: "prod-1", Quantity: 3}}
	require.NoError(t, deliver(t, o, events.OrderCreated, events.OrderCreatedData{OrderID: "ord-1", Items: items}))
	require.NoError(t, deliver(t, o, events.OrderPaid, events.OrderPaidData{OrderID: "ord-1", Items: items}))
	require.NoError(t, deliver(t, o, events.OrderRefunded, events.OrderRefundedData{OrderID: "ord-1", Items: items}))

	inv := stockOf(t, ledger, "prod-1")
	assert.Equal(t, 10, inv.Quantity)
	assert.Equal(t, 0, inv.ReservedQuantity)
}

func TestItemDeltasAdjustReservation(t *testing.T) {
	o, ledger, _ := newTestOrchestrator()
	seedStock(t, ledger, "prod-1", 10)

	require.NoError(t, deliver(t, o, events.OrderItemAdded, events.OrderItemChangedData{
		OrderID: "ord-1", ProductID: "prod-1", Quantity: 4,
	}))
	assert.Equal(t, 4, stockOf(t, ledger, "prod-1").ReservedQuantity)

	require.NoError(t, deliver(t, o, events.OrderItemRemoved, events.OrderItemChangedData{
		OrderID: "ord-1", ProductID: "prod-1", Quantity: 4,
	}))
	assert.Equal(t, 0, stockOf(t, ledger, "prod-1").ReservedQuantity)
}

func TestOverReleaseSwallowed(t *testing.T) {
	o, ledger, _ := newTestOrchestrator()
	seedStock(t, ledger, "prod-1", 10)

	err := deliver(t, o, events.OrderCancelled, events.OrderCancelledData{
		OrderID: "ord-9",
		Items:   []events.EventItem{{ProductID: "prod-1", Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, stockOf(t, ledger, "prod-1").ReservedQuantity)
}

// ============================================================
// Malformed payloads
// ============================================================

func TestMalformedOrderEventIsPermanent(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	env := events.Envelope{Event: events.OrderCreated, Data: json.RawMessage(`{"items": "nope"}`)}
	err := o.Handle(context.Background(), env)
	assert.ErrorIs(t, err, messaging.ErrMalformed)
}

func TestUnknownOrderEventIgnored(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	env, err := events.Wrap("order.viewed", map[string]string{"orderId": "ord-1"})
	require.NoError(t, err)
	assert.NoError(t, o.Handle(context.Background(), env))
}
