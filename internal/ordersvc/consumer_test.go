package ordersvc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-platform/internal/events"
	"github.com/example/ec-platform/internal/messaging"
	"github.com/example/ec-platform/internal/principal"
)

func envelopeFor(t *testing.T, event string, data any) events.Envelope {
	t.Helper()
	env, err := events.Wrap(event, data)
	require.NoError(t, err)
	return env
}

func TestProductDeletedFlagsOpenOrders(t *testing.T) {
	svc, store, _, _ := newTestService()
	o := createTestOrder(t, svc)

	h := NewProductEventHandler(store)
	env := envelopeFor(t, events.ProductDeleted, events.ProductDeletedData{
		ProductID: "prod-1", DeletedAt: time.Now(),
	})
	require.NoError(t, h.Handle(context.Background(), env))

	flagged, err := store.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "product_deleted", flagged.Metadata["item:prod-1"])
}

func TestProductDeletedSkipsClosedOrders(t *testing.T) {
	svc, store, _, _ := newTestService()
	o := createTestOrder(t, svc)

	admin := principal.EndUser("admin-1", principal.RoleAdmin)
	_, err := svc.Cancel(context.Background(), admin, o.ID, "")
	require.NoError(t, err)

	h := NewProductEventHandler(store)
	env := envelopeFor(t, events.ProductDeleted, events.ProductDeletedData{ProductID: "prod-1"})
	require.NoError(t, h.Handle(context.Background(), env))

	got, err := store.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.Metadata, "item:prod-1")
}

func TestProductPriceChangeFlagsOrder(t *testing.T) {
	svc, store, _, _ := newTestService()
	o := createTestOrder(t, svc)

	h := NewProductEventHandler(store)
	env := envelopeFor(t, events.ProductUpdated, events.ProductUpdatedData{
		ProductID: "prod-1", Price: 120, UpdatedAt: time.Now(),
	})
	require.NoError(t, h.Handle(context.Background(), env))

	flagged, err := store.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "price_changed", flagged.Metadata["item:prod-1"])

	// Captured line prices stand.
	assert.Equal(t, 100.0, flagged.Items[0].Price)
	assert.Equal(t, 240.0, flagged.Total)
}

func TestProductUpdateSamePriceLeavesOrdersAlone(t *testing.T) {
	svc, store, _, _ := newTestService()
	o := createTestOrder(t, svc)

	h := NewProductEventHandler(store)
	env := envelopeFor(t, events.ProductUpdated, events.ProductUpdatedData{
		ProductID: "prod-1", Price: 100,
	})
	require.NoError(t, h.Handle(context.Background(), env))

	got, err := store.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.Metadata, "item:prod-1")
}

func TestMalformedProductEventIsPermanent(t *testing.T) {
	_, store, _, _ := newTestService()
	h := NewProductEventHandler(store)

	env := events.Envelope{Event: events.ProductDeleted, Data: json.RawMessage(`{"productId": 42}`)}
	err := h.Handle(context.Background(), env)
	assert.ErrorIs(t, err, messaging.ErrMalformed)
}

func TestUnknownEventIgnored(t *testing.T) {
	_, store, _, _ := newTestService()
	h := NewProductEventHandler(store)

	env := envelopeFor(t, "product.viewed", map[string]string{"productId": "prod-1"})
	assert.NoError(t, h.Handle(context.Background(), env))
}
