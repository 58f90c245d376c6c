package productsvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-platform/internal/domain/product"
	"github.com/example/ec-platform/internal/events"
)

func newTestCatalogService() (*Service, *memLedger, *recordingPublisher) {
	ledger := newMemLedger()
	pub := &recordingPublisher{}
	return NewService(newMemCatalog(), ledger, pub), ledger, pub
}

func TestCreateProductSeedsInventory(t *testing.T) {
	svc, ledger, _ := newTestCatalogService()

	p, err := svc.Create(context.Background(), CreateRequest{
		SKU: "SKU-1", Name: "Widget", Price: 100, InitialQuantity: 25,
	})
	require.NoError(t, err)

	inv, err := ledger.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, inv.Quantity)
	assert.Equal(t, 0, inv.ReservedQuantity)
}

func TestCreateProductDuplicateSKU(t *testing.T) {
	svc, _, _ := newTestCatalogService()

	_, err := svc.Create(context.Background(), CreateRequest{SKU: "SKU-1", Name: "A", Price: 1})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), CreateRequest{SKU: "SKU-1", Name: "B", Price: 2})
	assert.ErrorIs(t, err, product.ErrDuplicateSKU)
}

func TestUpdateProductPublishesEvent(t *testing.T) {
	svc, _, pub := newTestCatalogService()

	p, err := svc.Create(context.Background(), CreateRequest{SKU: "SKU-1", Name: "Widget", Price: 100})
	require.NoError(t, err)

	newPrice := 120.0
	updated, err := svc.Update(context.Background(), p.ID, UpdateRequest{Price: &newPrice})
	require.NoError(t, err)
	assert.Equal(t, 120.0, updated.Price)
	assert.Contains(t, pub.keys(), events.ProductUpdated)
}

func TestDeleteProductPublishesEvent(t *testing.T) {
	svc, _, pub := newTestCatalogService()

	p, err := svc.Create(context.Background(), CreateRequest{SKU: "SKU-1", Name: "Widget", Price: 100})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), p.ID))
	assert.Contains(t, pub.keys(), events.ProductDeleted)

	_, err = svc.Get(context.Background(), p.ID)
	assert.ErrorIs(t, err, product.ErrNotFound)
}

func TestSnapshotDerivesStockFields(t *testing.T) {
	svc, ledger, _ := newTestCatalogService()

	p, err := svc.Create(context.Background(), CreateRequest{
		SKU: "SKU-1", Name: "Widget", Price: 100, InitialQuantity: 10,
	})
	require.NoError(t, err)
	require.NoError(t, ledger.Reserve(context.Background(), p.ID, 4))

	snap, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, snap.AvailableStock)
	assert.True(t, snap.InStock)
}

func TestSnapshotDigitalWithoutLedgerRow(t *testing.T) {
	svc, _, _ := newTestCatalogService()

	p, err := svc.Create(context.Background(), CreateRequest{
		SKU: "SKU-E", Name: "Ebook", Price: 20, IsDigital: true,
	})
	require.NoError(t, err)

	snap, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, snap.InStock)
}

func TestRestockPublishesInventoryUpdate(t *testing.T) {
	svc, _, pub := newTestCatalogService()

	p, err := svc.Create(context.Background(), CreateRequest{
		SKU: "SKU-1", Name: "Widget", Price: 100, InitialQuantity: 2,
	})
	require.NoError(t, err)

	inv, err := svc.Restock(context.Background(), p.ID, 8)
	require.NoError(t, err)
	assert.Equal(t, 10, inv.Quantity)
	assert.NotNil(t, inv.LastRestockDate)
	assert.Contains(t, pub.keys(), events.ProductInventoryUpdated)
}

func TestSaveCategoryRejectsCycle(t *testing.T) {
	svc, _, _ := newTestCatalogService()
	ctx := context.Background()

	root, err := svc.SaveCategory(ctx, product.Category{Name: "Clothing", Slug: "clothing"})
	require.NoError(t, err)
	child, err := svc.SaveCategory(ctx, product.Category{Name: "Shoes", Slug: "shoes", ParentID: root.ID})
	require.NoError(t, err)

	_, err = svc.SaveCategory(ctx, product.Category{ID: root.ID, Name: "Clothing", Slug: "clothing", ParentID: child.ID})
	assert.ErrorIs(t, err, product.ErrCategoryCycle)
}
