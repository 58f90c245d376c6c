package ordersvc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/ec-platform/internal/events"
	"github.com/example/ec-platform/internal/logging"
	"github.com/example/ec-platform/internal/messaging"
)

// ProductEventHandler reacts to catalog changes: open orders holding an
// affected product get their lines flagged so staff can review them. Order
// totals never change retroactively.
type ProductEventHandler struct {
	store Store
	log   *slog.Logger
}

func NewProductEventHandler(store Store) *ProductEventHandler {
	return &ProductEventHandler{store: store, log: logging.New("product-events")}
}

// Handle is the consumer entrypoint. Flagging is idempotent, so redelivery
// needs no dedupe here.
func (h *ProductEventHandler) Handle(ctx context.Context, env events.Envelope) error {
	switch env.Event {
	case events.ProductDeleted:
		data, err := messaging.Decode[events.ProductDeletedData](env)
		if err != nil {
			return err
		}
		return h.flagOpenOrders(ctx, data.ProductID, "product_deleted")

	case events.ProductUpdated:
		data, err := messaging.Decode[events.ProductUpdatedData](env)
		if err != nil {
			return err
		}
		return h.flagPriceChanges(ctx, data)

	default:
		h.log.Debug("ignoring event", "event", env.Event)
		return nil
	}
}

func (h *ProductEventHandler) flagOpenOrders(ctx context.Context, productID, flag string) error {
	orders, err := h.store.ListOpenByProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("list open orders for %s: %w", productID, err)
	}
	for _, o := range orders {
		if !o.FlagItems(productID, flag) {
			continue
		}
		if err := h.store.Update(ctx, o); err != nil {
			return fmt.Errorf("flag order %s: %w", o.ID, err)
		}
		h.log.Info("order flagged", "order", o.OrderNumber, "product", productID, "flag", flag)
	}
	return nil
}

// flagPriceChanges marks open orders whose captured line price no longer
// matches the catalog. The priced-at-order-time amounts stand; the flag is
// informational.
func (h *ProductEventHandler) flagPriceChanges(ctx context.Context, data events.ProductUpdatedData) error {
	orders, err := h.store.ListOpenByProduct(ctx, data.ProductID)
	if err != nil {
		return fmt.Errorf("list open orders for %s: %w", data.ProductID, err)
	}

	current := data.Price
	if data.SalePrice > 0 {
		current = data.SalePrice
	}

	for _, o := range orders {
		changed := false
		for i := range o.Items {
			if o.Items[i].ProductID == data.ProductID && o.Items[i].EffectivePrice() != current {
				changed = true
			}
		}
		if !changed {
			continue
		}
		o.FlagItems(data.ProductID, "price_changed")
		if err := h.store.Update(ctx, o); err != nil {
			return fmt.Errorf("flag order %s: %w", o.ID, err)
		}
		h.log.Info("order flagged", "order", o.OrderNumber, "product", data.ProductID, "flag", "price_changed")
	}
	return nil
}
