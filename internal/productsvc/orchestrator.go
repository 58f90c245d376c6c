package productsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ec-platform/internal/dedupe"
	"github.com/example/ec-platform/internal/domain/inventory"
	"github.com/example/ec-platform/internal/events"
	"github.com/example/ec-platform/internal/logging"
	"github.com/example/ec-platform/internal/messaging"
)

// Orchestrator drives the stock ledger from order events:
//
//	order.created, order.item.added  -> reserve
//	order.paid                       -> release then reduce (commit)
//	order.cancelled, order.item.removed -> release
//	order.refunded                   -> add stock back
//
// Delivery is at-least-once and the ledger ops are not idempotent, so every
// side effect claims a dedupe key first. Business failures (insufficient
// stock, over-release, missing row) are logged and swallowed; the order
// stands and staff reconcile. Transient failures return the claim and
// requeue.
type Orchestrator struct {
	svc    *Service
	dedupe dedupe.Store
	log    *slog.Logger
}

func NewOrchestrator(svc *Service, d dedupe.Store) *Orchestrator {
	return &Orchestrator{svc: svc, dedupe: d, log: logging.New("orchestrator")}
}

// Handle is the consumer entrypoint for the order events queue.
func (o *Orchestrator) Handle(ctx context.Context, env events.Envelope) error {
	switch env.Event {
	case events.OrderCreated:
		data, err := messaging.Decode[events.OrderCreatedData](env)
		if err != nil {
			return err
		}
		return o.reserveAll(ctx, env.Event, data.OrderID, data.Items)

	case events.OrderItemAdded:
		data, err := messaging.Decode[events.OrderItemChangedData](env)
		if err != nil {
			return err
		}
		return o.apply(ctx, env.Event, data.OrderID, data.ProductID, data.Quantity, o.svc.ledger.Reserve)

	case events.OrderPaid:
		data, err := messaging.Decode[events.OrderPaidData](env)
		if err != nil {
			return err
		}
		return o.commitAll(ctx, env.Event, data.OrderID, data.Items)

	case events.OrderCancelled:
		data, err := messaging.Decode[events.OrderCancelledData](env)
		if err != nil {
			return err
		}
		return o.forAll(ctx, env.Event, data.OrderID, data.Items, o.svc.ledger.ReleaseReservation)

	case events.OrderItemRemoved:
		data, err := messaging.Decode[events.OrderItemChangedData](env)
		if err != nil {
			return err
		}
		return o.apply(ctx, env.Event, data.OrderID, data.ProductID, data.Quantity, o.svc.ledger.ReleaseReservation)

	case events.OrderRefunded:
		data, err := messaging.Decode[events.OrderRefundedData](env)
		if err != nil {
			return err
		}
		return o.forAll(ctx, env.Event, data.OrderID, data.Items, o.svc.ledger.AddStock)

	default:
		return nil
	}
}

type ledgerOp func(ctx context.Context, productID string, amount int) error

// reserveAll reserves every line of a new order. If a line cannot be
// reserved, reservations taken earlier in this delivery are released so the
// ledger holds nothing for a checkout it could not fully cover.
func (o *Orchestrator) reserveAll(ctx context.Context, event, orderID string, items []events.EventItem) error {
	var held []events.EventItem
	for _, it := range items {
		done, err := o.step(ctx, event, orderID, it.ProductID, it.Quantity, o.svc.ledger.Reserve)
		if err == nil {
			if done {
				held = append(held, it)
			}
			continue
		}
		if isBusiness(err) {
			o.log.Warn("reservation failed, compensating", "order", orderID, "product", it.ProductID, "error", err)
			o.compensate(ctx, orderID, held)
			return nil
		}
		return err
	}
	return nil
}

// compensate undoes reservations taken within one delivery. The dedupe
// claims stay: the reserve happened, the release is its inverse.
func (o *Orchestrator) compensate(ctx context.Context, orderID string, held []events.EventItem) {
	for _, it := range held {
		if err := o.svc.ledger.ReleaseReservation(ctx, it.ProductID, it.Quantity); err != nil {
			o.log.Error("compensating release failed", "order", orderID, "product", it.ProductID, "error", err)
		}
	}
}

// commitAll turns reservations into hard decrements: release then reduce,
// per line. Each half gets its own dedupe key so a crash between them
// resumes at the right half.
func (o *Orchestrator) commitAll(ctx context.Context, event, orderID string, items []events.EventItem) error {
	for _, it := range items {
		if _, err := o.step(ctx, event+":release", orderID, it.ProductID, it.Quantity, o.svc.ledger.ReleaseReservation); err != nil {
			if !isBusiness(err) {
				return err
			}
			o.log.Warn("release on commit failed", "order", orderID, "product", it.ProductID, "error", err)
		}
		if _, err := o.step(ctx, event+":reduce", orderID, it.ProductID, it.Quantity, o.svc.ledger.ReduceStock); err != nil {
			if !isBusiness(err) {
				return err
			}
			o.log.Warn("reduce on commit failed", "order", orderID, "product", it.ProductID, "error", err)
		}
	}
	return nil
}

// forAll applies one op per line, swallowing business failures per line.
func (o *Orchestrator) forAll(ctx context.Context, event, orderID string, items []events.EventItem, op ledgerOp) error {
	for _, it := range items {
		if err := o.apply(ctx, event, orderID, it.ProductID, it.Quantity, op); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) apply(ctx context.Context, event, orderID, productID string, qty int, op ledgerOp) error {
	_, err := o.step(ctx, event, orderID, productID, qty, op)
	if err != nil && isBusiness(err) {
		o.log.Warn("ledger op failed", "event", event, "order", orderID, "product", productID, "error", err)
		return nil
	}
	return err
}

// step claims the dedupe key, runs the op, and announces the new stock
// level. It reports whether the op actually ran (false on a duplicate
// delivery). Transient failures return the claim before propagating.
func (o *Orchestrator) step(ctx context.Context, event, orderID, productID string, qty int, op ledgerOp) (bool, error) {
	key := dedupe.Key(event, orderID, productID)
	won, err := o.dedupe.Claim(ctx, key)
	if err != nil {
		return false, fmt.Errorf("claim dedupe key: %w", err)
	}
	if !won {
		o.log.Info("duplicate delivery skipped", "event", event, "order", orderID, "product", productID)
		return false, nil
	}

	if err := op(ctx, productID, qty); err != nil {
		if !isBusiness(err) {
			if ferr := o.dedupe.Forget(ctx, key); ferr != nil {
				o.log.Error("returning dedupe claim failed", "key", key, "error", ferr)
			}
		}
		return false, err
	}

	if inv, err := o.svc.ledger.Get(ctx, productID); err == nil {
		o.svc.publishInventory(ctx, inv)
		if inv.LowStock() {
			o.log.Warn("stock low", "product", productID, "available", inv.AvailableStock())
		}
	}
	return true, nil
}

// isBusiness distinguishes ledger precondition failures, which redelivery
// can never fix, from transient infrastructure errors, which it can.
func isBusiness(err error) bool {
	return errors.Is(err, inventory.ErrInsufficientStock) ||
		errors.Is(err, inventory.ErrInvalidState) ||
		errors.Is(err, inventory.ErrInvalidQuantity) ||
		errors.Is(err, inventory.ErrNotFound)
}
