// Package notify is the notification consumer: order lifecycle events
// become customer emails. Sending mail twice is worse than occasionally
// missing a redelivery window, so every send claims a dedupe key first.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ec-platform/internal/dedupe"
	"github.com/example/ec-platform/internal/domain/order"
	"github.com/example/ec-platform/internal/domain/user"
	"github.com/example/ec-platform/internal/email"
	"github.com/example/ec-platform/internal/events"
	"github.com/example/ec-platform/internal/logging"
	"github.com/example/ec-platform/internal/messaging"
)

// Accounts resolves the recipient address.
type Accounts interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
}

// Orders resolves the full order for the line-item table; event payloads
// carry only ids and quantities.
type Orders interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
}

type Handler struct {
	sender   email.Sender
	accounts Accounts
	orders   Orders
	dedupe   dedupe.Store
	log      *slog.Logger
}

func NewHandler(sender email.Sender, accounts Accounts, orders Orders, d dedupe.Store) *Handler {
	return &Handler{
		sender:   sender,
		accounts: accounts,
		orders:   orders,
		dedupe:   d,
		log:      logging.New("notify"),
	}
}

// Handle is the consumer entrypoint for the notification queue.
func (h *Handler) Handle(ctx context.Context, env events.Envelope) error {
	switch env.Event {
	case events.OrderCreated:
		data, err := messaging.Decode[events.OrderCreatedData](env)
		if err != nil {
			return err
		}
		return h.sendConfirmation(ctx, data)

	case events.OrderShipped:
		data, err := messaging.Decode[events.OrderShippedData](env)
		if err != nil {
			return err
		}
		return h.sendShipped(ctx, data)

	default:
		return nil
	}
}

func (h *Handler) sendConfirmation(ctx context.Context, data events.OrderCreatedData) error {
	won, to, o, err := h.prepare(ctx, events.OrderCreated, data.OrderID, data.UserID)
	if err != nil || !won {
		return err
	}

	lines := make([]email.OrderLine, len(o.Items))
	for i, it := range o.Items {
		lines[i] = email.OrderLine{Name: it.Name, Quantity: it.Quantity, Price: it.EffectivePrice()}
	}
	subject := fmt.Sprintf("Order confirmation %s", o.OrderNumber)
	body := email.BuildOrderConfirmationBody(o.OrderNumber, o.Currency, o.Total, lines)

	return h.send(ctx, events.OrderCreated, data.OrderID, to, subject, body)
}

func (h *Handler) sendShipped(ctx context.Context, data events.OrderShippedData) error {
	won, to, o, err := h.prepare(ctx, events.OrderShipped, data.OrderID, data.UserID)
	if err != nil || !won {
		return err
	}

	subject := fmt.Sprintf("Your order %s has shipped", o.OrderNumber)
	body := email.BuildShippedBody(o.OrderNumber, data.Carrier, data.TrackingNumber)

	return h.send(ctx, events.OrderShipped, data.OrderID, to, subject, body)
}

// prepare claims the dedupe key and resolves recipient and order. A missing
// user or order is permanent for this message; it is logged and acked. Any
// other lookup error returns the claim so the redelivery can retry.
func (h *Handler) prepare(ctx context.Context, event, orderID, userID string) (bool, string, *order.Order, error) {
	key := dedupe.Key(event+":mail", orderID, "")
	won, err := h.dedupe.Claim(ctx, key)
	if err != nil {
		return false, "", nil, err
	}
	if !won {
		h.log.Info("duplicate delivery skipped", "event", event, "order", orderID)
		return false, "", nil, nil
	}

	u, err := h.accounts.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			h.log.Warn("recipient unknown, dropping notification", "user", userID)
			return false, "", nil, nil
		}
		return false, "", nil, h.retryLater(ctx, key, fmt.Errorf("lookup user %s: %w", userID, err))
	}
	o, err := h.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			h.log.Warn("order unknown, dropping notification", "order", orderID)
			return false, "", nil, nil
		}
		return false, "", nil, h.retryLater(ctx, key, fmt.Errorf("lookup order %s: %w", orderID, err))
	}
	return true, u.Email, o, nil
}

// retryLater returns the dedupe claim so the requeued delivery gets a fresh
// attempt, then hands the transient error back to the consumer.
func (h *Handler) retryLater(ctx context.Context, key string, cause error) error {
	if ferr := h.dedupe.Forget(ctx, key); ferr != nil {
		h.log.Error("returning dedupe claim failed", "key", key, "error", ferr)
	}
	return cause
}

// send delivers the mail; on failure the claim is returned so the requeued
// delivery retries.
func (h *Handler) send(ctx context.Context, event, orderID, to, subject, body string) error {
	if err := h.sender.Send(to, subject, body); err != nil {
		key := dedupe.Key(event+":mail", orderID, "")
		return h.retryLater(ctx, key, fmt.Errorf("send %s mail for %s: %w", event, orderID, err))
	}
	h.log.Info("notification sent", "event", event, "order", orderID)
	return nil
}
