package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-platform/internal/dedupe"
	"github.com/example/ec-platform/internal/domain/order"
	"github.com/example/ec-platform/internal/domain/user"
	"github.com/example/ec-platform/internal/events"
)

type sentMail struct {
	to      string
	subject string
	body    string
}

type recordingSender struct {
	mails []sentMail
	err   error
}

func (s *recordingSender) Send(to, subject, body string) error {
	if s.err != nil {
		return s.err
	}
	s.mails = append(s.mails, sentMail{to, subject, body})
	return nil
}

type stubAccounts struct {
	users    map[string]*user.User
	failOnce error
}

func (s *stubAccounts) GetByID(_ context.Context, id string) (*user.User, error) {
	if s.failOnce != nil {
		err := s.failOnce
		s.failOnce = nil
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

type stubOrders struct{ orders map[string]*order.Order }

func (s *stubOrders) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return o, nil
}

func newTestHandler() (*Handler, *recordingSender) {
	sender := &recordingSender{}
	accounts := &stubAccounts{users: map[string]*user.User{
		"user-1": {ID: "user-1", Email: "jane@example.com", Name: "Jane"},
	}}
	o, _ := order.New("user-1", []order.Item{
		{ProductID: "prod-1", Name: "Widget", Price: 100, Quantity: 2},
	}, order.Address{Line1: "1 Main St"}, order.Address{Line1: "1 Main St"}, "cod", "USD")
	o.ID = "ord-1"
	orders := &stubOrders{orders: map[string]*order.Order{"ord-1": o}}
	return NewHandler(sender, accounts, orders, dedupe.NewMemoryStore()), sender
}

func deliver(t *testing.T, h *Handler, event string, data any) error {
	t.Helper()
	env, err := events.Wrap(event, data)
	require.NoError(t, err)
	return h.Handle(context.Background(), env)
}

func TestOrderCreatedSendsConfirmation(t *testing.T) {
	h, sender := newTestHandler()

	err := deliver(t, h, events.OrderCreated, events.OrderCreatedData{
		OrderID: "ord-1", UserID: "user-1", CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	require.Len(t, sender.mails, 1)
	mail := sender.mails[0]
	assert.Equal(t, "jane@example.com", mail.to)
	assert.Contains(t, mail.subject, "Order confirmation")
	assert.Contains(t, mail.body, "Widget")
	assert.Contains(t, mail.body, "$200.00")
}

func TestDuplicateDeliverySendsOnce(t *testing.T) {
	h, sender := newTestHandler()

	data := events.OrderCreatedData{OrderID: "ord-1", UserID: "user-1"}
	require.NoError(t, deliver(t, h, events.OrderCreated, data))
	require.NoError(t, deliver(t, h, events.OrderCreated, data))

	assert.Len(t, sender.mails, 1)
}

func TestOrderShippedSendsTracking(t *testing.T) {
	h, sender := newTestHandler()

	err := deliver(t, h, events.OrderShipped, events.OrderShippedData{
		OrderID: "ord-1", UserID: "user-1", Carrier: "UPS", TrackingNumber: "1Z999",
	})
	require.NoError(t, err)

	require.Len(t, sender.mails, 1)
	assert.Contains(t, sender.mails[0].subject, "has shipped")
	assert.Contains(t, sender.mails[0].body, "1Z999")
}

func TestUnknownRecipientDropped(t *testing.T) {
	h, sender := newTestHandler()

	err := deliver(t, h, events.OrderCreated, events.OrderCreatedData{
		OrderID: "ord-1", UserID: "ghost",
	})
	require.NoError(t, err)
	assert.Empty(t, sender.mails)
}

func TestTransientLookupFailureRetriesOnRedelivery(t *testing.T) {
	sender := &recordingSender{}
	accounts := &stubAccounts{
		users:    map[string]*user.User{"user-1": {ID: "user-1", Email: "jane@example.com", Name: "Jane"}},
		failOnce: errors.New("pq: connection refused"),
	}
	o, _ := order.New("user-1", []order.Item{
		{ProductID: "prod-1", Name: "Widget", Price: 100, Quantity: 2},
	}, order.Address{Line1: "1 Main St"}, order.Address{Line1: "1 Main St"}, "cod", "USD")
	o.ID = "ord-1"
	orders := &stubOrders{orders: map[string]*order.Order{"ord-1": o}}
	h := NewHandler(sender, accounts, orders, dedupe.NewMemoryStore())

	data := events.OrderCreatedData{OrderID: "ord-1", UserID: "user-1"}
	err := deliver(t, h, events.OrderCreated, data)
	require.Error(t, err, "a store outage must requeue, not ack")
	assert.Empty(t, sender.mails)

	// The redelivery finds the store healthy and the claim returned.
	require.NoError(t, deliver(t, h, events.OrderCreated, data))
	assert.Len(t, sender.mails, 1)
}

func TestSendFailureRetriesOnRedelivery(t *testing.T) {
	h, sender := newTestHandler()
	sender.err = errors.New("smtp down")

	data := events.OrderCreatedData{OrderID: "ord-1", UserID: "user-1"}
	err := deliver(t, h, events.OrderCreated, data)
	require.Error(t, err)

	sender.err = nil
	require.NoError(t, deliver(t, h, events.OrderCreated, data))
	assert.Len(t, sender.mails, 1)
}

func TestIgnoredEvents(t *testing.T) {
	h, sender := newTestHandler()

	err := deliver(t, h, events.OrderCancelled, events.OrderCancelledData{
		OrderID: "ord-1", UserID: "user-1",
	})
	require.NoError(t, err)
	assert.Empty(t, sender.mails)
}
