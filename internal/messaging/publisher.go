package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/ec-platform/internal/events"
	"github.com/example/ec-platform/internal/logging"
)

// Publisher publishes enveloped events to one topic exchange and waits for
// the broker's publisher confirm before reporting success. The event's
// routing key is the envelope's event name.
type Publisher struct {
	client   *Client
	exchange string
	log      *slog.Logger

	mu        sync.Mutex
	confirmed *amqp.Channel
}

// NewPublisher declares the topic exchange (durable) and enables publisher
// confirms on the channel.
func NewPublisher(ctx context.Context, client *Client, exchange string) (*Publisher, error) {
	p := &Publisher{
		client:   client,
		exchange: exchange,
		log:      logging.New("publisher"),
	}
	ch, err := client.Channel(ctx)
	if err != nil {
		return nil, err
	}
	if err := declareTopicExchange(ch, exchange); err != nil {
		return nil, err
	}
	if err := p.ensureConfirms(ch); err != nil {
		return nil, err
	}
	return p, nil
}

// ensureConfirms puts the channel in confirm mode once. The client hands out
// a fresh channel after a reconnect, so confirm mode must follow it.
func (p *Publisher) ensureConfirms(ch *amqp.Channel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.confirmed == ch {
		return nil
	}
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable confirm mode: %w", err)
	}
	p.confirmed = ch
	return nil
}

// Publish wraps data in the wire envelope and sends it with the given
// routing key, blocking until the broker confirms (or the context expires).
// Messages are persistent so they survive broker restarts.
func (p *Publisher) Publish(ctx context.Context, routingKey string, data any) error {
	env, err := events.Wrap(routingKey, data)
	if err != nil {
		return fmt.Errorf("wrap event: %w", err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ch, err := p.client.Channel(ctx)
	if err != nil {
		return err
	}
	if err := p.ensureConfirms(ch); err != nil {
		return err
	}
	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    env.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: nacked by broker", routingKey)
	}

	p.log.Info("event published", "event", routingKey, "exchange", p.exchange)
	return nil
}

func declareTopicExchange(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(
		name,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}
