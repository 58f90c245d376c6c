package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/ec-platform/internal/events"
	"github.com/example/ec-platform/internal/logging"
)

// ErrMalformed marks a payload that can never be processed. Handlers wrap
// decode failures with it; the consumer dead-letters the message instead of
// requeueing.
var ErrMalformed = errors.New("malformed event payload")

// HandlerFunc processes one delivered envelope. Returning nil acks the
// message; returning an error wrapping ErrMalformed dead-letters it; any
// other error requeues it for redelivery, so handlers must tolerate
// processing the same event more than once.
type HandlerFunc func(ctx context.Context, env events.Envelope) error

// Decode unmarshals an envelope's data payload, tagging failures as
// permanent.
func Decode[T any](env events.Envelope) (T, error) {
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
	}
	return v, nil
}

// QueueSpec describes one consumer's durable queue, its bindings on a topic
// exchange, and the dead-letter exchange rejected messages are routed to.
type QueueSpec struct {
	Queue        string
	Exchange     string
	Bindings     []string
	DLExchange   string
	DLQueue      string
	DLRoutingKey string
}

// Consumer processes one message at a time from a single queue.
type Consumer struct {
	client      *Client
	spec        QueueSpec
	handler     HandlerFunc
	callTimeout time.Duration
	log         *slog.Logger
}

func NewConsumer(client *Client, spec QueueSpec, handler HandlerFunc) *Consumer {
	return &Consumer{
		client:      client,
		spec:        spec,
		handler:     handler,
		callTimeout: 30 * time.Second,
		log:         logging.New("consumer").With("queue", spec.Queue),
	}
}

// Run declares the topology and consumes until ctx is cancelled. A dropped
// channel triggers redeclaration through the client's reconnect path.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		ch, err := c.client.Channel(ctx)
		if err != nil {
			return err
		}
		if err := c.declare(ch); err != nil {
			return err
		}

		// One in-flight message per consumer instance.
		if err := ch.Qos(1, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}

		deliveries, err := ch.Consume(
			c.spec.Queue,
			"",    // consumer tag
			false, // manual ack
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("consume %s: %w", c.spec.Queue, err)
		}

		c.log.Info("consuming", "bindings", c.spec.Bindings)
		if done := c.consume(ctx, deliveries); done {
			return ctx.Err()
		}
		c.log.Warn("delivery channel closed, re-establishing")
	}
}

// consume drains deliveries until the channel closes (returns false) or ctx
// is cancelled (returns true).
func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-deliveries:
			if !ok {
				return false
			}
			c.dispatch(ctx, d)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	var env events.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		c.log.Error("unparseable message, dead-lettering", "error", err, "routing_key", d.RoutingKey)
		_ = d.Nack(false, false)
		return
	}

	hctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	err := c.handler(hctx, env)
	cancel()

	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrMalformed):
		c.log.Error("permanent handler failure, dead-lettering", "event", env.Event, "error", err)
		_ = d.Nack(false, false)
	default:
		c.log.Warn("transient handler failure, requeueing", "event", env.Event, "error", err)
		_ = d.Nack(false, true)
	}
}

// declare sets up exchange, dead-letter exchange/queue, the durable queue
// with DLX routing, and the bindings.
func (c *Consumer) declare(ch *amqp.Channel) error {
	if err := declareTopicExchange(ch, c.spec.Exchange); err != nil {
		return err
	}
	if err := declareTopicExchange(ch, c.spec.DLExchange); err != nil {
		return err
	}

	dlq, err := ch.QueueDeclare(c.spec.DLQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(dlq.Name, c.spec.DLRoutingKey, c.spec.DLExchange, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}

	q, err := ch.QueueDeclare(
		c.spec.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    c.spec.DLExchange,
			"x-dead-letter-routing-key": c.spec.DLRoutingKey,
		},
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", c.spec.Queue, err)
	}

	for _, key := range c.spec.Bindings {
		if err := ch.QueueBind(q.Name, key, c.spec.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", q.Name, key, err)
		}
	}
	return nil
}
