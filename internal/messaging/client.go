// Package messaging wraps the AMQP broker behind a managed client with an
// explicit lifecycle: connections are established lazily, re-established
// with backoff after a drop, and owned by the process composition root
// rather than package-level state.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/ec-platform/internal/logging"
)

var ErrClientClosed = errors.New("messaging client is closed")

// Client owns a single AMQP connection and channel per process.
type Client struct {
	url     string
	backoff time.Duration
	maxWait time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

type ClientOption func(*Client)

func WithBackoff(initial, max time.Duration) ClientOption {
	return func(c *Client) {
		c.backoff = initial
		c.maxWait = max
	}
}

// NewClient does not dial; the first Channel call establishes the connection.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:     url,
		backoff: time.Second,
		maxWait: 30 * time.Second,
		log:     logging.New("messaging"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Channel returns a live channel, dialing and retrying with exponential
// backoff until one is available, the context is cancelled, or the client
// is closed.
func (c *Client) Channel(ctx context.Context) (*amqp.Channel, error) {
	wait := c.backoff
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClientClosed
		}
		if c.ch != nil && !c.ch.IsClosed() {
			ch := c.ch
			c.mu.Unlock()
			return ch, nil
		}
		ch, err := c.connectLocked()
		c.mu.Unlock()
		if err == nil {
			return ch, nil
		}

		c.log.Warn("broker unavailable, retrying", "error", err, "wait", wait.String())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		if wait *= 2; wait > c.maxWait {
			wait = c.maxWait
		}
	}
}

func (c *Client) connectLocked() (*amqp.Channel, error) {
	if c.conn == nil || c.conn.IsClosed() {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			return nil, err
		}
		c.conn = conn
	}
	ch, err := c.conn.Channel()
	if err != nil {
		_ = c.conn.Close()
		c.conn = nil
		return nil, err
	}
	c.ch = ch
	return ch, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.ch != nil && !c.ch.IsClosed() {
		_ = c.ch.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}
