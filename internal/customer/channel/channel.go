package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/BearBump/CourierTrack/internal/broker/messages"
	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/pkg/errors"
)

// Transport is a push subscription service keyed by topic. Both calls are
// idempotent; Unsubscribe closes the stream returned by Subscribe.
type Transport interface {
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	Unsubscribe(topic string) error
}

// Channel turns the order's push topic into tracking updates. It does not
// notice a silently dead connection; the poller covers that.
type Channel struct {
	transport Transport
	orderID   int64
	topic     string

	mu      sync.Mutex
	started bool
	closed  atomic.Bool

	received  atomic.Int64
	malformed atomic.Int64
}

func New(t Transport, orderID int64) *Channel {
	return &Channel{transport: t, orderID: orderID, topic: messages.Topic(orderID)}
}

func (c *Channel) Topic() string { return c.topic }

func (c *Channel) Start(ctx context.Context, emit func(models.TrackingUpdate)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("channel already started")
	}
	if c.closed.Load() {
		return errors.New("channel is closed")
	}
	stream, err := c.transport.Subscribe(ctx, c.topic)
	if err != nil {
		return errors.Wrap(err, "subscribe")
	}
	c.started = true
	go c.forward(stream, emit)
	return nil
}

func (c *Channel) forward(stream <-chan []byte, emit func(models.TrackingUpdate)) {
	for payload := range stream {
		if c.closed.Load() {
			continue
		}
		var msg messages.TrackingUpdated
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.malformed.Add(1)
			slog.Warn("malformed tracking event", "topic", c.topic, "error", err.Error())
			continue
		}
		if msg.OrderID != c.orderID {
			c.malformed.Add(1)
			slog.Warn("tracking event for another order", "topic", c.topic, "order_id", msg.OrderID)
			continue
		}
		c.received.Add(1)
		emit(msg.ToUpdate(models.SourcePush))
	}
}

// Close unsubscribes; calling it again is a no-op.
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil
	}
	return c.transport.Unsubscribe(c.topic)
}

type Stats struct {
	Received  int64 `json:"received"`
	Malformed int64 `json:"malformed"`
}

func (c *Channel) Stats() Stats {
	return Stats{Received: c.received.Load(), Malformed: c.malformed.Load()}
}
