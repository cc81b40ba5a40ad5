package rediscache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// PubSub is the push transport on top of Redis channels.
//
// Subscribe/Unsubscribe keep at most one subscription per topic for this
// process and are idempotent. Listen is an independent, per-call subscription
// for fan-out endpoints that serve many listeners of one topic.
type PubSub struct {
	c *redis.Client

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPubSub(addr string) *PubSub {
	return &PubSub{
		c:    redis.NewClient(&redis.Options{Addr: addr}),
		subs: make(map[string]*subscription),
	}
}

func (p *PubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := p.c.Publish(ctx, topic, payload).Err(); err != nil {
		return errors.Wrap(err, "redis publish")
	}
	return nil
}

// Subscribe returns the stream for topic. Calling it again for an already
// subscribed topic replaces the previous stream, which gets closed.
func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	ps := p.c.Subscribe(ctx, topic)
	// wait for the subscription confirmation so no publish is missed after return
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(err, "redis subscribe")
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{ps: ps, cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	prev := p.subs[topic]
	p.subs[topic] = sub
	p.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(sub.done)
		defer close(out)
		ch := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Unsubscribe is a no-op for unknown topics.
func (p *PubSub) Unsubscribe(topic string) error {
	p.mu.Lock()
	sub := p.subs[topic]
	delete(p.subs, topic)
	p.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.stop()
}

func (s *subscription) stop() error {
	s.cancel()
	err := s.ps.Close()
	<-s.done
	if err != nil {
		return errors.Wrap(err, "redis unsubscribe")
	}
	return nil
}

// Listen calls fn for every payload published on topic until ctx is done.
// ready runs after Redis confirms the subscription; it may be nil.
func (p *PubSub) Listen(ctx context.Context, topic string, ready func(), fn func(payload []byte)) error {
	ps := p.c.Subscribe(ctx, topic)
	defer func() { _ = ps.Close() }()
	if _, err := ps.Receive(ctx); err != nil {
		return errors.Wrap(err, "redis subscribe")
	}
	if ready != nil {
		ready()
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			fn([]byte(msg.Payload))
		}
	}
}

func (p *PubSub) Close() error {
	p.mu.Lock()
	subs := p.subs
	p.subs = make(map[string]*subscription)
	p.mu.Unlock()
	for topic, sub := range subs {
		if err := sub.stop(); err != nil {
			slog.Warn("close subscription", "topic", topic, "error", err.Error())
		}
	}
	return p.c.Close()
}
