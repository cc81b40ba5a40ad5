package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Producer struct {
	w messageWriter

	maxRetries uint64
	baseDelay  time.Duration
}

func NewProducer(brokers []string) *Producer {
	return newProducerWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	})
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w, maxRetries: 0, baseDelay: 150 * time.Millisecond}
}

// WithRetry makes Publish retry failed writes with exponential backoff.
// Kafka is often not ready right after the compose stack comes up.
func (p *Producer) WithRetry(maxRetries uint64, baseDelay time.Duration) *Producer {
	p.maxRetries = maxRetries
	if baseDelay > 0 {
		p.baseDelay = baseDelay
	}
	return p
}

// Publish writes one message. Keys are order ids, so the hash balancer keeps
// every event of an order on one partition in publish order.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	msg := kafka.Message{Topic: topic, Key: key, Value: value}
	if p.maxRetries == 0 {
		if err := p.w.WriteMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "kafka publish")
		}
		return nil
	}

	b := retry.WithMaxRetries(p.maxRetries, retry.NewExponential(p.baseDelay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := p.w.WriteMessages(ctx, msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
