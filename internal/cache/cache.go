package cache

import (
	"context"
	"fmt"
	"time"
)

// BytesCache is a best-effort key/value cache; a miss is (nil, false, nil).
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Publisher fans a payload out to whoever listens on topic right now.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// SnapshotKey is where the tracking snapshot of an order lives. Every writer
// that changes an order's status or location drops it.
func SnapshotKey(orderID int64) string {
	return fmt.Sprintf("order:%d:tracking", orderID)
}
