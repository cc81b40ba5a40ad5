package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BearBump/CourierTrack/internal/broker/messages"
	"github.com/BearBump/CourierTrack/internal/cache"
	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/pkg/errors"
)

var (
	ErrRateLimited   = errors.New("location rate limit exceeded")
	ErrInvalidSample = errors.Wrap(models.ErrInvalidInput, "location sample is invalid")
)

type Repository interface {
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	SaveLocation(ctx context.Context, courierID string, sample models.LocationSample) error
	GetSnapshot(ctx context.Context, orderID int64) (*models.TrackingSnapshot, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Service struct {
	repo     Repository
	producer Producer
	topic    string

	cache       cache.BytesCache
	snapshotTTL time.Duration
	push        cache.Publisher

	rl          RateLimiter
	ingestLimit int64
	ingestWin   time.Duration

	now func() time.Time
}

func New(repo Repository, producer Producer, topic string) *Service {
	return &Service{
		repo:        repo,
		producer:    producer,
		topic:       topic,
		ingestLimit: 60,
		ingestWin:   time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithCache enables the snapshot cache; ttl <= 0 leaves it off.
func (s *Service) WithCache(c cache.BytesCache, ttl time.Duration) *Service {
	s.cache = c
	s.snapshotTTL = ttl
	return s
}

func (s *Service) WithPush(p cache.Publisher) *Service {
	s.push = p
	return s
}

func (s *Service) WithRateLimit(rl RateLimiter, limit int64, window time.Duration) *Service {
	s.rl = rl
	if limit > 0 {
		s.ingestLimit = limit
	}
	if window > 0 {
		s.ingestWin = window
	}
	return s
}

// IngestLocation stores the courier's latest fix. When the fix is scoped to an
// active order bound to this courier it is also put on the tracking topic.
func (s *Service) IngestLocation(ctx context.Context, courierID string, sample models.LocationSample) error {
	if courierID == "" {
		return errors.Wrap(models.ErrInvalidInput, "courierId is required")
	}
	if !sample.Validate() {
		return ErrInvalidSample
	}

	if s.rl != nil {
		key := fmt.Sprintf("rl:courier:%s:location", courierID)
		allowed, n, err := s.rl.Allow(ctx, key, s.ingestLimit, s.ingestWin)
		if err != nil {
			// Лимитер недоступен: точку всё равно принимаем.
			slog.Warn("location rate limiter", "courier_id", courierID, "error", err.Error())
		} else if !allowed {
			slog.Warn("location rate limit exceeded", "courier_id", courierID, "count", n)
			return ErrRateLimited
		}
	}

	var order *models.Order
	if sample.OrderID != nil {
		o, err := s.repo.GetOrder(ctx, *sample.OrderID)
		if err != nil {
			return err
		}
		if !o.BoundTo(courierID) {
			return models.ErrNotOrderCourier
		}
		order = o
	}

	if err := s.repo.SaveLocation(ctx, courierID, sample); err != nil {
		return errors.Wrap(err, "save location")
	}
	if order != nil {
		s.dropSnapshot(ctx, order.ID)
	}

	if order == nil || !order.Status.IsActive() || s.producer == nil {
		return nil
	}
	loc := sample
	cid := courierID
	s.publish(ctx, messages.TrackingUpdated{
		OrderID:    order.ID,
		Kind:       messages.KindLocation,
		Location:   &loc,
		CourierID:  &cid,
		ObservedAt: sample.CapturedAt,
	})
	return nil
}

// Snapshot is the baseline/poll read. The cache is best effort.
func (s *Service) Snapshot(ctx context.Context, orderID int64) (*models.TrackingSnapshot, error) {
	if orderID <= 0 {
		return nil, models.ErrOrderNotFound
	}
	if s.cacheOn() {
		b, ok, err := s.cache.Get(ctx, cache.SnapshotKey(orderID))
		if err == nil && ok {
			var snap models.TrackingSnapshot
			if json.Unmarshal(b, &snap) == nil {
				return &snap, nil
			}
		}
	}
	snap, err := s.repo.GetSnapshot(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.storeSnapshot(ctx, snap)
	return snap, nil
}

// ApplyUpdate handles one event from the bus: the cached snapshot is refreshed
// and the event is fanned out to live subscribers of the order.
func (s *Service) ApplyUpdate(ctx context.Context, msg messages.TrackingUpdated) error {
	if msg.OrderID <= 0 {
		return errors.New("order_id is required")
	}
	if msg.ObservedAt.IsZero() {
		msg.ObservedAt = s.now()
	}

	if s.cacheOn() {
		snap, err := s.repo.GetSnapshot(ctx, msg.OrderID)
		if err != nil {
			slog.Warn("refresh tracking snapshot", "order_id", msg.OrderID, "error", err.Error())
		} else {
			s.storeSnapshot(ctx, snap)
		}
	}

	if s.push == nil {
		return nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal push event")
	}
	if err := s.push.Publish(ctx, messages.Topic(msg.OrderID), b); err != nil {
		return errors.Wrap(err, "push tracking event")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, msg messages.TrackingUpdated) {
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal tracking event", "order_id", msg.OrderID, "error", err.Error())
		return
	}
	key := []byte(strconv.FormatInt(msg.OrderID, 10))
	if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
		slog.Error("publish tracking event", "order_id", msg.OrderID, "kind", msg.Kind, "error", err.Error())
	}
}

func (s *Service) cacheOn() bool {
	return s.cache != nil && s.snapshotTTL > 0
}

func (s *Service) storeSnapshot(ctx context.Context, snap *models.TrackingSnapshot) {
	if !s.cacheOn() {
		return
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, cache.SnapshotKey(snap.OrderID), b, s.snapshotTTL)
}

// dropSnapshot makes the next poll read storage, so a fresh write is visible
// there even when the bus never delivers its event.
func (s *Service) dropSnapshot(ctx context.Context, orderID int64) {
	if !s.cacheOn() {
		return
	}
	if err := s.cache.Del(ctx, cache.SnapshotKey(orderID)); err != nil {
		slog.Warn("drop tracking snapshot", "order_id", orderID, "error", err.Error())
	}
}
