package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/BearBump/CourierTrack/internal/broker/messages"
	"github.com/BearBump/CourierTrack/internal/cache"
	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	AssignCourier(ctx context.Context, orderID int64, courierID string, at time.Time) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, from, to models.Status, at time.Time) (*models.Order, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Service is the authoritative status transitioner. Every accepted change is
// persisted first and then announced on the tracking topic.
type Service struct {
	repo     Repository
	producer Producer
	topic    string
	cache    cache.BytesCache
	now      func() time.Time
}

func New(repo Repository, producer Producer, topic string) *Service {
	return &Service{
		repo:     repo,
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithCache lets status writes drop the order's cached tracking snapshot.
func (s *Service) WithCache(c cache.BytesCache) *Service {
	s.cache = c
	return s
}

func (s *Service) Create(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	if in.Destination.Latitude < -90 || in.Destination.Latitude > 90 ||
		in.Destination.Longitude < -180 || in.Destination.Longitude > 180 {
		return nil, errors.Wrap(models.ErrInvalidInput, "destination is out of range")
	}
	if in.TotalAmount < 0 {
		return nil, errors.Wrap(models.ErrInvalidInput, "totalAmount must not be negative")
	}
	return s.repo.CreateOrder(ctx, in)
}

func (s *Service) Get(ctx context.Context, orderID int64) (*models.Order, error) {
	if orderID <= 0 {
		return nil, models.ErrOrderNotFound
	}
	return s.repo.GetOrder(ctx, orderID)
}

// Accept binds courierID to the order. Two couriers racing for one order get
// exactly one success; the loser sees ErrAlreadyAssigned.
func (s *Service) Accept(ctx context.Context, orderID int64, courierID string) (*models.Order, error) {
	if courierID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "courierId is required")
	}
	o, err := s.repo.AssignCourier(ctx, orderID, courierID, s.now())
	if err != nil {
		return nil, err
	}
	slog.Info("order accepted", "order_id", orderID, "courier_id", courierID)
	s.dropSnapshot(ctx, o.ID)
	s.announce(ctx, o)
	return o, nil
}

// Advance moves the order one step along the chain, or cancels it. Only the
// bound courier may advance; acceptance goes through Accept.
func (s *Service) Advance(ctx context.Context, orderID int64, courierID string, target models.Status) (*models.Order, error) {
	if target == models.StatusAssigned {
		return nil, errors.Wrap(models.ErrInvalidTransition, "acceptance is a separate operation")
	}
	cur, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !cur.BoundTo(courierID) {
		return nil, models.ErrNotOrderCourier
	}
	return s.transition(ctx, cur, target)
}

// Cancel is the customer/operator side: cancelled from any non-terminal state.
func (s *Service) Cancel(ctx context.Context, orderID int64) (*models.Order, error) {
	cur, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, cur, models.StatusCancelled)
}

func (s *Service) transition(ctx context.Context, cur *models.Order, target models.Status) (*models.Order, error) {
	if err := models.CheckTransition(cur.Status, target); err != nil {
		return nil, err
	}
	o, err := s.repo.UpdateStatus(ctx, cur.ID, cur.Status, target, s.now())
	if err != nil {
		return nil, err
	}
	slog.Info("order status changed", "order_id", o.ID, "from", cur.Status, "to", o.Status)
	s.dropSnapshot(ctx, o.ID)
	s.announce(ctx, o)
	return o, nil
}

func (s *Service) dropSnapshot(ctx context.Context, orderID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cache.SnapshotKey(orderID)); err != nil {
		slog.Warn("drop tracking snapshot", "order_id", orderID, "error", err.Error())
	}
}

// announce is best effort: the snapshot was already dropped, so polling
// readers see the new status without the bus.
func (s *Service) announce(ctx context.Context, o *models.Order) {
	if s.producer == nil {
		return
	}
	st := o.Status
	msg := messages.TrackingUpdated{
		OrderID:    o.ID,
		Kind:       messages.KindStatus,
		Status:     &st,
		CourierID:  o.CourierID,
		ObservedAt: o.StatusAt,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal status event", "order_id", o.ID, "error", err.Error())
		return
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(strconv.FormatInt(o.ID, 10)), b); err != nil {
		slog.Error("publish status event", "order_id", o.ID, "error", err.Error())
	}
}
