package memorders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/pkg/errors"
)

// Store keeps orders and courier positions in memory with the same
// compare-and-set semantics as the Postgres storage.
type Store struct {
	mu sync.RWMutex

	nextID    int64
	orders    map[int64]*models.Order
	locations map[string]models.LocationSample
	nextCheck map[int64]time.Time

	now func() time.Time
}

func New() *Store {
	return &Store{
		orders:    make(map[int64]*models.Order),
		locations: make(map[string]models.LocationSample),
		nextCheck: make(map[int64]time.Time),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.nextID++
	o := &models.Order{
		ID:            s.nextID,
		Status:        models.StatusUnassigned,
		Destination:   in.Destination,
		Customer:      in.Customer,
		PaymentMethod: in.PaymentMethod,
		TotalAmount:   in.TotalAmount,
		Comment:       in.Comment,
		StatusAt:      now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.orders[o.ID] = o
	return copyOrder(o), nil
}

func (s *Store) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (s *Store) AssignCourier(ctx context.Context, orderID int64, courierID string, at time.Time) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	if o.CourierID != nil {
		return nil, models.ErrAlreadyAssigned
	}
	if o.Status != models.StatusUnassigned {
		return nil, errors.Wrapf(models.ErrInvalidTransition, "%s -> %s", o.Status, models.StatusAssigned)
	}
	id := courierID
	o.CourierID = &id
	o.Status = models.StatusAssigned
	o.StatusAt = at.UTC()
	o.UpdatedAt = at.UTC()
	return copyOrder(o), nil
}

func (s *Store) UpdateStatus(ctx context.Context, orderID int64, from, to models.Status, at time.Time) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	if o.Status != from {
		return nil, errors.Wrapf(models.ErrInvalidTransition, "status changed concurrently: %s", o.Status)
	}
	o.Status = to
	o.StatusAt = at.UTC()
	o.UpdatedAt = at.UTC()
	return copyOrder(o), nil
}

// SaveLocation keeps only the freshest sample per courier.
func (s *Store) SaveLocation(ctx context.Context, courierID string, sample models.LocationSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.locations[courierID]; ok && !sample.CapturedAt.After(prev.CapturedAt) {
		return nil
	}
	s.locations[courierID] = sample
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, orderID int64) (*models.TrackingSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	snap := &models.TrackingSnapshot{
		OrderID:    o.ID,
		Status:     o.Status,
		CourierID:  o.CourierID,
		ObservedAt: o.StatusAt,
	}
	if o.CourierID != nil {
		if loc, ok := s.locations[*o.CourierID]; ok && loc.OrderID != nil && *loc.OrderID == o.ID {
			l := loc
			snap.Location = &l
			if l.CapturedAt.After(snap.ObservedAt) {
				snap.ObservedAt = l.CapturedAt
			}
		}
	}
	return snap, nil
}

func (s *Store) ClaimQuietOrders(ctx context.Context, now time.Time, quietFor time.Duration, limit int, lease time.Duration) ([]models.QuietOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []models.QuietOrder
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		o := s.orders[id]
		if !o.Status.IsActive() || o.CourierID == nil {
			continue
		}
		if next, ok := s.nextCheck[id]; ok && next.After(now) {
			continue
		}
		q := models.QuietOrder{OrderID: id, Status: o.Status, CourierID: *o.CourierID}
		// a status change is a sign of life too
		lastSign := o.StatusAt
		if loc, ok := s.locations[*o.CourierID]; ok {
			seen := loc.CapturedAt
			q.LastSeenAt = &seen
			if seen.After(lastSign) {
				lastSign = seen
			}
		}
		if lastSign.After(now.Add(-quietFor)) {
			continue
		}
		s.nextCheck[id] = now.Add(lease)
		out = append(out, q)
	}
	return out, nil
}

func (s *Store) SetNextSignalCheck(ctx context.Context, orderID int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCheck[orderID] = at
	return nil
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	if o.CourierID != nil {
		id := *o.CourierID
		c.CourierID = &id
	}
	if o.Comment != nil {
		cm := *o.Comment
		c.Comment = &cm
	}
	return &c
}
