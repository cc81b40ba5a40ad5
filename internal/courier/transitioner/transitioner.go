package transitioner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/pkg/errors"
)

type API interface {
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	Accept(ctx context.Context, orderID int64) (*models.Order, error)
	Advance(ctx context.Context, orderID int64, target models.Status) (*models.Order, error)
}

// OrderBinder is the location reporter's order scope.
type OrderBinder interface {
	BindOrder(orderID *int64)
}

// Transitioner is the courier side of the status machine. The server is the
// authority; the local table only saves a round trip for moves that are
// certainly invalid.
type Transitioner struct {
	api    API
	binder OrderBinder

	mu    sync.Mutex
	known map[int64]models.Status
	bound *int64
}

func New(api API, binder OrderBinder) *Transitioner {
	return &Transitioner{api: api, binder: binder, known: make(map[int64]models.Status)}
}

// Accept claims the order. The loser of a race gets models.ErrAlreadyAssigned.
func (t *Transitioner) Accept(ctx context.Context, orderID int64) (*models.Order, error) {
	o, err := t.api.Accept(ctx, orderID)
	if err != nil {
		t.forgetOn(orderID, err)
		return nil, err
	}
	t.remember(o)
	return o, nil
}

func (t *Transitioner) Advance(ctx context.Context, orderID int64, target models.Status) (*models.Order, error) {
	if target == models.StatusAssigned {
		return nil, errors.Wrap(models.ErrInvalidTransition, "use Accept")
	}
	t.mu.Lock()
	cur, ok := t.known[orderID]
	t.mu.Unlock()
	if ok {
		if err := models.CheckTransition(cur, target); err != nil {
			return nil, err
		}
	}

	o, err := t.api.Advance(ctx, orderID, target)
	if err != nil {
		t.forgetOn(orderID, err)
		return nil, err
	}
	t.remember(o)
	return o, nil
}

// Refresh reloads the server view of the order.
func (t *Transitioner) Refresh(ctx context.Context, orderID int64) (*models.Order, error) {
	o, err := t.api.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	t.remember(o)
	return o, nil
}

func (t *Transitioner) remember(o *models.Order) {
	t.mu.Lock()
	t.known[o.ID] = o.Status

	var bind, unbind bool
	switch {
	case o.Status.IsActive():
		bind = t.bound == nil || *t.bound != o.ID
		if bind {
			id := o.ID
			t.bound = &id
		}
	case t.bound != nil && *t.bound == o.ID:
		unbind = true
		t.bound = nil
	}
	t.mu.Unlock()

	if t.binder == nil {
		return
	}
	if bind {
		id := o.ID
		t.binder.BindOrder(&id)
		slog.Info("reporting scoped to order", "order_id", o.ID, "status", o.Status)
	}
	if unbind {
		t.binder.BindOrder(nil)
		slog.Info("reporting back to idle", "order_id", o.ID, "status", o.Status)
	}
}

// forgetOn drops the cached status when the server disagreed with it.
func (t *Transitioner) forgetOn(orderID int64, err error) {
	if !errors.Is(err, models.ErrInvalidTransition) && !errors.Is(err, models.ErrAlreadyAssigned) {
		return
	}
	t.mu.Lock()
	delete(t.known, orderID)
	t.mu.Unlock()
}
