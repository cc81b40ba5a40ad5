package pgorders

import (
	"context"
	"time"

	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const orderColumns = `
  id, status,
  dest_latitude, dest_longitude, dest_address,
  customer_id, customer_name, customer_phone,
  courier_id, payment_method, total_amount, comment,
  status_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	var status string
	if err := row.Scan(
		&o.ID, &status,
		&o.Destination.Latitude, &o.Destination.Longitude, &o.Destination.Address,
		&o.Customer.ID, &o.Customer.Name, &o.Customer.Phone,
		&o.CourierID, &o.PaymentMethod, &o.TotalAmount, &o.Comment,
		&o.StatusAt, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Status = models.Status(status)
	return &o, nil
}

func (s *Storage) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
INSERT INTO orders (
  status, dest_latitude, dest_longitude, dest_address,
  customer_id, customer_name, customer_phone, payment_method, total_amount, comment,
  status_at, next_signal_check_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11,$11,$11)
RETURNING`+orderColumns,
		models.StatusUnassigned, in.Destination.Latitude, in.Destination.Longitude, in.Destination.Address,
		in.Customer.ID, in.Customer.Name, in.Customer.Phone, in.PaymentMethod, in.TotalAmount, in.Comment, now)
	o, err := scanOrder(row)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}
	return o, nil
}

func (s *Storage) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

// AssignCourier binds courierID to an unassigned order. The WHERE clause is
// the compare-and-set: of two concurrent callers exactly one updates the row.
func (s *Storage) AssignCourier(ctx context.Context, orderID int64, courierID string, at time.Time) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `
UPDATE orders
SET
  courier_id = $2,
  status = $3,
  status_at = $4,
  next_signal_check_at = $4,
  updated_at = now()
WHERE id = $1
  AND courier_id IS NULL
  AND status = $5
RETURNING`+orderColumns,
		orderID, courierID, models.StatusAssigned, at.UTC(), models.StatusUnassigned))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, "assign courier")
	}

	cur, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if cur.CourierID != nil {
		return nil, models.ErrAlreadyAssigned
	}
	return nil, errors.Wrapf(models.ErrInvalidTransition, "%s -> %s", cur.Status, models.StatusAssigned)
}

// UpdateStatus moves the order from -> to only if it is still in from.
func (s *Storage) UpdateStatus(ctx context.Context, orderID int64, from, to models.Status, at time.Time) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `
UPDATE orders
SET
  status = $3,
  status_at = $4,
  updated_at = now()
WHERE id = $1
  AND status = $2
RETURNING`+orderColumns,
		orderID, from, to, at.UTC()))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, "update order status")
	}

	cur, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return nil, errors.Wrapf(models.ErrInvalidTransition, "status changed concurrently: %s", cur.Status)
}
