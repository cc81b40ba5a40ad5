package pgorders

import (
	"context"
	"time"

	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var activeStatuses = []string{
	string(models.StatusAssigned),
	string(models.StatusOnWay),
	string(models.StatusNear),
}

// ClaimQuietOrders picks active orders whose courier has shown no sign of life
// (location or status change) for quietFor and leases them, so the next
// claim skips them while a watchdog handles them.
// Uses SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimQuietOrders(ctx context.Context, now time.Time, quietFor time.Duration, limit int, lease time.Duration) ([]models.QuietOrder, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT o.id, o.status, o.courier_id, cl.captured_at
FROM orders o
LEFT JOIN courier_locations cl ON cl.courier_id = o.courier_id
WHERE o.status = ANY($2)
  AND o.courier_id IS NOT NULL
  AND o.next_signal_check_at <= $1
  AND GREATEST(o.status_at, COALESCE(cl.captured_at, o.status_at)) < $3
ORDER BY o.next_signal_check_at ASC
LIMIT $4
FOR UPDATE OF o SKIP LOCKED
`, now.UTC(), activeStatuses, now.UTC().Add(-quietFor), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select quiet orders")
	}

	var picked []models.QuietOrder
	for rows.Next() {
		var q models.QuietOrder
		var status string
		var lastSeen *time.Time
		if err := rows.Scan(&q.OrderID, &status, &q.CourierID, &lastSeen); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan quiet order")
		}
		q.Status = models.Status(status)
		if lastSeen != nil {
			t := lastSeen.UTC()
			q.LastSeenAt = &t
		}
		picked = append(picked, q)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, q := range picked {
		if _, err := tx.Exec(ctx, `UPDATE orders SET next_signal_check_at = $2 WHERE id = $1`, q.OrderID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease order")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) SetNextSignalCheck(ctx context.Context, orderID int64, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE orders SET next_signal_check_at = $2 WHERE id = $1`, orderID, at.UTC())
	return errors.Wrap(err, "set next signal check")
}
