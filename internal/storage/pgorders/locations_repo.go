package pgorders

import (
	"context"
	"time"

	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// SaveLocation upserts the courier's latest position. Out-of-order samples
// older than the stored one are ignored.
func (s *Storage) SaveLocation(ctx context.Context, courierID string, sample models.LocationSample) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO courier_locations (
  courier_id, order_id, latitude, longitude, speed, heading, accuracy, captured_at, received_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
ON CONFLICT (courier_id) DO UPDATE SET
  order_id = EXCLUDED.order_id,
  latitude = EXCLUDED.latitude,
  longitude = EXCLUDED.longitude,
  speed = EXCLUDED.speed,
  heading = EXCLUDED.heading,
  accuracy = EXCLUDED.accuracy,
  captured_at = EXCLUDED.captured_at,
  received_at = EXCLUDED.received_at
WHERE courier_locations.captured_at < EXCLUDED.captured_at
`, courierID, sample.OrderID, sample.Latitude, sample.Longitude,
		sample.Speed, sample.Heading, sample.Accuracy, sample.CapturedAt.UTC())
	return errors.Wrap(err, "upsert courier location")
}

func (s *Storage) GetSnapshot(ctx context.Context, orderID int64) (*models.TrackingSnapshot, error) {
	var (
		snap       models.TrackingSnapshot
		status     string
		lat, lon   *float64
		locOrderID *int64
		speed      *float64
		heading    *float64
		accuracy   *float64
		capturedAt *time.Time
	)
	err := s.db.QueryRow(ctx, `
SELECT
  o.id, o.status, o.courier_id, o.status_at,
  cl.order_id, cl.latitude, cl.longitude, cl.speed, cl.heading, cl.accuracy, cl.captured_at
FROM orders o
LEFT JOIN courier_locations cl
  ON cl.courier_id = o.courier_id AND cl.order_id = o.id
WHERE o.id = $1
`, orderID).Scan(
		&snap.OrderID, &status, &snap.CourierID, &snap.ObservedAt,
		&locOrderID, &lat, &lon, &speed, &heading, &accuracy, &capturedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select snapshot")
	}
	snap.Status = models.Status(status)
	snap.ObservedAt = snap.ObservedAt.UTC()

	if lat != nil && lon != nil && capturedAt != nil {
		snap.Location = &models.LocationSample{
			Latitude:   *lat,
			Longitude:  *lon,
			Speed:      speed,
			Heading:    heading,
			Accuracy:   accuracy,
			CapturedAt: capturedAt.UTC(),
			OrderID:    locOrderID,
		}
		if snap.Location.CapturedAt.After(snap.ObservedAt) {
			snap.ObservedAt = snap.Location.CapturedAt
		}
	}
	return &snap, nil
}
