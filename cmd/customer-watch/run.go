package main

import (
	"context"
	"log/slog"

	"github.com/BearBump/CourierTrack/internal/customer/session"
	"github.com/BearBump/CourierTrack/internal/models"
)

// runWatch follows one order until it reaches a terminal status or ctx ends.
// Every merged change is logged; the returned status is the last one seen.
func runWatch(ctx context.Context, deps session.Deps, orderID int64) (models.Status, error) {
	reg := session.NewRegistry(deps)
	defer reg.CloseAll()

	final := make(chan models.Status, 1)
	statuses := make(chan models.Status, 16)

	_, err := reg.Open(ctx, orderID,
		session.WithStatusHandler(func(s models.Status) {
			slog.Info("order status", "order_id", orderID, "status", s)
			select {
			case statuses <- s:
			default:
			}
			if s.IsTerminal() {
				select {
				case final <- s:
				default:
				}
			}
		}),
		session.WithLocationHandler(func(l models.LocationSample) {
			slog.Info("courier location", "order_id", orderID,
				"lat", l.Latitude, "lon", l.Longitude, "captured_at", l.CapturedAt)
		}),
		session.WithSignalHandler(func(lost bool) {
			if lost {
				slog.Warn("courier signal lost", "order_id", orderID)
				return
			}
			slog.Info("courier signal back", "order_id", orderID)
		}),
	)
	if err != nil {
		return "", err
	}

	var last models.Status
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case s := <-statuses:
			last = s
		case s := <-final:
			return s, nil
		}
	}
}
