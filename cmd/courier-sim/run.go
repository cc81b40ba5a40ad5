package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/CourierTrack/internal/courier/positioning"
	"github.com/BearBump/CourierTrack/internal/courier/reporter"
	"github.com/BearBump/CourierTrack/internal/courier/sampler"
	"github.com/BearBump/CourierTrack/internal/courier/transitioner"
	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/pkg/errors"
)

// courierAPI is what the simulated device needs from the server.
type courierAPI interface {
	reporter.Uploader
	transitioner.API
}

type simOpts struct {
	courierID string
	orderID   int64

	startOffsetDeg float64       // how far north of the destination the drive starts, default: 0.01
	speedMps       float64       // default: 12
	tick           time.Duration // default: 1s
	nearMeters     float64       // default: 300
	arriveMeters   float64       // default: 20

	sampler sampler.Config
}

func (o *simOpts) defaults() {
	if o.startOffsetDeg == 0 {
		o.startOffsetDeg = 0.01
	}
	if o.speedMps <= 0 {
		o.speedMps = 12
	}
	if o.tick <= 0 {
		o.tick = time.Second
	}
	if o.nearMeters <= 0 {
		o.nearMeters = 300
	}
	if o.arriveMeters <= 0 {
		o.arriveMeters = 20
	}
	if o.sampler.Interval <= 0 {
		o.sampler = sampler.DefaultConfig()
	}
}

// watchedUploader passes every sample through and also hands the ones the
// server accepted to the driver loop.
type watchedUploader struct {
	next reporter.Uploader
	seen chan models.LocationSample
}

func (u *watchedUploader) UploadLocation(ctx context.Context, s models.LocationSample) error {
	if err := u.next.UploadLocation(ctx, s); err != nil {
		return err
	}
	select {
	case u.seen <- s:
	default:
	}
	return nil
}

// runCourier accepts the order, drives to its destination and walks the status
// chain on the way. It returns the last order state the server confirmed.
func runCourier(ctx context.Context, api courierAPI, prefs reporter.Prefs, opts simOpts) (*models.Order, error) {
	opts.defaults()

	up := &watchedUploader{next: api, seen: make(chan models.LocationSample, 16)}
	order, err := api.GetOrder(ctx, opts.orderID)
	if err != nil {
		return nil, errors.Wrap(err, "load order")
	}
	dest := order.Destination

	route := positioning.NewRoute([]positioning.Point{
		{Latitude: dest.Latitude + opts.startOffsetDeg, Longitude: dest.Longitude},
		{Latitude: dest.Latitude, Longitude: dest.Longitude},
	}, opts.speedMps, opts.tick)

	rep := reporter.New(up, route, prefs, reporter.Config{Sampler: opts.sampler})
	tr := transitioner.New(api, rep)

	online, err := rep.RestoreOnline(ctx, opts.courierID)
	if err != nil {
		return nil, err
	}
	if !online {
		if err := rep.SetOnline(ctx, opts.courierID, true); err != nil {
			return nil, err
		}
	}
	defer rep.Stop()

	if order.Status == models.StatusUnassigned {
		if order, err = tr.Accept(ctx, opts.orderID); err != nil {
			return nil, err
		}
		slog.Info("order accepted", "order_id", order.ID, "courier_id", opts.courierID)
	} else if order, err = tr.Refresh(ctx, opts.orderID); err != nil {
		return nil, err
	}
	if order.Status == models.StatusAssigned {
		if order, err = tr.Advance(ctx, opts.orderID, models.StatusOnWay); err != nil {
			return nil, err
		}
	}

	for !order.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			return order, ctx.Err()
		case s := <-up.seen:
			d := models.DistanceMeters(s.Latitude, s.Longitude, dest.Latitude, dest.Longitude)
			var next models.Status
			switch {
			case order.Status == models.StatusOnWay && d <= opts.nearMeters:
				next = models.StatusNear
			case order.Status == models.StatusNear && d <= opts.arriveMeters:
				next = models.StatusDelivered
			default:
				continue
			}
			if order, err = tr.Advance(ctx, opts.orderID, next); err != nil {
				return nil, err
			}
			slog.Info("order advanced", "order_id", order.ID, "status", order.Status, "distance_m", int(d))
		}
	}
	return order, nil
}
