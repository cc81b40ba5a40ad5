package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/CourierTrack/config"
	"github.com/BearBump/CourierTrack/internal/auth"
	"github.com/BearBump/CourierTrack/internal/client/api"
	"github.com/BearBump/CourierTrack/internal/courier/sampler"
	"github.com/BearBump/CourierTrack/internal/prefs/tomlstore"
	"github.com/pkg/errors"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "courier-sim"))

	courierID := flag.String("courier", "courier-1", "courier id used as the token subject")
	orderID := flag.Int64("order", 0, "order to accept and deliver")
	speed := flag.Float64("speed", 12, "driving speed, m/s")
	flag.Parse()
	if *orderID <= 0 {
		fmt.Fprintln(os.Stderr, "-order is required")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse error: %v", err))
	}
	ct := cfg.CourierTrack

	token, err := auth.New(ct.AuthSecret, time.Duration(ct.AuthTokenTTLSeconds)*time.Second).
		Issue(*courierID, auth.RoleCourier)
	if err != nil {
		panic(err)
	}

	prefsPath := ct.PrefsPath
	if prefsPath == "" {
		prefsPath = "courier-prefs.toml"
	}
	prefs, err := tomlstore.Open(prefsPath)
	if err != nil {
		panic(err)
	}

	smp := sampler.DefaultConfig()
	if ct.SampleIntervalSeconds > 0 {
		smp.Interval = time.Duration(ct.SampleIntervalSeconds) * time.Second
	}
	if ct.MinDisplacementMeters > 0 {
		smp.DistanceMeters = ct.MinDisplacementMeters
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	o, err := runCourier(ctx, api.New(ct.APIBaseURL, token), prefs, simOpts{
		courierID: *courierID,
		orderID:   *orderID,
		speedMps:  *speed,
		sampler:   smp,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("courier-sim stopped", "order_id", *orderID, "error", err.Error())
		cancel()
		os.Exit(1)
	}
	if o != nil {
		slog.Info("courier-sim done", "order_id", o.ID, "status", o.Status)
	}
}
