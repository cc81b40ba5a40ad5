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
	"github.com/BearBump/CourierTrack/internal/customer/session"
	"github.com/pkg/errors"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "customer-watch"))

	customerID := flag.String("customer", "customer-1", "customer id used as the token subject")
	orderID := flag.Int64("order", 0, "order to follow")
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
		Issue(*customerID, auth.RoleCustomer)
	if err != nil {
		panic(err)
	}
	client := api.New(ct.APIBaseURL, token)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := runWatch(ctx, session.Deps{
		Transport:    client.Stream(),
		Fetcher:      client,
		PollInterval: time.Duration(ct.PollIntervalSeconds) * time.Second,
		StaleAfter:   time.Duration(ct.StaleAfterSeconds) * time.Second,
	}, *orderID)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("customer-watch stopped", "order_id", *orderID, "error", err.Error())
		cancel()
		os.Exit(1)
	}
	slog.Info("customer-watch done", "order_id", *orderID, "status", st)
}
