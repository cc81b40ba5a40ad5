package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/CourierTrack/internal/api/trackingapi"
	"github.com/BearBump/CourierTrack/internal/broker/messages"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type trackAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string
	heartbeat     time.Duration

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// eventApplier is the part of the tracking service fed by the bus.
type eventApplier interface {
	ApplyUpdate(ctx context.Context, msg messages.TrackingUpdated) error
}

type trackAPIDeps struct {
	orders   trackingapi.Orders
	tracking interface {
		trackingapi.Tracking
		eventApplier
	}
	stream   trackingapi.Stream
	verifier trackingapi.Verifier
	consumer kafkaConsumer
}

func runTrackAPI(ctx context.Context, opts trackAPIOpts, deps trackAPIDeps) error {
	if opts.swaggerPath == "" {
		return errors.New("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return errors.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	api := trackingapi.New(deps.orders, deps.tracking, deps.stream, deps.verifier).
		WithHeartbeat(opts.heartbeat)

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, api, opts.swaggerPath)
	}()

	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		err := deps.consumer.Consume(ctx, consumeHandler(ctx, deps.tracking))
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("kafka consumer stopped", "error", err.Error())
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

// consumeHandler never fails on a bad payload: a poison message would
// otherwise stall the partition.
func consumeHandler(ctx context.Context, svc eventApplier) func(key, value []byte) error {
	return func(_ []byte, value []byte) error {
		var m messages.TrackingUpdated
		if err := json.Unmarshal(value, &m); err != nil {
			slog.Warn("skip malformed tracking event", "error", err.Error())
			return nil
		}
		if err := svc.ApplyUpdate(ctx, m); err != nil {
			slog.Warn("apply tracking event", "order_id", m.OrderID, "kind", m.Kind, "error", err.Error())
		}
		return nil
	}
}

func newRouter(api *trackingapi.API, swaggerPath string) chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))
	api.Register(r)
	return r
}

func runHTTPServer(ctx context.Context, lis net.Listener, api *trackingapi.API, swaggerPath string) error {
	// WriteTimeout stays zero: /stream responses are long-lived.
	srv := &http.Server{Handler: newRouter(api, swaggerPath), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	err := srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
