package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/CourierTrack/config"
	"github.com/BearBump/CourierTrack/internal/auth"
	"github.com/BearBump/CourierTrack/internal/broker/kafka"
	"github.com/BearBump/CourierTrack/internal/cache/rediscache"
	"github.com/BearBump/CourierTrack/internal/services/orders"
	"github.com/BearBump/CourierTrack/internal/services/tracking"
	"github.com/BearBump/CourierTrack/internal/storage/pgorders"
)

type trackAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   trackAPIOpts
	deps   trackAPIDeps

	closers []func()
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse error: %v", err))
	}
	ct := cfg.CourierTrack

	httpAddr := ct.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := ct.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "track-api"
	}
	topic := cfg.Kafka.TrackingUpdatedTopicName
	if topic == "" {
		topic = "tracking.updated"
	}
	if ct.AuthSecret == "" {
		panic("courier_track.auth_secret is required")
	}
	snapshotTTL := time.Duration(ct.SnapshotTTLSeconds) * time.Second
	if snapshotTTL <= 0 {
		snapshotTTL = 10 * time.Minute
	}
	publishRetries := ct.PublishMaxRetries
	if publishRetries <= 0 {
		publishRetries = 3
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	connString := pgorders.ConnString(cfg.Database.Host, cfg.Database.Port,
		cfg.Database.Username, cfg.Database.Password, cfg.Database.DBName, cfg.Database.SSLMode)
	st, err := pgorders.Connect(ctx, connString, uint64(ct.StartupConnectMaxAttempts))
	if err != nil {
		cancel()
		panic(err)
	}

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)
	ps := rediscache.NewPubSub(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers).WithRetry(uint64(publishRetries), 0)
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	orderSvc := orders.New(st, producer, topic).WithCache(rc)
	trackingSvc := tracking.New(st, producer, topic).
		WithCache(rc, snapshotTTL).
		WithPush(ps).
		WithRateLimit(rl, int64(ct.IngestRateLimitPerMinute), time.Minute)

	tokens := auth.New(ct.AuthSecret, time.Duration(ct.AuthTokenTTLSeconds)*time.Second)

	return &trackAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: trackAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		deps: trackAPIDeps{
			orders:   orderSvc,
			tracking: trackingSvc,
			stream:   ps,
			verifier: tokens,
			consumer: consumer,
		},
		closers: []func(){
			func() { _ = consumer.Close() },
			func() { _ = producer.Close() },
			func() { _ = ps.Close() },
			func() { _ = rl.Close() },
			func() { _ = rc.Close() },
			st.Close,
		},
	}
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, c := range a.closers {
		c()
	}
}

func (a *trackAPIApp) Run() error {
	return runTrackAPI(a.ctx, a.opts, a.deps)
}
