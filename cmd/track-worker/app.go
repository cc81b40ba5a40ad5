package main

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/CourierTrack/config"
	"github.com/BearBump/CourierTrack/internal/broker/kafka"
	"github.com/BearBump/CourierTrack/internal/services/watchdog"
	"github.com/BearBump/CourierTrack/internal/storage/pgorders"
)

type workerFactories struct {
	newStorage  func(ctx context.Context, cfg *config.Config) (repo watchdog.Repository, closeFn func(), err error)
	newProducer func(cfg *config.Config) (watchdog.Producer, func())
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (watchdog.Repository, func(), error) {
			connString := pgorders.ConnString(cfg.Database.Host, cfg.Database.Port,
				cfg.Database.Username, cfg.Database.Password, cfg.Database.DBName, cfg.Database.SSLMode)
			st, err := pgorders.Connect(ctx, connString, uint64(cfg.CourierTrack.StartupConnectMaxAttempts))
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) (watchdog.Producer, func()) {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			retries := cfg.CourierTrack.PublishMaxRetries
			if retries <= 0 {
				retries = 3
			}
			p := kafka.NewProducer(brokers).WithRetry(uint64(retries), 0)
			return p, func() { _ = p.Close() }
		},
	}
}

func newWatchdog(cfg *config.Config, repo watchdog.Repository, producer watchdog.Producer) *watchdog.Watchdog {
	topic := cfg.Kafka.TrackingUpdatedTopicName
	if topic == "" {
		topic = "tracking.updated"
	}
	ct := cfg.CourierTrack

	planner := watchdog.DefaultPlannerConfig()
	if ct.SignalLostAfterSeconds > 0 {
		planner.QuietFor = time.Duration(ct.SignalLostAfterSeconds) * time.Second
	}

	return watchdog.New(repo, producer, topic).
		WithSettings(
			time.Duration(ct.WorkerPollIntervalSeconds)*time.Second,
			ct.WorkerBatchSize,
			ct.WorkerConcurrency,
			time.Duration(ct.WorkerLeaseSeconds)*time.Second,
		).
		WithPlanner(planner)
}

// RunTrackWorker runs the signal watchdog and its HTTP control surface until
// ctx is done.
func RunTrackWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	repo, closeFn, err := f.newStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	producer, closeProducer := f.newProducer(cfg)
	if closeProducer != nil {
		defer closeProducer()
	}

	w := newWatchdog(cfg, repo, producer)

	if httpOpts.httpAddr == "" {
		httpOpts.httpAddr = cfg.CourierTrack.WorkerHTTPAddr
	}
	httpOpts.watchdog = w
	httpOpts.cfg = cfg

	httpErr := make(chan error, 1)
	go func() { httpErr <- runWorkerHTTPServer(ctx, httpOpts) }()

	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()

	select {
	case err := <-runErr:
		return err
	case err := <-httpErr:
		if err != nil {
			return err
		}
		return <-runErr
	}
}
