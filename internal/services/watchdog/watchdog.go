package watchdog

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/CourierTrack/internal/broker/messages"
	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	ClaimQuietOrders(ctx context.Context, now time.Time, quietFor time.Duration, limit int, lease time.Duration) ([]models.QuietOrder, error)
	SetNextSignalCheck(ctx context.Context, orderID int64, at time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Watchdog finds active orders whose courier went quiet and announces
// signal_lost for them on the tracking topic.
type Watchdog struct {
	repo     Repository
	producer Producer
	topic    string

	planner *Planner

	interval    time.Duration
	batchSize   int
	concurrency int
	lease       time.Duration

	triggerCh chan struct{}
	now       func() time.Time

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalAnnounced      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, topic string) *Watchdog {
	return &Watchdog{
		repo:              repo,
		producer:          producer,
		topic:             topic,
		planner:           NewPlanner(DefaultPlannerConfig(), nil),
		interval:          5 * time.Second,
		batchSize:         100,
		concurrency:       10,
		lease:             time.Minute,
		triggerCh:         make(chan struct{}, 1),
		now:               func() time.Time { return time.Now().UTC() },
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (w *Watchdog) WithSettings(interval time.Duration, batchSize, concurrency int, lease time.Duration) *Watchdog {
	if interval > 0 {
		w.interval = interval
	}
	if batchSize > 0 {
		w.batchSize = batchSize
	}
	if concurrency > 0 {
		w.concurrency = concurrency
	}
	if lease > 0 {
		w.lease = lease
	}
	return w
}

func (w *Watchdog) WithPlanner(cfg PlannerConfig) *Watchdog {
	w.planner = NewPlanner(cfg, nil)
	return w
}

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (w *Watchdog) Trigger() {
	w.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalAnnounced int64      `json:"totalAnnounced"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (w *Watchdog) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, w.startedAtUnixNano).UTC(),
		TotalClaimed:   w.totalClaimed.Load(),
		TotalAnnounced: w.totalAnnounced.Load(),
		TotalErrors:    w.totalErrors.Load(),
		InFlight:       w.inFlight.Load(),
	}
	if n := w.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := w.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	w.lastErrorMu.Lock()
	st.LastError = w.lastError
	w.lastErrorMu.Unlock()
	return st
}

func (w *Watchdog) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.runOnce(ctx)
		case <-w.triggerCh:
			w.runOnce(ctx)
		}
	}
}

func (w *Watchdog) runOnce(ctx context.Context) {
	now := w.now()
	w.lastCycleUnixNano.Store(now.UnixNano())

	items, err := w.repo.ClaimQuietOrders(ctx, now, w.planner.QuietFor(), w.batchSize, w.lease)
	if err != nil {
		slog.Error("claim quiet orders", "error", err.Error())
		w.setLastError(err)
		return
	}
	w.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, q := range items {
		sem <- struct{}{}
		wg.Add(1)
		w.inFlight.Add(1)
		go func(q models.QuietOrder) {
			defer func() {
				w.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := w.announce(ctx, now, q); err != nil {
				w.totalErrors.Add(1)
				w.setLastError(err)
				slog.Error("announce signal lost", "order_id", q.OrderID, "error", err.Error())
				return
			}
			w.totalAnnounced.Add(1)
		}(q)
	}
	wg.Wait()
}

// announce publishes signal_lost and schedules the next look. On failure the
// claim lease stays in place and the order comes back after it expires.
func (w *Watchdog) announce(ctx context.Context, now time.Time, q models.QuietOrder) error {
	st := q.Status
	cid := q.CourierID
	msg := messages.TrackingUpdated{
		OrderID:    q.OrderID,
		Kind:       messages.KindSignalLost,
		Status:     &st,
		CourierID:  &cid,
		ObservedAt: now,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}
	key := []byte(strconv.FormatInt(q.OrderID, 10))
	if err := w.producer.Publish(ctx, w.topic, key, b); err != nil {
		return err
	}

	slog.Info("courier signal lost", "order_id", q.OrderID, "courier_id", q.CourierID)
	next := now.Add(w.planner.RecheckDelay(now, q.LastSeenAt))
	if err := w.repo.SetNextSignalCheck(ctx, q.OrderID, next); err != nil {
		return errors.Wrap(err, "set next signal check")
	}
	return nil
}

func (w *Watchdog) setLastError(err error) {
	w.lastErrorMu.Lock()
	w.lastError = err.Error()
	w.lastErrorMu.Unlock()
}
