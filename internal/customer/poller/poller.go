package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/pkg/errors"
)

type Fetcher interface {
	FetchSnapshot(ctx context.Context, orderID int64) (*models.TrackingSnapshot, error)
}

// Poller re-reads the order snapshot on a fixed interval. Each fetch is
// bounded by the interval and is superseded, not queued, by the next tick.
type Poller struct {
	fetcher  Fetcher
	orderID  int64
	interval time.Duration

	mu        sync.Mutex
	started   bool
	stopped   atomic.Bool
	stopCh    chan struct{}
	done      chan struct{}
	triggerCh chan struct{}

	ticks      atomic.Int64
	fetched    atomic.Int64
	superseded atomic.Int64
	failures   atomic.Int64
}

func New(f Fetcher, orderID int64, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		fetcher:   f,
		orderID:   orderID,
		interval:  interval,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		triggerCh: make(chan struct{}, 1),
	}
}

func (p *Poller) Interval() time.Duration { return p.interval }

func (p *Poller) Start(emit func(models.TrackingUpdate)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("poller already started")
	}
	if p.stopped.Load() {
		return errors.New("poller is stopped")
	}
	p.started = true
	go p.loop(emit)
	return nil
}

// Trigger forces an immediate tick (best-effort, non-blocking).
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Stop ends the loop before returning. A fetch already in flight finishes in
// the background and its result is dropped.
func (p *Poller) Stop() {
	if p.stopped.Swap(true) {
		p.mu.Lock()
		started := p.started
		p.mu.Unlock()
		if started {
			<-p.done
		}
		return
	}
	close(p.stopCh)
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		<-p.done
	}
}

func (p *Poller) loop(emit func(models.TrackingUpdate)) {
	defer close(p.done)

	t := time.NewTicker(p.interval)
	defer t.Stop()

	var cancelPrev context.CancelFunc
	for {
		select {
		case <-p.stopCh:
			return
		case <-t.C:
		case <-p.triggerCh:
		}
		p.ticks.Add(1)
		if cancelPrev != nil {
			cancelPrev()
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.interval)
		cancelPrev = cancel
		go p.fetch(ctx, cancel, emit)
	}
}

func (p *Poller) fetch(ctx context.Context, cancel context.CancelFunc, emit func(models.TrackingUpdate)) {
	defer cancel()
	snap, err := p.fetcher.FetchSnapshot(ctx, p.orderID)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			p.superseded.Add(1)
			return
		}
		p.failures.Add(1)
		slog.Warn("tracking poll failed", "order_id", p.orderID, "error", err.Error())
		return
	}
	if ctx.Err() != nil {
		p.superseded.Add(1)
		return
	}
	if p.stopped.Load() {
		return
	}
	p.fetched.Add(1)
	emit(snap.Update(models.SourcePoll))
}

type Stats struct {
	Ticks      int64 `json:"ticks"`
	Fetched    int64 `json:"fetched"`
	Superseded int64 `json:"superseded"`
	Failures   int64 `json:"failures"`
}

func (p *Poller) Stats() Stats {
	return Stats{
		Ticks:      p.ticks.Load(),
		Fetched:    p.fetched.Load(),
		Superseded: p.superseded.Load(),
		Failures:   p.failures.Load(),
	}
}
