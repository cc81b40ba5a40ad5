package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/CourierTrack/internal/customer/channel"
	"github.com/BearBump/CourierTrack/internal/customer/poller"
	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Deps struct {
	Transport    channel.Transport
	Fetcher      poller.Fetcher
	PollInterval time.Duration // default: 10s
	StaleAfter   time.Duration // default: 3 * PollInterval
}

type Option func(*handlers)

type handlers struct {
	location []func(models.LocationSample)
	status   []func(models.Status)
	signal   []func(lost bool)
}

func WithLocationHandler(cb func(models.LocationSample)) Option {
	return func(h *handlers) { h.location = append(h.location, cb) }
}

func WithStatusHandler(cb func(models.Status)) Option {
	return func(h *handlers) { h.status = append(h.status, cb) }
}

func WithSignalHandler(cb func(lost bool)) Option {
	return func(h *handlers) { h.signal = append(h.signal, cb) }
}

// Session is the customer's view of one order. Push and poll results meet in a
// single actor goroutine that owns the merged state; callbacks run only there.
// Location never moves back in time and status never moves back in rank.
type Session struct {
	id         string
	orderID    int64
	staleAfter time.Duration

	ch *channel.Channel
	pl *poller.Poller

	closed    atomic.Bool
	closeOnce sync.Once
	quit      chan struct{}
	done      chan struct{}

	boxMu  sync.Mutex
	box    []func()
	notify chan struct{}

	// owned by the actor
	loc    *models.LocationSample
	status *models.Status
	lost   bool
	stale  *time.Timer
	h      handlers

	applied atomic.Int64
	dropped atomic.Int64
}

// Open subscribes to push first so nothing published after the baseline is
// missed, then fetches the baseline synchronously. A baseline error closes
// the subscription and is returned.
func Open(ctx context.Context, deps Deps, orderID int64, opts ...Option) (*Session, error) {
	if deps.Transport == nil || deps.Fetcher == nil {
		return nil, errors.New("session needs a transport and a fetcher")
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = 10 * time.Second
	}
	if deps.StaleAfter <= 0 {
		deps.StaleAfter = 3 * deps.PollInterval
	}

	s := &Session{
		id:         uuid.NewString(),
		orderID:    orderID,
		staleAfter: deps.StaleAfter,
		ch:         channel.New(deps.Transport, orderID),
		pl:         poller.New(deps.Fetcher, orderID, deps.PollInterval),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		notify:     make(chan struct{}, 1),
	}

	if err := s.ch.Start(ctx, s.enqueueUpdate); err != nil {
		return nil, err
	}
	baseline, err := deps.Fetcher.FetchSnapshot(ctx, orderID)
	if err != nil {
		_ = s.ch.Close()
		return nil, errors.Wrap(err, "fetch baseline")
	}

	s.seed(*baseline)
	go s.run()

	var h handlers
	for _, o := range opts {
		o(&h)
	}
	for _, cb := range h.location {
		s.OnLocationUpdate(cb)
	}
	for _, cb := range h.status {
		s.OnStatusUpdate(cb)
	}
	for _, cb := range h.signal {
		s.OnSignal(cb)
	}

	if err := s.pl.Start(s.enqueueUpdate); err != nil {
		s.Close()
		return nil, err
	}
	slog.Info("tracking session opened", "order_id", orderID, "session_id", s.id, "status", baseline.Status)
	return s, nil
}

func (s *Session) ID() string     { return s.id }
func (s *Session) OrderID() int64 { return s.orderID }
func (s *Session) Closed() bool   { return s.closed.Load() }
func (s *Session) Trigger()       { s.pl.Trigger() }

// OnLocationUpdate registers cb and replays the current location to it.
func (s *Session) OnLocationUpdate(cb func(models.LocationSample)) {
	s.enqueue(func() {
		s.h.location = append(s.h.location, cb)
		if s.loc != nil {
			cb(*s.loc)
		}
	})
}

// OnStatusUpdate registers cb and replays the current status to it.
func (s *Session) OnStatusUpdate(cb func(models.Status)) {
	s.enqueue(func() {
		s.h.status = append(s.h.status, cb)
		if s.status != nil {
			cb(*s.status)
		}
	})
}

// OnSignal registers cb; it is called with true when the courier's signal is
// considered lost and with false when it comes back.
func (s *Session) OnSignal(cb func(lost bool)) {
	s.enqueue(func() {
		s.h.signal = append(s.h.signal, cb)
		if s.lost {
			cb(true)
		}
	})
}

// Close stops both channels and waits for the actor to finish the callback it
// is running, if any; no callback runs after Close returns. It is safe to call
// more than once and concurrently with in-flight polls, but not from inside a
// session callback.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.ch.Close(); err != nil {
			slog.Warn("close tracking channel", "order_id", s.orderID, "error", err.Error())
		}
		s.pl.Stop()
		close(s.quit)
		slog.Info("tracking session closed", "order_id", s.orderID, "session_id", s.id)
	})
	<-s.done
}

type Stats struct {
	Applied int64         `json:"applied"`
	Dropped int64         `json:"dropped"`
	Channel channel.Stats `json:"channel"`
	Poller  poller.Stats  `json:"poller"`
}

func (s *Session) Stats() Stats {
	return Stats{
		Applied: s.applied.Load(),
		Dropped: s.dropped.Load(),
		Channel: s.ch.Stats(),
		Poller:  s.pl.Stats(),
	}
}

func (s *Session) enqueueUpdate(u models.TrackingUpdate) {
	s.enqueue(func() { s.apply(u) })
}

func (s *Session) enqueue(fn func()) {
	if s.closed.Load() {
		return
	}
	s.boxMu.Lock()
	s.box = append(s.box, fn)
	s.boxMu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) run() {
	defer close(s.done)
	s.stale = time.NewTimer(s.staleAfter)
	if s.status == nil || !s.status.IsActive() {
		s.stale.Stop()
	}
	defer s.stale.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-s.stale.C:
			if !s.closed.Load() {
				s.staleFired()
			}
		case <-s.notify:
			s.boxMu.Lock()
			batch := s.box
			s.box = nil
			s.boxMu.Unlock()
			for _, fn := range batch {
				if s.closed.Load() {
					return
				}
				fn()
			}
		}
	}
}

// seed takes the baseline before the actor starts; no callbacks yet.
func (s *Session) seed(b models.TrackingSnapshot) {
	if b.Status.IsValid() {
		st := b.Status
		s.status = &st
	}
	if b.Location != nil {
		l := *b.Location
		s.loc = &l
	}
}

func (s *Session) apply(u models.TrackingUpdate) {
	if u.OrderID != 0 && u.OrderID != s.orderID {
		s.dropped.Add(1)
		return
	}
	changed := false

	if u.Status != nil && s.acceptsStatus(*u.Status) {
		st := *u.Status
		s.status = &st
		changed = true
		for _, cb := range s.h.status {
			cb(st)
		}
		switch {
		case st.IsTerminal():
			s.stale.Stop()
			s.setLost(false)
		case st.IsActive():
			s.resetStale()
		}
	}

	if u.Location != nil && (s.loc == nil || u.Location.CapturedAt.After(s.loc.CapturedAt)) {
		l := *u.Location
		s.loc = &l
		changed = true
		for _, cb := range s.h.location {
			cb(l)
		}
		if s.status != nil && s.status.IsActive() {
			s.resetStale()
		}
		s.setLost(false)
	}

	if u.SignalLost != nil {
		switch {
		case *u.SignalLost && s.status != nil && s.status.IsActive():
			s.setLost(true)
		case !*u.SignalLost && u.Location == nil:
			s.setLost(false)
		}
	}

	if changed {
		s.applied.Add(1)
	} else {
		s.dropped.Add(1)
	}
}

func (s *Session) acceptsStatus(next models.Status) bool {
	if !next.IsValid() {
		return false
	}
	if s.status == nil {
		return true
	}
	cur := *s.status
	if cur == models.StatusCancelled {
		return false
	}
	if next == models.StatusCancelled {
		return true
	}
	return next.Rank() > cur.Rank()
}

func (s *Session) resetStale() {
	if !s.stale.Stop() {
		select {
		case <-s.stale.C:
		default:
		}
	}
	s.stale.Reset(s.staleAfter)
}

func (s *Session) staleFired() {
	if s.status == nil || !s.status.IsActive() {
		return
	}
	slog.Info("courier signal stale", "order_id", s.orderID, "session_id", s.id)
	s.setLost(true)
}

func (s *Session) setLost(lost bool) {
	if s.lost == lost {
		return
	}
	s.lost = lost
	for _, cb := range s.h.signal {
		cb(lost)
	}
}
