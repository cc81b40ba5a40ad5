package sampler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/CourierTrack/internal/courier/positioning"
	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/pkg/errors"
)

var ErrAlreadyStarted = errors.New("sampler already started")

type Config struct {
	DistanceMeters float64       // default: 30
	Interval       time.Duration // default: 10s
	HighAccuracy   bool
}

func DefaultConfig() Config {
	return Config{DistanceMeters: 30, Interval: 10 * time.Second, HighAccuracy: true}
}

// Sampler turns raw positioning fixes into a sparse sequence: a fix passes
// when it is the first one, moved more than DistanceMeters, or comes more than
// Interval after the last emitted sample. A Sampler runs once.
type Sampler struct {
	pos positioning.Source
	cfg Config

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}

	last *models.LocationSample
	out  chan models.LocationSample

	raw        atomic.Int64
	emitted    atomic.Int64
	suppressed atomic.Int64
}

func New(pos positioning.Source, cfg Config) *Sampler {
	def := DefaultConfig()
	if cfg.DistanceMeters <= 0 {
		cfg.DistanceMeters = def.DistanceMeters
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &Sampler{
		pos:    pos,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		out:    make(chan models.LocationSample, 1),
	}
}

// Start begins sampling. On permission denial the returned channel is already
// closed and the error matches positioning.ErrPermissionDenied.
func (s *Sampler) Start(ctx context.Context) (<-chan models.LocationSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, ErrAlreadyStarted
	}
	s.started = true
	if s.stopped {
		close(s.out)
		close(s.done)
		return s.out, nil
	}

	// No source-side distance filter: a courier standing still must keep
	// producing fixes or the interval rule never fires.
	fixes, err := s.pos.Start(ctx, positioning.Options{HighAccuracy: s.cfg.HighAccuracy})
	if err != nil {
		close(s.out)
		close(s.done)
		return s.out, errors.Wrap(err, "start positioning")
	}

	go s.loop(ctx, fixes)
	return s.out, nil
}

// Stop halts the positioning source. No fix is taken after Stop returns.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if s.stopped {
		started := s.started
		s.mu.Unlock()
		if started {
			<-s.done
		}
		return
	}
	s.stopped = true
	close(s.stopCh)
	started := s.started
	s.mu.Unlock()

	if !started {
		return
	}
	_ = s.pos.Stop()
	<-s.done
}

func (s *Sampler) loop(ctx context.Context, fixes <-chan models.LocationSample) {
	defer close(s.done)
	defer close(s.out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case fix, ok := <-fixes:
			if !ok {
				return
			}
			s.take(fix)
		}
	}
}

func (s *Sampler) take(fix models.LocationSample) {
	s.raw.Add(1)
	if !s.shouldEmit(fix) {
		s.suppressed.Add(1)
		return
	}
	f := fix
	s.last = &f
	s.emitted.Add(1)

	// keep only the freshest sample if the consumer is behind
	select {
	case s.out <- fix:
		return
	default:
	}
	select {
	case <-s.out:
	default:
	}
	select {
	case s.out <- fix:
	default:
	}
}

func (s *Sampler) shouldEmit(fix models.LocationSample) bool {
	if s.last == nil {
		return true
	}
	if s.last.DistanceTo(fix) > s.cfg.DistanceMeters {
		return true
	}
	return fix.CapturedAt.Sub(s.last.CapturedAt) > s.cfg.Interval
}

type Stats struct {
	Raw        int64 `json:"raw"`
	Emitted    int64 `json:"emitted"`
	Suppressed int64 `json:"suppressed"`
}

func (s *Sampler) Stats() Stats {
	return Stats{
		Raw:        s.raw.Load(),
		Emitted:    s.emitted.Load(),
		Suppressed: s.suppressed.Load(),
	}
}
