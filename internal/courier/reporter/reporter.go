package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/CourierTrack/internal/courier/positioning"
	"github.com/BearBump/CourierTrack/internal/courier/sampler"
	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/pkg/errors"
)

type Uploader interface {
	UploadLocation(ctx context.Context, sample models.LocationSample) error
}

type Prefs interface {
	GetBool(key string) (bool, bool, error)
	SetBool(key string, v bool) error
}

type State string

const (
	StateOffline          State = "offline"
	StateOnline           State = "online"
	StatePermissionDenied State = "permission_denied"
)

type Config struct {
	Sampler       sampler.Config
	UploadTimeout time.Duration // default: 10s
}

// Reporter streams the courier's sampled location to the server while the
// courier is online. Uploads are fire-and-forget: a failed upload is dropped
// and the next sample supersedes it.
type Reporter struct {
	uploader Uploader
	pos      positioning.Source
	prefs    Prefs
	cfg      Config

	opMu sync.Mutex // serializes SetOnline/RestoreOnline

	mu        sync.Mutex
	active    bool
	gen       uint64
	cancel    context.CancelFunc
	smp       *sampler.Sampler
	courierID string
	orderID   *int64
	state     State

	uploads   atomic.Int64
	failures  atomic.Int64
	lastErrMu sync.Mutex
	lastErr   string
}

func New(uploader Uploader, pos positioning.Source, prefs Prefs, cfg Config) *Reporter {
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 10 * time.Second
	}
	return &Reporter{
		uploader: uploader,
		pos:      pos,
		prefs:    prefs,
		cfg:      cfg,
		state:    StateOffline,
	}
}

func onlineKey(courierID string) string {
	return fmt.Sprintf("courier.%s.online", courierID)
}

// Start begins reporting with a fresh sampler. Starting an active reporter is
// a no-op.
func (r *Reporter) Start(courierID string) error {
	if courierID == "" {
		return errors.New("courierId is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil
	}

	smp := sampler.New(r.pos, r.cfg.Sampler)
	ctx, cancel := context.WithCancel(context.Background())
	samples, err := smp.Start(ctx)
	if err != nil {
		cancel()
		if errors.Is(err, positioning.ErrPermissionDenied) {
			r.state = StatePermissionDenied
			slog.Warn("location permission denied, manual refresh only", "courier_id", courierID)
		}
		return err
	}

	r.active = true
	r.gen++
	r.cancel = cancel
	r.smp = smp
	r.courierID = courierID
	r.state = StateOnline
	go r.consume(ctx, r.gen, samples)

	slog.Info("location reporting started", "courier_id", courierID)
	return nil
}

// Stop halts consumption and cancels in-flight uploads. It does not wait on
// the network; no upload starts after it returns.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.active {
		r.state = StateOffline
		r.mu.Unlock()
		return
	}
	r.active = false
	r.cancel()
	smp := r.smp
	r.smp = nil
	r.state = StateOffline
	courierID := r.courierID
	r.mu.Unlock()

	smp.Stop()
	slog.Info("location reporting stopped", "courier_id", courierID)
}

// SetOnline persists the preference, then starts or stops reporting.
func (r *Reporter) SetOnline(ctx context.Context, courierID string, online bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if err := r.prefs.SetBool(onlineKey(courierID), online); err != nil {
		return errors.Wrap(err, "persist online preference")
	}
	if !online {
		r.Stop()
		return nil
	}
	return r.Start(courierID)
}

// RestoreOnline applies the persisted preference; it reports whether the
// courier was online.
func (r *Reporter) RestoreOnline(ctx context.Context, courierID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.opMu.Lock()
	defer r.opMu.Unlock()

	online, ok, err := r.prefs.GetBool(onlineKey(courierID))
	if err != nil {
		return false, errors.Wrap(err, "read online preference")
	}
	if !ok || !online {
		return false, nil
	}
	return true, r.Start(courierID)
}

// BindOrder scopes subsequent samples to orderID; nil means idle.
func (r *Reporter) BindOrder(orderID *int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if orderID == nil {
		r.orderID = nil
		return
	}
	id := *orderID
	r.orderID = &id
}

func (r *Reporter) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reporter) consume(ctx context.Context, gen uint64, samples <-chan models.LocationSample) {
	for s := range samples {
		r.dispatch(ctx, gen, s)
	}
}

func (r *Reporter) dispatch(ctx context.Context, gen uint64, s models.LocationSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.gen != gen {
		return
	}
	if r.orderID != nil {
		id := *r.orderID
		s.OrderID = &id
	} else {
		s.OrderID = nil
	}
	r.uploads.Add(1)
	go r.upload(ctx, s)
}

func (r *Reporter) upload(ctx context.Context, s models.LocationSample) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.UploadTimeout)
	defer cancel()
	if err := r.uploader.UploadLocation(ctx, s); err != nil {
		r.failures.Add(1)
		r.lastErrMu.Lock()
		r.lastErr = err.Error()
		r.lastErrMu.Unlock()
		slog.Warn("location upload failed", "error", err.Error())
	}
}

type Stats struct {
	State     State  `json:"state"`
	Uploads   int64  `json:"uploads"`
	Failures  int64  `json:"failures"`
	LastError string `json:"lastError,omitempty"`
}

func (r *Reporter) Stats() Stats {
	st := Stats{
		State:    r.State(),
		Uploads:  r.uploads.Load(),
		Failures: r.failures.Load(),
	}
	r.lastErrMu.Lock()
	st.LastError = r.lastErr
	r.lastErrMu.Unlock()
	return st
}
