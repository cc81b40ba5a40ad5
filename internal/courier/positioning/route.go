package positioning

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/pkg/errors"
)

type Point struct {
	Latitude  float64
	Longitude float64
}

// Route drives a simulated device along a polyline at a constant speed and
// reports a fix every tick. It stays at the last point once the route ends.
type Route struct {
	points []Point
	speed  float64 // m/s
	tick   time.Duration
	denied bool
	now    func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRoute(points []Point, speedMps float64, tick time.Duration) *Route {
	if tick <= 0 {
		tick = time.Second
	}
	if speedMps <= 0 {
		speedMps = 8
	}
	return &Route{
		points: points,
		speed:  speedMps,
		tick:   tick,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Deny makes every Start fail as if the user refused location access.
func (r *Route) Deny() *Route {
	r.denied = true
	return r
}

func (r *Route) Start(ctx context.Context, opts Options) (<-chan models.LocationSample, error) {
	if r.denied {
		return nil, ErrPermissionDenied
	}
	if len(r.points) == 0 {
		return nil, errors.New("route has no points")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil, errors.New("route already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})

	out := make(chan models.LocationSample, 1)
	go r.drive(runCtx, opts, out, r.done)
	return out, nil
}

func (r *Route) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (r *Route) drive(ctx context.Context, opts Options, out chan<- models.LocationSample, done chan struct{}) {
	defer close(done)
	defer close(out)

	t := time.NewTicker(r.tick)
	defer t.Stop()

	start := r.now()
	var last *models.LocationSample
	for {
		now := r.now()
		p, heading := r.positionAt(now.Sub(start).Seconds() * r.speed)
		fix := models.LocationSample{Latitude: p.Latitude, Longitude: p.Longitude, CapturedAt: now}
		speed, acc := r.speed, 25.0
		if opts.HighAccuracy {
			acc = 5
		}
		fix.Speed, fix.Heading, fix.Accuracy = &speed, &heading, &acc

		if last == nil || opts.DistanceFilter <= 0 || last.DistanceTo(fix) >= opts.DistanceFilter {
			select {
			case out <- fix:
				last = &fix
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// positionAt walks dist meters along the route.
func (r *Route) positionAt(dist float64) (Point, float64) {
	for i := 0; i+1 < len(r.points); i++ {
		a, b := r.points[i], r.points[i+1]
		seg := models.DistanceMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
		if dist <= seg && seg > 0 {
			f := dist / seg
			return Point{
				Latitude:  a.Latitude + (b.Latitude-a.Latitude)*f,
				Longitude: a.Longitude + (b.Longitude-a.Longitude)*f,
			}, bearing(a, b)
		}
		dist -= seg
	}
	last := r.points[len(r.points)-1]
	h := 0.0
	if n := len(r.points); n > 1 {
		h = bearing(r.points[n-2], last)
	}
	return last, h
}

func bearing(a, b Point) float64 {
	rad := math.Pi / 180
	y := math.Sin((b.Longitude-a.Longitude)*rad) * math.Cos(b.Latitude*rad)
	x := math.Cos(a.Latitude*rad)*math.Sin(b.Latitude*rad) -
		math.Sin(a.Latitude*rad)*math.Cos(b.Latitude*rad)*math.Cos((b.Longitude-a.Longitude)*rad)
	return math.Mod(math.Atan2(y, x)/rad+360, 360)
}
