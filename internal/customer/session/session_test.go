package session

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/CourierTrack/internal/broker/messages"
	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	subs   map[string]chan []byte
	unsubs int
	subErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[string]chan []byte)}
}

func (f *fakeTransport) Subscribe(_ context.Context, topic string) (<-chan []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	ch, ok := f.subs[topic]
	if !ok {
		ch = make(chan []byte, 256)
		f.subs[topic] = ch
	}
	return ch, nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[topic]; ok {
		close(ch)
		delete(f.subs, topic)
	}
	f.unsubs++
	return nil
}

func (f *fakeTransport) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[topic]
	return ok
}

func (f *fakeTransport) push(t *testing.T, m messages.TrackingUpdated) bool {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.subs[messages.Topic(m.OrderID)]
	if !ok {
		return false
	}
	ch <- b
	return true
}

type fakeFetcher struct {
	mu    sync.Mutex
	snap  models.TrackingSnapshot
	err   error
	calls int
}

func (f *fakeFetcher) FetchSnapshot(_ context.Context, orderID int64) (*models.TrackingSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	s := f.snap
	s.OrderID = orderID
	return &s, nil
}

func (f *fakeFetcher) set(s models.TrackingSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = s
}

// recorder captures every callback in arrival order.
type recorder struct {
	mu       sync.Mutex
	statuses []models.Status
	locs     []models.LocationSample
	signals  []bool
}

func (r *recorder) opts() []Option {
	return []Option{
		WithStatusHandler(func(s models.Status) {
			r.mu.Lock()
			r.statuses = append(r.statuses, s)
			r.mu.Unlock()
		}),
		WithLocationHandler(func(l models.LocationSample) {
			r.mu.Lock()
			r.locs = append(r.locs, l)
			r.mu.Unlock()
		}),
		WithSignalHandler(func(lost bool) {
			r.mu.Lock()
			r.signals = append(r.signals, lost)
			r.mu.Unlock()
		}),
	}
}

func (r *recorder) snapshot() (statuses []models.Status, locs []models.LocationSample, signals []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Status(nil), r.statuses...),
		append([]models.LocationSample(nil), r.locs...),
		append([]bool(nil), r.signals...)
}

var base = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func loc(sec int) *models.LocationSample {
	return &models.LocationSample{
		Latitude:   55.75 + float64(sec)*0.0001,
		Longitude:  37.61,
		CapturedAt: base.Add(time.Duration(sec) * time.Second),
	}
}

func statusMsg(orderID int64, s models.Status) messages.TrackingUpdated {
	return messages.TrackingUpdated{OrderID: orderID, Kind: messages.KindStatus, Status: &s, ObservedAt: base}
}

func locationMsg(orderID int64, l *models.LocationSample) messages.TrackingUpdated {
	return messages.TrackingUpdated{OrderID: orderID, Kind: messages.KindLocation, Location: l, ObservedAt: l.CapturedAt}
}

func deps(tr *fakeTransport, f *fakeFetcher) Deps {
	return Deps{Transport: tr, Fetcher: f, PollInterval: time.Hour}
}

func TestSession_MergesPushOverBaseline(t *testing.T) {
	tr := newFakeTransport()
	f := &fakeFetcher{snap: models.TrackingSnapshot{Status: models.StatusAssigned}}
	rec := &recorder{}

	s, err := Open(context.Background(), deps(tr, f), 7, rec.opts()...)
	require.NoError(t, err)
	defer s.Close()

	require.True(t, tr.push(t, statusMsg(7, models.StatusOnWay)))
	require.True(t, tr.push(t, locationMsg(7, loc(10))))
	require.True(t, tr.push(t, locationMsg(7, loc(5))))
	require.True(t, tr.push(t, locationMsg(7, loc(10))))
	require.True(t, tr.push(t, statusMsg(7, models.StatusAssigned)))
	require.True(t, tr.push(t, statusMsg(7, models.StatusNear)))

	require.Eventually(t, func() bool {
		st, _, _ := rec.snapshot()
		return len(st) == 3
	}, time.Second, 5*time.Millisecond)

	st, locs, signals := rec.snapshot()
	require.Equal(t, []models.Status{models.StatusAssigned, models.StatusOnWay, models.StatusNear}, st)
	require.Len(t, locs, 1)
	require.True(t, locs[0].CapturedAt.Equal(loc(10).CapturedAt))
	require.Empty(t, signals)
	require.Equal(t, 1, f.calls)
}

func TestSession_CancelledOverridesAndSticks(t *testing.T) {
	tr := newFakeTransport()
	f := &fakeFetcher{snap: models.TrackingSnapshot{Status: models.StatusNear, Location: loc(1)}}
	rec := &recorder{}

	s, err := Open(context.Background(), deps(tr, f), 3, rec.opts()...)
	require.NoError(t, err)
	defer s.Close()

	tr.push(t, statusMsg(3, models.StatusCancelled))
	tr.push(t, statusMsg(3, models.StatusDelivered))
	tr.push(t, statusMsg(3, models.StatusCancelled))

	require.Eventually(t, func() bool {
		st, _, _ := rec.snapshot()
		return len(st) == 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	st, locs, _ := rec.snapshot()
	require.Equal(t, []models.Status{models.StatusNear, models.StatusCancelled}, st)
	require.Len(t, locs, 1)
}

func TestSession_RandomInterleavingIsMonotonic(t *testing.T) {
	chain := []models.Status{models.StatusAssigned, models.StatusOnWay, models.StatusNear, models.StatusDelivered}

	for seed := uint64(1); seed <= 20; seed++ {
		tr := newFakeTransport()
		f := &fakeFetcher{snap: models.TrackingSnapshot{Status: models.StatusUnassigned}}
		rec := &recorder{}

		s, err := Open(context.Background(), deps(tr, f), 11, rec.opts()...)
		require.NoError(t, err)

		var events []messages.TrackingUpdated
		for _, st := range chain {
			events = append(events, statusMsg(11, st))
		}
		for sec := 1; sec <= 8; sec++ {
			events = append(events, locationMsg(11, loc(sec)))
		}
		r := rand.New(rand.NewPCG(seed, seed*31))
		r.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

		for i, ev := range events {
			tr.push(t, ev)
			// stale poll results interleave with push
			if i%4 == 0 {
				f.set(models.TrackingSnapshot{Status: models.StatusUnassigned, Location: loc(0)})
				s.Trigger()
			}
		}

		require.Eventually(t, func() bool {
			st, locs, _ := rec.snapshot()
			return len(st) > 0 && st[len(st)-1] == models.StatusDelivered &&
				len(locs) > 0 && locs[len(locs)-1].CapturedAt.Equal(loc(8).CapturedAt)
		}, time.Second, 5*time.Millisecond, "seed %d", seed)
		s.Close()

		st, locs, _ := rec.snapshot()
		for i := 1; i < len(st); i++ {
			require.Greater(t, st[i].Rank(), st[i-1].Rank(), "seed %d: %v", seed, st)
		}
		for i := 1; i < len(locs); i++ {
			require.True(t, locs[i].CapturedAt.After(locs[i-1].CapturedAt), "seed %d", seed)
		}
		last := locs[len(locs)-1]
		if diff := cmp.Diff(*loc(8), last); diff != "" {
			t.Fatalf("seed %d: final location mismatch (-want +got):\n%s", seed, diff)
		}
	}
}

func TestSession_StaleSignalFiresOnceAndClears(t *testing.T) {
	tr := newFakeTransport()
	f := &fakeFetcher{snap: models.TrackingSnapshot{Status: models.StatusOnWay, Location: loc(1)}}
	rec := &recorder{}

	d := deps(tr, f)
	d.StaleAfter = 30 * time.Millisecond
	s, err := Open(context.Background(), d, 5, rec.opts()...)
	require.NoError(t, err)
	defer s.Close()

	require.Eventually(t, func() bool {
		_, _, sig := rec.snapshot()
		return len(sig) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	_, _, sig := rec.snapshot()
	require.Equal(t, []bool{true}, sig)

	tr.push(t, locationMsg(5, loc(2)))
	require.Eventually(t, func() bool {
		_, _, sig := rec.snapshot()
		return len(sig) >= 2
	}, time.Second, 5*time.Millisecond)
	_, _, sig = rec.snapshot()
	require.Equal(t, []bool{true, false}, sig[:2])
}

func TestSession_ExplicitSignalLost(t *testing.T) {
	tr := newFakeTransport()
	f := &fakeFetcher{snap: models.TrackingSnapshot{Status: models.StatusNear, Location: loc(1)}}
	rec := &recorder{}

	s, err := Open(context.Background(), deps(tr, f), 9, rec.opts()...)
	require.NoError(t, err)
	defer s.Close()

	tr.push(t, messages.TrackingUpdated{OrderID: 9, Kind: messages.KindSignalLost, ObservedAt: base})
	tr.push(t, messages.TrackingUpdated{OrderID: 9, Kind: messages.KindSignalLost, ObservedAt: base})
	tr.push(t, locationMsg(9, loc(3)))

	require.Eventually(t, func() bool {
		_, _, sig := rec.snapshot()
		return len(sig) == 2
	}, time.Second, 5*time.Millisecond)
	_, _, sig := rec.snapshot()
	require.Equal(t, []bool{true, false}, sig)

	// late subscriber sees nothing while the signal is fine
	var late []bool
	var mu sync.Mutex
	s.OnSignal(func(lost bool) {
		mu.Lock()
		late = append(late, lost)
		mu.Unlock()
	})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	require.Empty(t, late)
	mu.Unlock()
}

func TestSession_TerminalStatusNeverGoesStale(t *testing.T) {
	tr := newFakeTransport()
	f := &fakeFetcher{snap: models.TrackingSnapshot{Status: models.StatusDelivered, Location: loc(1)}}
	rec := &recorder{}

	d := deps(tr, f)
	d.StaleAfter = 10 * time.Millisecond
	s, err := Open(context.Background(), d, 4, rec.opts()...)
	require.NoError(t, err)
	defer s.Close()

	tr.push(t, messages.TrackingUpdated{OrderID: 4, Kind: messages.KindSignalLost, ObservedAt: base})
	time.Sleep(60 * time.Millisecond)

	_, _, sig := rec.snapshot()
	require.Empty(t, sig)
}

func TestSession_CloseIsIdempotentAndSilencesCallbacks(t *testing.T) {
	tr := newFakeTransport()
	f := &fakeFetcher{snap: models.TrackingSnapshot{Status: models.StatusAssigned}}
	rec := &recorder{}

	s, err := Open(context.Background(), deps(tr, f), 2, rec.opts()...)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, _, _ := rec.snapshot()
		return len(st) == 1
	}, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	s.Close()

	require.True(t, s.Closed())
	require.False(t, tr.subscribed(messages.Topic(2)))
	require.Equal(t, 1, tr.unsubs)

	require.False(t, tr.push(t, statusMsg(2, models.StatusOnWay)))
	f.set(models.TrackingSnapshot{Status: models.StatusNear})
	s.Trigger()
	s.OnStatusUpdate(func(models.Status) { t.Error("callback after close") })
	time.Sleep(30 * time.Millisecond)

	st, _, _ := rec.snapshot()
	require.Equal(t, []models.Status{models.StatusAssigned}, st)
}

func TestSession_CloseWaitsForRunningCallback(t *testing.T) {
	tr := newFakeTransport()
	f := &fakeFetcher{snap: models.TrackingSnapshot{Status: models.StatusAssigned}}

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []models.Status
	s, err := Open(context.Background(), deps(tr, f), 4, WithStatusHandler(func(st models.Status) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
		if st == models.StatusOnWay {
			close(entered)
			<-release
		}
	}))
	require.NoError(t, err)

	require.True(t, tr.push(t, statusMsg(4, models.StatusOnWay)))
	<-entered
	require.True(t, tr.push(t, statusMsg(4, models.StatusNear)))

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a callback was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []models.Status{models.StatusAssigned, models.StatusOnWay}, seen)
}

func TestSession_BaselineErrorUnsubscribes(t *testing.T) {
	tr := newFakeTransport()
	f := &fakeFetcher{err: errors.New("boom")}

	s, err := Open(context.Background(), deps(tr, f), 6)
	require.Error(t, err)
	require.Nil(t, s)
	require.False(t, tr.subscribed(messages.Topic(6)))
	require.Equal(t, 1, tr.unsubs)
}

func TestSession_SubscribeErrorSkipsBaseline(t *testing.T) {
	tr := newFakeTransport()
	tr.subErr = errors.New("no route")
	f := &fakeFetcher{}

	_, err := Open(context.Background(), deps(tr, f), 6)
	require.Error(t, err)
	require.Equal(t, 0, f.calls)
}

func TestSession_PollCatchesUpWithoutPush(t *testing.T) {
	tr := newFakeTransport()
	f := &fakeFetcher{snap: models.TrackingSnapshot{Status: models.StatusAssigned}}
	rec := &recorder{}

	d := deps(tr, f)
	d.PollInterval = 20 * time.Millisecond
	s, err := Open(context.Background(), d, 12, rec.opts()...)
	require.NoError(t, err)
	defer s.Close()

	f.set(models.TrackingSnapshot{Status: models.StatusNear, Location: loc(4)})
	require.Eventually(t, func() bool {
		st, locs, _ := rec.snapshot()
		return len(st) == 2 && len(locs) == 1
	}, time.Second, 5*time.Millisecond)

	st, _, _ := rec.snapshot()
	require.Equal(t, []models.Status{models.StatusAssigned, models.StatusNear}, st)
	require.GreaterOrEqual(t, s.Stats().Poller.Fetched, int64(1))
}
