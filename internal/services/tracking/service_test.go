package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/CourierTrack/internal/broker/messages"
	"github.com/BearBump/CourierTrack/internal/cache"
	"github.com/BearBump/CourierTrack/internal/cache/rediscache"
	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/BearBump/CourierTrack/internal/services/orders"
	"github.com/BearBump/CourierTrack/internal/storage/memorders"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	topic  string
	key    []byte
	values [][]byte
	err    error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.topic, p.key = topic, key
	p.values = append(p.values, value)
	return p.err
}

type fakeRL struct {
	allowed bool
	err     error
	keys    []string
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.keys = append(r.keys, key)
	return r.allowed, 1, r.err
}

type fakePush struct {
	topic    string
	payloads [][]byte
}

func (p *fakePush) Publish(ctx context.Context, topic string, payload []byte) error {
	p.topic = topic
	p.payloads = append(p.payloads, payload)
	return nil
}

func seedOrder(t *testing.T, store *memorders.Store, courierID string) *models.Order {
	t.Helper()
	ctx := context.Background()
	o, err := store.CreateOrder(ctx, models.OrderCreateInput{})
	require.NoError(t, err)
	o, err = store.AssignCourier(ctx, o.ID, courierID, time.Now().UTC())
	require.NoError(t, err)
	return o
}

func sampleFor(orderID *int64, at time.Time) models.LocationSample {
	return models.LocationSample{Latitude: 55.75, Longitude: 37.61, CapturedAt: at, OrderID: orderID}
}

func TestService_IngestLocation_PublishesForBoundOrder(t *testing.T) {
	store := memorders.New()
	o := seedOrder(t, store, "c1")
	fp := &fakeProducer{}
	s := New(store, fp, "tracking.updated")

	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.IngestLocation(context.Background(), "c1", sampleFor(&o.ID, at)))

	require.Len(t, fp.values, 1)
	require.Equal(t, "tracking.updated", fp.topic)
	var msg messages.TrackingUpdated
	require.NoError(t, json.Unmarshal(fp.values[0], &msg))
	require.Equal(t, messages.KindLocation, msg.Kind)
	require.Equal(t, o.ID, msg.OrderID)
	require.True(t, msg.ObservedAt.Equal(at))

	snap, err := s.Snapshot(context.Background(), o.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.Location)
	require.True(t, snap.Location.CapturedAt.Equal(at))
}

func TestService_IngestLocation_IdleCourierIsNotPublished(t *testing.T) {
	fp := &fakeProducer{}
	s := New(memorders.New(), fp, "t")
	require.NoError(t, s.IngestLocation(context.Background(), "c1", sampleFor(nil, time.Now().UTC())))
	require.Empty(t, fp.values)
}

func TestService_IngestLocation_ForeignOrder(t *testing.T) {
	store := memorders.New()
	o := seedOrder(t, store, "c1")
	s := New(store, &fakeProducer{}, "t")

	err := s.IngestLocation(context.Background(), "c2", sampleFor(&o.ID, time.Now().UTC()))
	require.ErrorIs(t, err, models.ErrNotOrderCourier)
}

func TestService_IngestLocation_Validate(t *testing.T) {
	s := New(memorders.New(), nil, "t")
	require.Error(t, s.IngestLocation(context.Background(), "", sampleFor(nil, time.Now())))

	bad := sampleFor(nil, time.Now())
	bad.Latitude = 123
	require.ErrorIs(t, s.IngestLocation(context.Background(), "c1", bad), ErrInvalidSample)
}

func TestService_IngestLocation_RateLimited(t *testing.T) {
	rl := &fakeRL{allowed: false}
	s := New(memorders.New(), nil, "t").WithRateLimit(rl, 10, time.Minute)

	err := s.IngestLocation(context.Background(), "c1", sampleFor(nil, time.Now().UTC()))
	require.ErrorIs(t, err, ErrRateLimited)
	require.Equal(t, []string{"rl:courier:c1:location"}, rl.keys)
}

func TestService_IngestLocation_LimiterDownStillAccepts(t *testing.T) {
	rl := &fakeRL{err: errors.New("redis down")}
	s := New(memorders.New(), nil, "t").WithRateLimit(rl, 10, time.Minute)
	require.NoError(t, s.IngestLocation(context.Background(), "c1", sampleFor(nil, time.Now().UTC())))
}

func TestService_IngestLocation_DeliveredOrderNotPublished(t *testing.T) {
	store := memorders.New()
	o := seedOrder(t, store, "c1")
	ctx := context.Background()
	now := time.Now().UTC()
	for _, step := range [][2]models.Status{
		{models.StatusAssigned, models.StatusOnWay},
		{models.StatusOnWay, models.StatusNear},
		{models.StatusNear, models.StatusDelivered},
	} {
		_, err := store.UpdateStatus(ctx, o.ID, step[0], step[1], now)
		require.NoError(t, err)
	}
	fp := &fakeProducer{}
	s := New(store, fp, "t")
	require.NoError(t, s.IngestLocation(ctx, "c1", sampleFor(&o.ID, now)))
	require.Empty(t, fp.values)
}

func TestService_ApplyUpdate_FansOut(t *testing.T) {
	store := memorders.New()
	o := seedOrder(t, store, "c1")
	push := &fakePush{}
	s := New(store, nil, "t").WithPush(push)

	st := models.StatusAssigned
	require.NoError(t, s.ApplyUpdate(context.Background(), messages.TrackingUpdated{
		OrderID: o.ID, Kind: messages.KindStatus, Status: &st,
	}))
	require.Equal(t, messages.Topic(o.ID), push.topic)
	require.Len(t, push.payloads, 1)

	var got messages.TrackingUpdated
	require.NoError(t, json.Unmarshal(push.payloads[0], &got))
	require.False(t, got.ObservedAt.IsZero())
}

func TestService_ApplyUpdate_Validate(t *testing.T) {
	s := New(memorders.New(), nil, "t")
	require.Error(t, s.ApplyUpdate(context.Background(), messages.TrackingUpdated{}))
}

func TestService_Snapshot_NotFound(t *testing.T) {
	s := New(memorders.New(), nil, "t")
	_, err := s.Snapshot(context.Background(), 0)
	require.ErrorIs(t, err, models.ErrOrderNotFound)
	_, err = s.Snapshot(context.Background(), 77)
	require.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestService_SnapshotFollowsWritesWhenBusIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := rediscache.New(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	ctx := context.Background()
	store := memorders.New()
	down := &fakeProducer{err: errors.New("kafka down")}
	ord := orders.New(store, down, "tracking.updated").WithCache(rc)
	trk := New(store, down, "tracking.updated").WithCache(rc, 10*time.Minute)

	o, err := ord.Create(ctx, models.OrderCreateInput{})
	require.NoError(t, err)
	_, err = ord.Accept(ctx, o.ID, "c1")
	require.NoError(t, err)

	snap, err := trk.Snapshot(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusAssigned, snap.Status)
	require.True(t, mr.Exists(cache.SnapshotKey(o.ID)))

	_, err = ord.Advance(ctx, o.ID, "c1", models.StatusOnWay)
	require.NoError(t, err)
	_, err = ord.Advance(ctx, o.ID, "c1", models.StatusNear)
	require.NoError(t, err)

	snap, err = trk.Snapshot(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusNear, snap.Status)
	require.Nil(t, snap.Location)

	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, trk.IngestLocation(ctx, "c1", sampleFor(&o.ID, at)))

	snap, err = trk.Snapshot(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusNear, snap.Status)
	require.NotNil(t, snap.Location)
	require.True(t, snap.Location.CapturedAt.Equal(at))
	require.NotEmpty(t, down.values)
}
