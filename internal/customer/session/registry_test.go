package session

import (
	"context"
	"testing"

	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OpenReplacesExisting(t *testing.T) {
	tr := newFakeTransport()
	f := &fakeFetcher{snap: models.TrackingSnapshot{Status: models.StatusAssigned}}
	r := NewRegistry(deps(tr, f))

	first, err := r.Open(context.Background(), 1)
	require.NoError(t, err)
	second, err := r.Open(context.Background(), 1)
	require.NoError(t, err)

	require.True(t, first.Closed())
	require.False(t, second.Closed())
	require.NotEqual(t, first.ID(), second.ID())

	got, ok := r.Get(1)
	require.True(t, ok)
	require.Same(t, second, got)

	other, err := r.Open(context.Background(), 2)
	require.NoError(t, err)

	r.Close(1)
	require.True(t, second.Closed())
	_, ok = r.Get(1)
	require.False(t, ok)

	r.CloseAll()
	require.True(t, other.Closed())
	_, ok = r.Get(2)
	require.False(t, ok)
}
