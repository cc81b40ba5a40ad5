package models

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCheckTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusUnassigned, StatusAssigned, true},
		{StatusUnassigned, StatusOnWay, false},
		{StatusUnassigned, StatusCancelled, true},
		{StatusAssigned, StatusOnWay, true},
		{StatusAssigned, StatusNear, false},
		{StatusAssigned, StatusAssigned, false},
		{StatusOnWay, StatusOnWay, false},
		{StatusOnWay, StatusNear, true},
		{StatusOnWay, StatusAssigned, false},
		{StatusNear, StatusDelivered, true},
		{StatusNear, StatusCancelled, true},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusCancelled, false},
		{StatusCancelled, StatusAssigned, false},
		{Status("lost"), StatusAssigned, false},
	}
	for _, c := range cases {
		err := CheckTransition(c.from, c.to)
		if c.ok {
			require.NoError(t, err, "%s -> %s", c.from, c.to)
			continue
		}
		require.Error(t, err, "%s -> %s", c.from, c.to)
		require.True(t, errors.Is(err, ErrInvalidTransition))
	}
}

func TestStatus_RankOrdersChain(t *testing.T) {
	chain := []Status{StatusUnassigned, StatusAssigned, StatusOnWay, StatusNear, StatusDelivered}
	for i := 1; i < len(chain); i++ {
		require.Greater(t, chain[i].Rank(), chain[i-1].Rank())
	}
	require.Equal(t, -1, StatusCancelled.Rank())
	require.Equal(t, -1, Status("x").Rank())
}

func TestStatus_Next(t *testing.T) {
	if diff := cmp.Diff([]Status{StatusOnWay, StatusCancelled}, StatusAssigned.Next()); diff != "" {
		t.Fatalf("next (-want +got):\n%s", diff)
	}
	require.Empty(t, StatusDelivered.Next())

	// caller must not be able to mutate the table
	n := StatusNear.Next()
	n[0] = StatusUnassigned
	require.Equal(t, StatusDelivered, StatusNear.Next()[0])
}

func TestStatus_Flags(t *testing.T) {
	require.True(t, StatusDelivered.IsTerminal())
	require.True(t, StatusCancelled.IsTerminal())
	require.False(t, StatusNear.IsTerminal())
	require.True(t, StatusOnWay.IsActive())
	require.False(t, StatusUnassigned.IsActive())

	_, err := ParseStatus("teleported")
	require.Error(t, err)
	st, err := ParseStatus("on_way")
	require.NoError(t, err)
	require.Equal(t, StatusOnWay, st)
}

func TestDistanceMeters(t *testing.T) {
	// one thousandth of a degree of latitude is ~111 m
	d := DistanceMeters(55.750, 37.600, 55.751, 37.600)
	require.InDelta(t, 111.2, d, 0.5)
	require.Zero(t, DistanceMeters(1, 2, 1, 2))
}
