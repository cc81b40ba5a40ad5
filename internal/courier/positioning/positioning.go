package positioning

import (
	"context"

	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/pkg/errors"
)

var ErrPermissionDenied = errors.New("location permission denied")

type Options struct {
	// DistanceFilter asks the source to skip fixes closer than this many meters;
	// zero delivers every fix.
	DistanceFilter float64
	HighAccuracy   bool
}

// Source is the device positioning capability. Start delivers raw fixes until
// Stop; the channel is closed when the source stops.
type Source interface {
	Start(ctx context.Context, opts Options) (<-chan models.LocationSample, error)
	Stop() error
}
