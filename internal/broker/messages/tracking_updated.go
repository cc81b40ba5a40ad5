package messages

import (
	"fmt"
	"time"

	"github.com/BearBump/CourierTrack/internal/models"
)

type Kind string

const (
	KindLocation   Kind = "location"
	KindStatus     Kind = "status"
	KindSignalLost Kind = "signal_lost"
)

// TrackingUpdated is the one event shape carried by Kafka, Redis pub/sub and SSE.
type TrackingUpdated struct {
	OrderID int64 `json:"order_id"`
	Kind    Kind  `json:"kind"`

	Status    *models.Status         `json:"status,omitempty"`
	Location  *models.LocationSample `json:"location,omitempty"`
	CourierID *string                `json:"courier_id,omitempty"`

	ObservedAt time.Time `json:"observed_at"`
}

// Topic is the per-order push topic.
func Topic(orderID int64) string {
	return fmt.Sprintf("tracking:order:%d", orderID)
}

// ToUpdate converts the wire event into what a customer session merges.
func (m TrackingUpdated) ToUpdate(src models.UpdateSource) models.TrackingUpdate {
	u := models.TrackingUpdate{
		OrderID:    m.OrderID,
		Source:     src,
		ObservedAt: m.ObservedAt,
	}
	switch m.Kind {
	case KindLocation:
		u.Location = m.Location
		if u.Location != nil {
			lost := false
			u.SignalLost = &lost
		}
	case KindStatus:
		u.Status = m.Status
	case KindSignalLost:
		lost := true
		u.SignalLost = &lost
	}
	return u
}
