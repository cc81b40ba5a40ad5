package models

import "time"

type UpdateSource string

const (
	SourcePush UpdateSource = "push"
	SourcePoll UpdateSource = "poll"
)

// TrackingUpdate is what a customer session receives from either channel.
// Location and Status are independent; either may be nil.
type TrackingUpdate struct {
	OrderID    int64           `json:"order_id"`
	Location   *LocationSample `json:"location,omitempty"`
	Status     *Status         `json:"status,omitempty"`
	SignalLost *bool           `json:"signal_lost,omitempty"`
	Source     UpdateSource    `json:"source"`
	ObservedAt time.Time       `json:"observed_at"`
}

// TrackingSnapshot is the server view of an order used for baseline and poll reads.
type TrackingSnapshot struct {
	OrderID    int64           `json:"order_id"`
	Status     Status          `json:"status"`
	CourierID  *string         `json:"courier_id,omitempty"`
	Location   *LocationSample `json:"location,omitempty"`
	ObservedAt time.Time       `json:"observed_at"`
}

func (s TrackingSnapshot) Update(src UpdateSource) TrackingUpdate {
	st := s.Status
	return TrackingUpdate{
		OrderID:    s.OrderID,
		Location:   s.Location,
		Status:     &st,
		Source:     src,
		ObservedAt: s.ObservedAt,
	}
}
