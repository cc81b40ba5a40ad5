package models

import "github.com/pkg/errors"

type Status string

const (
	StatusUnassigned Status = "unassigned"
	StatusAssigned   Status = "assigned"
	StatusOnWay      Status = "on_way"
	StatusNear       Status = "near"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyAssigned   = errors.New("order already assigned to another courier")
	ErrNotOrderCourier   = errors.New("courier is not bound to the order")
	ErrNotOrderCustomer  = errors.New("order belongs to another customer")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidInput      = errors.New("invalid input")
)

// transitions is the whole order lifecycle: a linear chain plus cancellation
// from every non-terminal state.
var transitions = map[Status][]Status{
	StatusUnassigned: {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusOnWay, StatusCancelled},
	StatusOnWay:      {StatusNear, StatusCancelled},
	StatusNear:       {StatusDelivered, StatusCancelled},
	StatusDelivered:  nil,
	StatusCancelled:  nil,
}

var ranks = map[Status]int{
	StatusUnassigned: 0,
	StatusAssigned:   1,
	StatusOnWay:      2,
	StatusNear:       3,
	StatusDelivered:  4,
}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) String() string {
	return string(s)
}

// Rank is the position of s in the linear chain. Cancelled is off the chain
// and reports -1, as does an unknown status.
func (s Status) Rank() int {
	r, ok := ranks[s]
	if !ok {
		return -1
	}
	return r
}

func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// IsActive reports whether a courier is bound and moving towards the customer.
func (s Status) IsActive() bool {
	return s == StatusAssigned || s == StatusOnWay || s == StatusNear
}

// Next returns the states reachable from s in one step.
func (s Status) Next() []Status {
	out := make([]Status, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// CheckTransition returns ErrInvalidTransition unless to is an immediate
// successor of from, or a cancellation of a non-terminal order.
func CheckTransition(from, to Status) error {
	if !from.IsValid() || !to.IsValid() {
		return errors.Wrapf(ErrInvalidTransition, "unknown status %q -> %q", from, to)
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", errors.Errorf("unknown status %q", s)
	}
	return st, nil
}
