package models

import "time"

type Destination struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

type Customer struct {
	ID    string `json:"id,omitempty"` // account subject; only this customer may follow the order
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Order struct {
	ID            int64       `json:"id"`
	Status        Status      `json:"status"`
	Destination   Destination `json:"destination"`
	Customer      Customer    `json:"customer"`
	CourierID     *string     `json:"courier_id,omitempty"`
	PaymentMethod string      `json:"payment_method"`
	TotalAmount   int64       `json:"total_amount"`
	Comment       *string     `json:"comment,omitempty"`
	StatusAt      time.Time   `json:"status_at"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// OwnedBy reports whether customerID placed the order.
func (o *Order) OwnedBy(customerID string) bool {
	return o.Customer.ID != "" && o.Customer.ID == customerID
}

// BoundTo reports whether courierID currently holds the order.
func (o *Order) BoundTo(courierID string) bool {
	return o.CourierID != nil && *o.CourierID == courierID
}

type OrderCreateInput struct {
	Destination   Destination `json:"destination"`
	Customer      Customer    `json:"customer"`
	PaymentMethod string      `json:"payment_method"`
	TotalAmount   int64       `json:"total_amount"`
	Comment       *string     `json:"comment,omitempty"`
}

// QuietOrder is an active order whose courier has not reported recently.
type QuietOrder struct {
	OrderID    int64
	Status     Status
	CourierID  string
	LastSeenAt *time.Time
}
