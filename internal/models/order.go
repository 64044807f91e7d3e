package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus constants
const (
	OrderStatusReceived  = "received"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Address type constants
const (
	AddressTypeShipping = "shipping"
	AddressTypeBilling  = "billing"
)

// Order is a committed order. Exactly one of CustomerID or GuestEmail is
// set. Monetary fields are computed once at commit time and never
// recomputed.
type Order struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"order_number"`
	CustomerID  string          `json:"customer_id,omitempty"`
	GuestEmail  string          `json:"guest_email,omitempty"`
	Status      string          `json:"status"`
	Currency    string          `json:"currency"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Shipping    decimal.Decimal `json:"shipping"`
	Total       decimal.Decimal `json:"total"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsGuest reports whether the order is guest-owned.
func (o *Order) IsGuest() bool { return o.GuestEmail != "" }

// OrderItem is one line of an order. UnitAmount is always the
// server-computed price; Title is the descriptive title frozen at order
// time so later catalog edits don't change historical orders.
type OrderItem struct {
	ID              string            `json:"id"`
	OrderID         string            `json:"order_id"`
	ProductID       string            `json:"product_id"`
	Quantity        int               `json:"quantity"`
	UnitAmount      decimal.Decimal   `json:"unit_amount"`
	Title           string            `json:"title"`
	SelectedOptions map[string]string `json:"selected_options,omitempty"`
}

// Address is a shipping or billing address attached to an order. When the
// order is customer-owned the address also carries the customer id so it
// can be offered for reuse.
type Address struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id,omitempty"`
	Type       string `json:"type"`
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}
