package models

import "github.com/shopspring/decimal"

// CartItemRequest is one client-supplied cart line. The price fields are
// accepted on the wire but never trusted; pricing always recomputes the
// unit amount from catalog data.
type CartItemRequest struct {
	ProductID       string            `json:"product_id" binding:"required"`
	Quantity        int               `json:"quantity" binding:"required"`
	SelectedOptions map[string]string `json:"selected_options"`
	UnitAmount      float64           `json:"unit_amount"`
	Price           float64           `json:"price"`
}

// AddressRequest is a client-supplied shipping or billing address.
type AddressRequest struct {
	FullName   string `json:"full_name" validate:"required,max=100"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	Region     string `json:"region" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone" validate:"max=30"`
}

// CheckoutRequest is the submit payload shared by the authenticated-or-guest
// and guest-only entry points.
type CheckoutRequest struct {
	CartItems       []CartItemRequest `json:"cartItems" binding:"required"`
	ShippingAddress AddressRequest    `json:"shippingAddress"`
	BillingAddress  *AddressRequest   `json:"billingAddress"`
	UseSameAddress  bool              `json:"useSameAddress"`
	OrderNotes      string            `json:"orderNotes"`
	GuestEmail      string            `json:"guestEmail"`
}

// CheckoutResponse is the 201 body for a committed order.
type CheckoutResponse struct {
	Success      bool            `json:"success"`
	OrderID      string          `json:"orderId"`
	OrderNumber  string          `json:"orderNumber"`
	Total        decimal.Decimal `json:"total"`
	Status       string          `json:"status"`
	IsGuestOrder bool            `json:"isGuestOrder"`
}

// OutOfStockItem names one under-stocked line in a stock rejection so the
// client can prompt the user to adjust quantities.
type OutOfStockItem struct {
	ProductTitle string `json:"product_title"`
	Requested    int    `json:"requested"`
	Available    int    `json:"available"`
}

// ErrorResponse is the structured rejection body for every failed checkout
// call.
type ErrorResponse struct {
	Success         bool             `json:"success"`
	Error           string           `json:"error"`
	Type            string           `json:"type"`
	Code            string           `json:"code"`
	OutOfStockItems []OutOfStockItem `json:"outOfStockItems,omitempty"`
}
