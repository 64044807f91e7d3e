package models

import "github.com/shopspring/decimal"

// Product is authoritative catalog data. The checkout core only ever reads
// it; catalog management owns the rows.
type Product struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	BasePrice decimal.Decimal `json:"base_price"`
	Currency  string          `json:"currency"`
	Options   []ProductOption `json:"options,omitempty"`
}

// ProductOption groups the selectable values for one option name
// (e.g. "size" or "chain length").
type ProductOption struct {
	Name   string        `json:"name"`
	Values []OptionValue `json:"values"`
}

// OptionValue carries a signed price adjustment applied on top of the
// product's base price when selected.
type OptionValue struct {
	Name            string          `json:"name"`
	PriceAdjustment decimal.Decimal `json:"price_adjustment"`
	SoldOut         bool            `json:"sold_out"`
}

// InventoryRecord tracks available stock for one product. QuantityAvailable
// never goes negative; the ledger's conditional decrement enforces that.
type InventoryRecord struct {
	ProductID         string `json:"product_id"`
	QuantityAvailable int    `json:"quantity_available"`
	QuantityReserved  int    `json:"quantity_reserved"`
}

// Customer is the slice of account data checkout needs: does the account
// exist, what is its email, and has the email been verified.
type Customer struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// CartLine is a persisted cart row for an authenticated customer. Checkout
// clears these after a successful commit.
type CartLine struct {
	CustomerID      string            `json:"customer_id"`
	ProductID       string            `json:"product_id"`
	Quantity        int               `json:"quantity"`
	SelectedOptions map[string]string `json:"selected_options,omitempty"`
}
