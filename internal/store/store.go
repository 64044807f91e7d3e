// Package store defines the persistence ports for the checkout pipeline and
// provides two backends: a Postgres implementation (authoritative, row-level
// locking) and an in-memory implementation with the same transactional
// semantics for tests and local development.
package store

import (
	"context"
	"errors"

	"github.com/raineandseaweb/raineandsea-sub002/internal/models"
)

// ErrNotFound reports a missing row for any lookup.
var ErrNotFound = errors.New("store: not found")

// Catalog reads authoritative product data, including option price
// adjustments. Read-only to checkout.
type Catalog interface {
	// Products batch-loads products (with their options) by id. Missing ids
	// are simply absent from the result; the caller decides whether that is
	// an error.
	Products(ctx context.Context, ids []string) (map[string]models.Product, error)
}

// Inventory exposes the advisory availability read. The authoritative
// check-and-decrement lives on Tx so it always runs inside the order
// transaction.
type Inventory interface {
	Availability(ctx context.Context, ids []string) (map[string]models.InventoryRecord, error)
}

// Customers resolves account references for the authenticator.
type Customers interface {
	Customer(ctx context.Context, id string) (models.Customer, error)
}

// Orders opens commit transactions and reads committed orders.
type Orders interface {
	Begin(ctx context.Context) (Tx, error)
	Order(ctx context.Context, id string) (models.Order, []models.OrderItem, error)
}

// Tx is one order-commit transaction. Either Commit applies every buffered
// write and reservation atomically, or Rollback (and any failure) leaves no
// trace. Implementations must be safe to Rollback after Commit (a no-op).
type Tx interface {
	InsertOrder(ctx context.Context, o models.Order) error
	InsertOrderItem(ctx context.Context, item models.OrderItem) error
	InsertAddress(ctx context.Context, a models.Address) error

	// ReserveStock decrements quantity_available by qty only if at least qty
	// is available, reporting false otherwise. A false return obliges the
	// caller to roll back the whole transaction.
	ReserveStock(ctx context.Context, productID string, qty int) (bool, error)

	// ClearCart drops the customer's persisted cart lines.
	ClearCart(ctx context.Context, customerID string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store aggregates every port the checkout service needs.
type Store interface {
	Catalog
	Inventory
	Customers
	Orders
}
