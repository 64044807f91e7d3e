package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/raineandseaweb/raineandsea-sub002/internal/metrics"
	"github.com/raineandseaweb/raineandsea-sub002/internal/models"
)

// Memory is the in-process backend. A single mutex guards all state; a
// transaction holds it from Begin until Commit or Rollback, which gives the
// same all-or-nothing and never-oversell guarantees the Postgres backend
// gets from row-level locking.
type Memory struct {
	mu        sync.Mutex
	products  map[string]models.Product
	inventory map[string]models.InventoryRecord
	customers map[string]models.Customer
	orders    map[string]models.Order
	items     map[string][]models.OrderItem
	addresses map[string][]models.Address
	carts     map[string][]models.CartLine
	orderNums map[string]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		products:  make(map[string]models.Product),
		inventory: make(map[string]models.InventoryRecord),
		customers: make(map[string]models.Customer),
		orders:    make(map[string]models.Order),
		items:     make(map[string][]models.OrderItem),
		addresses: make(map[string][]models.Address),
		carts:     make(map[string][]models.CartLine),
		orderNums: make(map[string]struct{}),
	}
}

// SeedProduct installs a catalog row and its inventory record.
func (s *Memory) SeedProduct(p models.Product, available int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	s.inventory[p.ID] = models.InventoryRecord{ProductID: p.ID, QuantityAvailable: available}
	metrics.InventoryLevel.WithLabelValues(p.ID).Set(float64(available))
}

// SeedCustomer installs an account row.
func (s *Memory) SeedCustomer(c models.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

// SeedCartLine installs a persisted cart row for a customer.
func (s *Memory) SeedCartLine(l models.CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[l.CustomerID] = append(s.carts[l.CustomerID], l)
}

// CartLines returns the customer's persisted cart. Test helper.
func (s *Memory) CartLines(customerID string) []models.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CartLine(nil), s.carts[customerID]...)
}

// OrderCount returns the number of committed orders. Test helper.
func (s *Memory) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// AddressCount returns the number of persisted addresses. Test helper.
func (s *Memory) AddressCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.addresses {
		n += len(a)
	}
	return n
}

func (s *Memory) Products(ctx context.Context, ids []string) (map[string]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Memory) Availability(ctx context.Context, ids []string) (map[string]models.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.InventoryRecord, len(ids))
	for _, id := range ids {
		if rec, ok := s.inventory[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (s *Memory) Customer(ctx context.Context, id string) (models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return models.Customer{}, ErrNotFound
	}
	return c, nil
}

func (s *Memory) Order(ctx context.Context, id string) (models.Order, []models.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, nil, ErrNotFound
	}
	return o, append([]models.OrderItem(nil), s.items[id]...), nil
}

// Begin acquires the store lock for the duration of the transaction.
func (s *Memory) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &memTx{
		s:        s,
		reserved: make(map[string]int),
	}, nil
}

// memTx buffers writes until Commit. Reservation checks run against the
// committed state minus what this transaction already reserved, which is
// exact because the store lock is held.
type memTx struct {
	s          *Memory
	orders     []models.Order
	items      []models.OrderItem
	addresses  []models.Address
	reserved   map[string]int
	clearCarts []string
	done       bool
}

func (tx *memTx) InsertOrder(ctx context.Context, o models.Order) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	if (o.CustomerID == "") == (o.GuestEmail == "") {
		return fmt.Errorf("store: order %s must be guest xor customer-owned", o.ID)
	}
	if _, dup := tx.s.orderNums[o.OrderNumber]; dup {
		return fmt.Errorf("store: duplicate order number %s", o.OrderNumber)
	}
	tx.orders = append(tx.orders, o)
	return nil
}

func (tx *memTx) InsertOrderItem(ctx context.Context, item models.OrderItem) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	tx.items = append(tx.items, item)
	return nil
}

func (tx *memTx) InsertAddress(ctx context.Context, a models.Address) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	tx.addresses = append(tx.addresses, a)
	return nil
}

func (tx *memTx) ReserveStock(ctx context.Context, productID string, qty int) (bool, error) {
	if err := tx.check(ctx); err != nil {
		return false, err
	}
	if qty <= 0 {
		return false, fmt.Errorf("store: reserve quantity must be positive, got %d", qty)
	}
	rec, ok := tx.s.inventory[productID]
	if !ok {
		return false, nil
	}
	if rec.QuantityAvailable-tx.reserved[productID] < qty {
		return false, nil
	}
	tx.reserved[productID] += qty
	return true, nil
}

func (tx *memTx) ClearCart(ctx context.Context, customerID string) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	tx.clearCarts = append(tx.clearCarts, customerID)
	return nil
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.done {
		return fmt.Errorf("store: transaction already finished")
	}
	if err := ctx.Err(); err != nil {
		tx.finish()
		return err
	}
	for id, qty := range tx.reserved {
		rec := tx.s.inventory[id]
		rec.QuantityAvailable -= qty
		rec.QuantityReserved += qty
		tx.s.inventory[id] = rec
		metrics.InventoryLevel.WithLabelValues(id).Set(float64(rec.QuantityAvailable))
	}
	for _, o := range tx.orders {
		tx.s.orders[o.ID] = o
		tx.s.orderNums[o.OrderNumber] = struct{}{}
	}
	for _, item := range tx.items {
		tx.s.items[item.OrderID] = append(tx.s.items[item.OrderID], item)
	}
	for _, a := range tx.addresses {
		tx.s.addresses[a.OrderID] = append(tx.s.addresses[a.OrderID], a)
	}
	for _, customerID := range tx.clearCarts {
		delete(tx.s.carts, customerID)
	}
	tx.finish()
	return nil
}

func (tx *memTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.finish()
	return nil
}

func (tx *memTx) finish() {
	tx.done = true
	tx.s.mu.Unlock()
}

func (tx *memTx) check(ctx context.Context) error {
	if tx.done {
		return fmt.Errorf("store: transaction already finished")
	}
	return ctx.Err()
}
