package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/raineandseaweb/raineandsea-sub002/internal/metrics"
	"github.com/raineandseaweb/raineandsea-sub002/internal/models"
)

// Postgres is the authoritative backend. The oversell guarantee rests on the
// conditional UPDATE in ReserveStock: under concurrent checkouts the row
// lock serializes the decrements and the loser sees zero rows affected.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (s *Postgres) Close() { s.pool.Close() }

func (s *Postgres) Products(ctx context.Context, ids []string) (map[string]models.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, base_price::text, currency FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.Product, len(ids))
	for rows.Next() {
		var p models.Product
		var price string
		if err := rows.Scan(&p.ID, &p.Title, &price, &p.Currency); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if p.BasePrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse base price for %s: %w", p.ID, err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadOptions(ctx, out, ids); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Postgres) loadOptions(ctx context.Context, products map[string]models.Product, ids []string) error {
	rows, err := s.pool.Query(ctx,
		`SELECT po.product_id, po.name, ov.name, ov.price_adjustment::text, ov.sold_out
		 FROM product_options po
		 JOIN option_values ov ON ov.option_id = po.id
		 WHERE po.product_id = ANY($1)
		 ORDER BY po.product_id, po.name, ov.name`, ids)
	if err != nil {
		return fmt.Errorf("query options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID, optName string
		var val models.OptionValue
		var adj string
		if err := rows.Scan(&productID, &optName, &val.Name, &adj, &val.SoldOut); err != nil {
			return fmt.Errorf("scan option value: %w", err)
		}
		if val.PriceAdjustment, err = decimal.NewFromString(adj); err != nil {
			return fmt.Errorf("parse adjustment for %s/%s: %w", productID, optName, err)
		}
		p, ok := products[productID]
		if !ok {
			continue
		}
		if n := len(p.Options); n > 0 && p.Options[n-1].Name == optName {
			p.Options[n-1].Values = append(p.Options[n-1].Values, val)
		} else {
			p.Options = append(p.Options, models.ProductOption{Name: optName, Values: []models.OptionValue{val}})
		}
		products[productID] = p
	}
	return rows.Err()
}

func (s *Postgres) Availability(ctx context.Context, ids []string) (map[string]models.InventoryRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product_id, quantity_available, quantity_reserved FROM inventory WHERE product_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.InventoryRecord, len(ids))
	for rows.Next() {
		var rec models.InventoryRecord
		if err := rows.Scan(&rec.ProductID, &rec.QuantityAvailable, &rec.QuantityReserved); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		out[rec.ProductID] = rec
	}
	return out, rows.Err()
}

func (s *Postgres) Customer(ctx context.Context, id string) (models.Customer, error) {
	var c models.Customer
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, email_verified FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Email, &c.EmailVerified)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Customer{}, ErrNotFound
	}
	if err != nil {
		return models.Customer{}, fmt.Errorf("query customer: %w", err)
	}
	return c, nil
}

func (s *Postgres) Order(ctx context.Context, id string) (models.Order, []models.OrderItem, error) {
	var o models.Order
	var subtotal, tax, shipping, total string
	err := s.pool.QueryRow(ctx,
		`SELECT id, order_number, COALESCE(customer_id::text, ''), COALESCE(guest_email, ''),
		        status, currency, subtotal::text, tax::text, shipping::text, total::text,
		        COALESCE(notes, ''), created_at, updated_at
		 FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.GuestEmail, &o.Status, &o.Currency,
			&subtotal, &tax, &shipping, &total, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, nil, ErrNotFound
	}
	if err != nil {
		return models.Order{}, nil, fmt.Errorf("query order: %w", err)
	}
	for _, pair := range []struct {
		dst *decimal.Decimal
		src string
	}{{&o.Subtotal, subtotal}, {&o.Tax, tax}, {&o.Shipping, shipping}, {&o.Total, total}} {
		if *pair.dst, err = decimal.NewFromString(pair.src); err != nil {
			return models.Order{}, nil, fmt.Errorf("parse order amount: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, product_id, quantity, unit_amount::text, title, COALESCE(selected_options, '{}'::jsonb)
		 FROM order_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return models.Order{}, nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		var unit string
		var opts []byte
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &unit, &item.Title, &opts); err != nil {
			return models.Order{}, nil, fmt.Errorf("scan order item: %w", err)
		}
		if item.UnitAmount, err = decimal.NewFromString(unit); err != nil {
			return models.Order{}, nil, fmt.Errorf("parse unit amount: %w", err)
		}
		if len(opts) > 0 {
			if err := json.Unmarshal(opts, &item.SelectedOptions); err != nil {
				return models.Order{}, nil, fmt.Errorf("decode selected options: %w", err)
			}
		}
		items = append(items, item)
	}
	return o, items, rows.Err()
}

func (s *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertOrder(ctx context.Context, o models.Order) error {
	var customerID, guestEmail any
	if o.CustomerID != "" {
		customerID = o.CustomerID
	}
	if o.GuestEmail != "" {
		guestEmail = o.GuestEmail
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orders (id, order_number, customer_id, guest_email, status, currency,
		                     subtotal, tax, shipping, total, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.OrderNumber, customerID, guestEmail, o.Status, o.Currency,
		o.Subtotal.String(), o.Tax.String(), o.Shipping.String(), o.Total.String(),
		o.Notes, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *pgTx) InsertOrderItem(ctx context.Context, item models.OrderItem) error {
	opts, err := json.Marshal(item.SelectedOptions)
	if err != nil {
		return fmt.Errorf("encode selected options: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO order_items (id, order_id, product_id, quantity, unit_amount, title, selected_options)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		item.ID, item.OrderID, item.ProductID, item.Quantity, item.UnitAmount.String(), item.Title, opts)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

func (t *pgTx) InsertAddress(ctx context.Context, a models.Address) error {
	var customerID any
	if a.CustomerID != "" {
		customerID = a.CustomerID
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO addresses (id, order_id, customer_id, type, full_name, line1, line2,
		                        city, region, postal_code, country, phone)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.OrderID, customerID, a.Type, a.FullName, a.Line1, a.Line2,
		a.City, a.Region, a.PostalCode, a.Country, a.Phone)
	if err != nil {
		return fmt.Errorf("insert address: %w", err)
	}
	return nil
}

func (t *pgTx) ReserveStock(ctx context.Context, productID string, qty int) (bool, error) {
	var remaining int
	err := t.tx.QueryRow(ctx,
		`UPDATE inventory
		 SET quantity_available = quantity_available - $2,
		     quantity_reserved  = quantity_reserved + $2
		 WHERE product_id = $1 AND quantity_available >= $2
		 RETURNING quantity_available`, productID, qty).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		// zero rows affected: insufficient stock, caller must roll back
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reserve stock for %s: %w", productID, err)
	}
	metrics.InventoryLevel.WithLabelValues(productID).Set(float64(remaining))
	return true, nil
}

func (t *pgTx) ClearCart(ctx context.Context, customerID string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM cart_lines WHERE customer_id = $1`, customerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
