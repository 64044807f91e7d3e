// Package pricing recomputes authoritative prices for a validated cart.
// Client-supplied amounts never enter here; every unit amount comes from
// catalog data plus selected-option adjustments.
package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/raineandseaweb/raineandsea-sub002/internal/models"
	"github.com/raineandseaweb/raineandsea-sub002/internal/store"
)

// Fixed business rules. The storefront charges a flat 8% tax and a flat
// shipping fee waived above the free-shipping threshold.
var (
	taxRate               = decimal.RequireFromString("0.08")
	freeShippingThreshold = decimal.RequireFromString("100")
	flatShippingFee       = decimal.RequireFromString("9.99")
)

const defaultCurrency = "USD"

// UnknownProductError names a cart line whose product no longer exists.
type UnknownProductError struct {
	ProductID string
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("pricing: unknown product %s", e.ProductID)
}

// OptionError names an option selection that does not exist on the product
// or is sold out.
type OptionError struct {
	ProductID string
	Option    string
	Value     string
	SoldOut   bool
}

func (e *OptionError) Error() string {
	if e.SoldOut {
		return fmt.Sprintf("pricing: option %s=%s on product %s is sold out", e.Option, e.Value, e.ProductID)
	}
	return fmt.Sprintf("pricing: unknown option %s=%s on product %s", e.Option, e.Value, e.ProductID)
}

// PricedLine is one cart line with its server-computed unit amount and the
// descriptive title frozen for the order record.
type PricedLine struct {
	ProductID       string
	ProductTitle    string
	Title           string
	Quantity        int
	UnitAmount      decimal.Decimal
	SelectedOptions map[string]string
}

// Quote is the full server-side price computation for one checkout.
type Quote struct {
	Lines    []PricedLine
	Currency string
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// Engine prices carts against the catalog.
type Engine struct {
	catalog store.Catalog
}

// NewEngine creates a pricing engine over a catalog reader.
func NewEngine(catalog store.Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Price batch-loads every distinct product once, computes each line's unit
// amount as base price plus option adjustments, and aggregates totals. An
// unknown product fails the whole quote with the offending id; lines are
// never silently dropped.
func (e *Engine) Price(ctx context.Context, lines []models.CartItemRequest) (*Quote, error) {
	ids := distinctProductIDs(lines)
	products, err := e.catalog.Products(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	q := &Quote{Currency: defaultCurrency, Subtotal: decimal.Zero}
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, &UnknownProductError{ProductID: line.ProductID}
		}
		if product.Currency != "" {
			q.Currency = product.Currency
		}

		unit := product.BasePrice
		for _, name := range sortedOptionNames(line.SelectedOptions) {
			val, err := findOptionValue(product, name, line.SelectedOptions[name])
			if err != nil {
				return nil, err
			}
			unit = unit.Add(val.PriceAdjustment)
		}

		q.Lines = append(q.Lines, PricedLine{
			ProductID:       line.ProductID,
			ProductTitle:    product.Title,
			Title:           renderTitle(product.Title, line.SelectedOptions),
			Quantity:        line.Quantity,
			UnitAmount:      unit,
			SelectedOptions: line.SelectedOptions,
		})
		q.Subtotal = q.Subtotal.Add(unit.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	q.Tax = q.Subtotal.Mul(taxRate).Round(2)
	if q.Subtotal.GreaterThan(freeShippingThreshold) {
		q.Shipping = decimal.Zero
	} else {
		q.Shipping = flatShippingFee
	}
	q.Total = q.Subtotal.Add(q.Tax).Add(q.Shipping)
	return q, nil
}

func distinctProductIDs(lines []models.CartItemRequest) []string {
	seen := make(map[string]struct{}, len(lines))
	var ids []string
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	return ids
}

func sortedOptionNames(selected map[string]string) []string {
	if len(selected) == 0 {
		return nil
	}
	names := make([]string, 0, len(selected))
	for name := range selected {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func findOptionValue(p models.Product, optionName, valueName string) (models.OptionValue, error) {
	for _, opt := range p.Options {
		if opt.Name != optionName {
			continue
		}
		for _, val := range opt.Values {
			if val.Name != valueName {
				continue
			}
			if val.SoldOut {
				return models.OptionValue{}, &OptionError{ProductID: p.ID, Option: optionName, Value: valueName, SoldOut: true}
			}
			return val, nil
		}
	}
	return models.OptionValue{}, &OptionError{ProductID: p.ID, Option: optionName, Value: valueName}
}

// renderTitle freezes the human-readable line description, appending the
// selected options in stable order.
func renderTitle(productTitle string, selected map[string]string) string {
	names := sortedOptionNames(selected)
	if len(names) == 0 {
		return productTitle
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, selected[name]))
	}
	return fmt.Sprintf("%s (%s)", productTitle, strings.Join(parts, ", "))
}
