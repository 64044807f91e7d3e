package pricing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raineandseaweb/raineandsea-sub002/internal/models"
	"github.com/raineandseaweb/raineandsea-sub002/internal/store"
)

const (
	pendantID = "11111111-1111-1111-1111-111111111111"
	frameID   = "22222222-2222-2222-2222-222222222222"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	st := store.NewMemory()
	st.SeedProduct(models.Product{
		ID:        pendantID,
		Title:     "Sea Glass Pendant",
		BasePrice: decimal.RequireFromString("10.00"),
		Currency:  "USD",
		Options: []models.ProductOption{
			{
				Name: "chain",
				Values: []models.OptionValue{
					{Name: "silver", PriceAdjustment: decimal.RequireFromString("5.00")},
					{Name: "cord", PriceAdjustment: decimal.RequireFromString("-2.00")},
					{Name: "gold", PriceAdjustment: decimal.RequireFromString("20.00"), SoldOut: true},
				},
			},
		},
	}, 10)
	st.SeedProduct(models.Product{
		ID:        frameID,
		Title:     "Driftwood Frame",
		BasePrice: decimal.RequireFromString("60.00"),
		Currency:  "USD",
	}, 10)
	return NewEngine(st)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPriceWorkedExample(t *testing.T) {
	// cart [{product A, qty 2}], base $10: subtotal $20, tax $1.60,
	// shipping $9.99 under the threshold, total $31.59
	e := newTestEngine(t)
	q, err := e.Price(context.Background(), []models.CartItemRequest{
		{ProductID: pendantID, Quantity: 2},
	})
	require.NoError(t, err)

	assert.True(t, q.Subtotal.Equal(dec("20.00")), "subtotal %s", q.Subtotal)
	assert.True(t, q.Tax.Equal(dec("1.60")), "tax %s", q.Tax)
	assert.True(t, q.Shipping.Equal(dec("9.99")), "shipping %s", q.Shipping)
	assert.True(t, q.Total.Equal(dec("31.59")), "total %s", q.Total)
	assert.Equal(t, "USD", q.Currency)
}

func TestPriceOptions(t *testing.T) {
	ctx := context.Background()

	t.Run("adjustments add to the base price", func(t *testing.T) {
		e := newTestEngine(t)
		q, err := e.Price(ctx, []models.CartItemRequest{
			{ProductID: pendantID, Quantity: 1, SelectedOptions: map[string]string{"chain": "silver"}},
		})
		require.NoError(t, err)
		assert.True(t, q.Lines[0].UnitAmount.Equal(dec("15.00")))
	})

	t.Run("negative adjustments subtract", func(t *testing.T) {
		e := newTestEngine(t)
		q, err := e.Price(ctx, []models.CartItemRequest{
			{ProductID: pendantID, Quantity: 1, SelectedOptions: map[string]string{"chain": "cord"}},
		})
		require.NoError(t, err)
		assert.True(t, q.Lines[0].UnitAmount.Equal(dec("8.00")))
	})

	t.Run("descriptive title freezes the selection", func(t *testing.T) {
		e := newTestEngine(t)
		q, err := e.Price(ctx, []models.CartItemRequest{
			{ProductID: pendantID, Quantity: 1, SelectedOptions: map[string]string{"chain": "silver"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "Sea Glass Pendant (chain: silver)", q.Lines[0].Title)
	})

	t.Run("no options leaves the bare title", func(t *testing.T) {
		e := newTestEngine(t)
		q, err := e.Price(ctx, []models.CartItemRequest{{ProductID: frameID, Quantity: 1}})
		require.NoError(t, err)
		assert.Equal(t, "Driftwood Frame", q.Lines[0].Title)
	})

	t.Run("sold out option value fails", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.Price(ctx, []models.CartItemRequest{
			{ProductID: pendantID, Quantity: 1, SelectedOptions: map[string]string{"chain": "gold"}},
		})
		var optErr *OptionError
		require.ErrorAs(t, err, &optErr)
		assert.True(t, optErr.SoldOut)
	})

	t.Run("unknown option value fails", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.Price(ctx, []models.CartItemRequest{
			{ProductID: pendantID, Quantity: 1, SelectedOptions: map[string]string{"chain": "titanium"}},
		})
		var optErr *OptionError
		require.ErrorAs(t, err, &optErr)
		assert.False(t, optErr.SoldOut)
	})
}

func TestPriceUnknownProduct(t *testing.T) {
	e := newTestEngine(t)
	missing := "99999999-9999-9999-9999-999999999999"
	_, err := e.Price(context.Background(), []models.CartItemRequest{
		{ProductID: pendantID, Quantity: 1},
		{ProductID: missing, Quantity: 1},
	})
	var unknown *UnknownProductError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, missing, unknown.ProductID)
}

func TestPriceIgnoresClientAmounts(t *testing.T) {
	e := newTestEngine(t)
	q, err := e.Price(context.Background(), []models.CartItemRequest{
		{ProductID: pendantID, Quantity: 1, UnitAmount: 0.01, Price: 0.01},
	})
	require.NoError(t, err)
	assert.True(t, q.Lines[0].UnitAmount.Equal(dec("10.00")),
		"unit amount must come from the catalog, got %s", q.Lines[0].UnitAmount)
}

func TestTotalsLaw(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	carts := [][]models.CartItemRequest{
		{{ProductID: pendantID, Quantity: 1}},
		{{ProductID: pendantID, Quantity: 10}},
		{{ProductID: frameID, Quantity: 2}},
		{{ProductID: pendantID, Quantity: 3, SelectedOptions: map[string]string{"chain": "silver"}},
			{ProductID: frameID, Quantity: 1}},
	}
	for _, cart := range carts {
		q, err := e.Price(ctx, cart)
		require.NoError(t, err)

		wantTax := q.Subtotal.Mul(dec("0.08")).Round(2)
		assert.True(t, q.Tax.Equal(wantTax), "tax %s want %s", q.Tax, wantTax)

		wantShipping := dec("9.99")
		if q.Subtotal.GreaterThan(dec("100")) {
			wantShipping = decimal.Zero
		}
		assert.True(t, q.Shipping.Equal(wantShipping), "shipping %s want %s", q.Shipping, wantShipping)

		assert.True(t, q.Total.Equal(q.Subtotal.Add(q.Tax).Add(q.Shipping)))
	}
}

func TestFreeShippingThreshold(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// 2 frames = $120 subtotal, over the $100 threshold
	q, err := e.Price(ctx, []models.CartItemRequest{{ProductID: frameID, Quantity: 2}})
	require.NoError(t, err)
	assert.True(t, q.Shipping.IsZero(), "shipping %s", q.Shipping)

	// exactly $100 is not over the threshold
	q, err = e.Price(ctx, []models.CartItemRequest{{ProductID: pendantID, Quantity: 10}})
	require.NoError(t, err)
	assert.True(t, q.Subtotal.Equal(dec("100.00")))
	assert.True(t, q.Shipping.Equal(dec("9.99")))
}
