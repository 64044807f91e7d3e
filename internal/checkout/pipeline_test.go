package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raineandseaweb/raineandsea-sub002/internal/auth"
	"github.com/raineandseaweb/raineandsea-sub002/internal/models"
	"github.com/raineandseaweb/raineandsea-sub002/internal/store"
)

const (
	pendantID  = "11111111-1111-1111-1111-111111111111"
	frameID    = "22222222-2222-2222-2222-222222222222"
	ringID     = "33333333-3333-3333-3333-333333333333"
	braceletID = "44444444-4444-4444-4444-444444444444"
	anchorID   = "55555555-5555-5555-5555-555555555555"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedCheckoutStore(t *testing.T) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	st.SeedProduct(models.Product{
		ID: pendantID, Title: "Sea Glass Pendant", BasePrice: dec("10.00"), Currency: "USD",
	}, 10)
	st.SeedProduct(models.Product{
		ID: frameID, Title: "Driftwood Frame", BasePrice: dec("25.00"), Currency: "USD",
	}, 2)
	st.SeedProduct(models.Product{
		ID: ringID, Title: "Tide Ring", BasePrice: dec("15.00"), Currency: "USD",
	}, 3)
	st.SeedProduct(models.Product{
		ID: braceletID, Title: "Kelp Bracelet", BasePrice: dec("12.00"), Currency: "USD",
	}, 8)
	st.SeedProduct(models.Product{
		ID: anchorID, Title: "Anchor Charm", BasePrice: dec("8.00"), Currency: "USD",
	}, 8)
	st.SeedCustomer(models.Customer{ID: "c-1", Email: "jane@example.com", EmailVerified: true})
	return st
}

func validAddress() models.AddressRequest {
	return models.AddressRequest{
		FullName:   "Jane Doe",
		Line1:      "12 Harbor Way",
		City:       "Port Townsend",
		Region:     "WA",
		PostalCode: "98368",
		Country:    "US",
	}
}

func guestRequest(items ...models.CartItemRequest) *models.CheckoutRequest {
	return &models.CheckoutRequest{
		CartItems:       items,
		ShippingAddress: validAddress(),
		UseSameAddress:  true,
		GuestEmail:      "guest@example.com",
	}
}

func TestSubmitGuestOrder(t *testing.T) {
	st := seedCheckoutStore(t)
	svc := NewService(st, nil, time.Second)

	req := guestRequest(models.CartItemRequest{ProductID: pendantID, Quantity: 2})
	order, cerr := svc.Submit(context.Background(), req, nil)
	require.Nil(t, cerr)

	assert.Equal(t, models.OrderStatusReceived, order.Status)
	assert.True(t, order.IsGuest())
	assert.Equal(t, "guest@example.com", order.GuestEmail)
	assert.Empty(t, order.CustomerID)
	assert.Regexp(t, `^ORD-\d{8}-[0-9a-z]{4}$`, order.OrderNumber)

	// worked example: $20 subtotal, $1.60 tax, $9.99 shipping, $31.59 total
	assert.True(t, order.Subtotal.Equal(dec("20.00")), "subtotal %s", order.Subtotal)
	assert.True(t, order.Tax.Equal(dec("1.60")), "tax %s", order.Tax)
	assert.True(t, order.Shipping.Equal(dec("9.99")), "shipping %s", order.Shipping)
	assert.True(t, order.Total.Equal(dec("31.59")), "total %s", order.Total)

	// the decrement is applied
	inv, err := st.Availability(context.Background(), []string{pendantID})
	require.NoError(t, err)
	assert.Equal(t, 8, inv[pendantID].QuantityAvailable)

	// the order is durable
	persisted, items, err := st.Order(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, persisted.OrderNumber)
	require.Len(t, items, 1)
	assert.True(t, items[0].UnitAmount.Equal(dec("10.00")))
}

func TestSubmitAuthenticatedOrder(t *testing.T) {
	st := seedCheckoutStore(t)
	st.SeedCartLine(models.CartLine{CustomerID: "c-1", ProductID: pendantID, Quantity: 1})
	svc := NewService(st, nil, time.Second)

	req := guestRequest(models.CartItemRequest{ProductID: frameID, Quantity: 1})
	req.GuestEmail = ""
	ident := &auth.Identity{CustomerID: "c-1", Email: "jane@example.com"}

	order, cerr := svc.Submit(context.Background(), req, ident)
	require.Nil(t, cerr)

	assert.False(t, order.IsGuest())
	assert.Equal(t, "c-1", order.CustomerID)
	assert.Empty(t, order.GuestEmail)

	// the persisted cart is cleared on commit
	assert.Len(t, st.CartLines("c-1"), 0)
}

func TestGuestEmailWinsOverSession(t *testing.T) {
	st := seedCheckoutStore(t)
	svc := NewService(st, nil, time.Second)

	req := guestRequest(models.CartItemRequest{ProductID: pendantID, Quantity: 1})
	ident := &auth.Identity{CustomerID: "c-1", Email: "jane@example.com"}

	order, cerr := svc.Submit(context.Background(), req, ident)
	require.Nil(t, cerr)
	assert.True(t, order.IsGuest())
	assert.Empty(t, order.CustomerID, "guest email present makes the order guest-owned")
}

func TestGuestXorCustomer(t *testing.T) {
	st := seedCheckoutStore(t)
	svc := NewService(st, nil, time.Second)
	ctx := context.Background()

	guest, cerr := svc.Submit(ctx, guestRequest(models.CartItemRequest{ProductID: pendantID, Quantity: 1}), nil)
	require.Nil(t, cerr)

	authedReq := guestRequest(models.CartItemRequest{ProductID: pendantID, Quantity: 1})
	authedReq.GuestEmail = ""
	authed, cerr := svc.Submit(ctx, authedReq, &auth.Identity{CustomerID: "c-1", Email: "jane@example.com"})
	require.Nil(t, cerr)

	for _, o := range []*models.Order{guest, authed} {
		hasCustomer := o.CustomerID != ""
		hasGuest := o.GuestEmail != ""
		assert.True(t, hasCustomer != hasGuest, "order %s must be guest xor customer", o.ID)
	}
}

func TestSubmitValidation(t *testing.T) {
	st := seedCheckoutStore(t)
	svc := NewService(st, nil, time.Second)
	ctx := context.Background()

	t.Run("neither session nor guest email", func(t *testing.T) {
		req := guestRequest(models.CartItemRequest{ProductID: pendantID, Quantity: 1})
		req.GuestEmail = ""
		_, cerr := svc.Submit(ctx, req, nil)
		require.NotNil(t, cerr)
		assert.Equal(t, KindAuthentication, cerr.Kind)
		assert.Equal(t, "AUTH_REQUIRED", cerr.Code)
	})

	t.Run("malformed guest email", func(t *testing.T) {
		req := guestRequest(models.CartItemRequest{ProductID: pendantID, Quantity: 1})
		req.GuestEmail = "not-an-email"
		_, cerr := svc.Submit(ctx, req, nil)
		require.NotNil(t, cerr)
		assert.Equal(t, KindValidation, cerr.Kind)
		assert.Equal(t, "INVALID_GUEST_EMAIL", cerr.Code)
	})

	t.Run("empty cart", func(t *testing.T) {
		req := guestRequest()
		_, cerr := svc.Submit(ctx, req, nil)
		require.NotNil(t, cerr)
		assert.Equal(t, "CART_EMPTY", cerr.Code)
	})

	t.Run("too many lines", func(t *testing.T) {
		var items []models.CartItemRequest
		for i := 0; i <= MaxCartLines; i++ {
			items = append(items, models.CartItemRequest{ProductID: pendantID, Quantity: 1})
		}
		_, cerr := svc.Submit(ctx, guestRequest(items...), nil)
		require.NotNil(t, cerr)
		assert.Equal(t, "CART_TOO_LARGE", cerr.Code)
	})

	t.Run("malformed product reference", func(t *testing.T) {
		_, cerr := svc.Submit(ctx, guestRequest(models.CartItemRequest{ProductID: "'; DROP TABLE", Quantity: 1}), nil)
		require.NotNil(t, cerr)
		assert.Equal(t, "INVALID_PRODUCT_REF", cerr.Code)
	})

	t.Run("quantity out of bounds", func(t *testing.T) {
		_, cerr := svc.Submit(ctx, guestRequest(models.CartItemRequest{ProductID: pendantID, Quantity: 11}), nil)
		require.NotNil(t, cerr)
		assert.Equal(t, "INVALID_QUANTITY", cerr.Code)

		_, cerr = svc.Submit(ctx, guestRequest(models.CartItemRequest{ProductID: pendantID, Quantity: 0}), nil)
		require.NotNil(t, cerr)
		assert.Equal(t, "INVALID_QUANTITY", cerr.Code)
	})

	t.Run("incomplete shipping address", func(t *testing.T) {
		req := guestRequest(models.CartItemRequest{ProductID: pendantID, Quantity: 1})
		req.ShippingAddress.City = ""
		_, cerr := svc.Submit(ctx, req, nil)
		require.NotNil(t, cerr)
		assert.Equal(t, "INVALID_SHIPPING_ADDRESS", cerr.Code)
	})

	t.Run("bad country code fails closed", func(t *testing.T) {
		req := guestRequest(models.CartItemRequest{ProductID: pendantID, Quantity: 1})
		req.ShippingAddress.Country = "USA"
		_, cerr := svc.Submit(ctx, req, nil)
		require.NotNil(t, cerr)
		assert.Equal(t, "INVALID_SHIPPING_ADDRESS", cerr.Code)
	})

	t.Run("nothing persists on rejection", func(t *testing.T) {
		assert.Equal(t, 0, st.OrderCount())
	})
}

func TestSubmitUnknownProduct(t *testing.T) {
	st := seedCheckoutStore(t)
	svc := NewService(st, nil, time.Second)

	missing := "99999999-9999-9999-9999-999999999999"
	_, cerr := svc.Submit(context.Background(), guestRequest(models.CartItemRequest{ProductID: missing, Quantity: 1}), nil)
	require.NotNil(t, cerr)
	assert.Equal(t, KindNotFound, cerr.Kind)
	assert.Contains(t, cerr.Message, missing, "the offending product id is named")
}

func TestPriceIntegrity(t *testing.T) {
	st := seedCheckoutStore(t)
	svc := NewService(st, nil, time.Second)

	req := guestRequest(models.CartItemRequest{
		ProductID: pendantID, Quantity: 1, UnitAmount: 0.01, Price: 0.01,
	})
	order, cerr := svc.Submit(context.Background(), req, nil)
	require.Nil(t, cerr)

	_, items, err := st.Order(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].UnitAmount.Equal(dec("10.00")),
		"persisted unit amount must be the server-computed value, got %s", items[0].UnitAmount)
}

func TestStockPrecheck(t *testing.T) {
	st := seedCheckoutStore(t)
	svc := NewService(st, nil, time.Second)

	// frame has 2 in stock; two lines of the same product aggregate
	req := guestRequest(
		models.CartItemRequest{ProductID: frameID, Quantity: 2},
		models.CartItemRequest{ProductID: frameID, Quantity: 1},
		models.CartItemRequest{ProductID: ringID, Quantity: 5},
	)
	_, cerr := svc.Submit(context.Background(), req, nil)
	require.NotNil(t, cerr)
	assert.Equal(t, KindStock, cerr.Kind)
	require.Len(t, cerr.OutOfStock, 2)

	byTitle := map[string]models.OutOfStockItem{}
	for _, s := range cerr.OutOfStock {
		byTitle[s.ProductTitle] = s
	}
	assert.Equal(t, 3, byTitle["Driftwood Frame"].Requested)
	assert.Equal(t, 2, byTitle["Driftwood Frame"].Available)
	assert.Equal(t, 5, byTitle["Tide Ring"].Requested)
	assert.Equal(t, 3, byTitle["Tide Ring"].Available)

	assert.Equal(t, 0, st.OrderCount(), "no partial writes on stock rejection")
}

// optimisticStore reports inflated availability so the advisory pre-check
// passes and the failure surfaces inside the transaction, as it would when
// a concurrent checkout wins the race between pre-check and commit.
type optimisticStore struct {
	*store.Memory
}

func (s *optimisticStore) Availability(ctx context.Context, ids []string) (map[string]models.InventoryRecord, error) {
	out, err := s.Memory.Availability(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, rec := range out {
		rec.QuantityAvailable += 100
		out[id] = rec
	}
	return out, nil
}

func TestAtomicityOnMidCommitStockFailure(t *testing.T) {
	mem := seedCheckoutStore(t)
	st := &optimisticStore{Memory: mem}
	svc := NewService(st, nil, time.Second)

	// 5 lines; the 3rd (ring, qty 5 > 3 available) fails its reservation
	// inside the transaction after the lying pre-check passed
	req := guestRequest(
		models.CartItemRequest{ProductID: pendantID, Quantity: 1},
		models.CartItemRequest{ProductID: frameID, Quantity: 1},
		models.CartItemRequest{ProductID: ringID, Quantity: 5},
		models.CartItemRequest{ProductID: braceletID, Quantity: 1},
		models.CartItemRequest{ProductID: anchorID, Quantity: 1},
	)
	_, cerr := svc.Submit(context.Background(), req, nil)
	require.NotNil(t, cerr)
	assert.Equal(t, KindStock, cerr.Kind)

	// zero order, item, and address rows survive
	assert.Equal(t, 0, mem.OrderCount())
	assert.Equal(t, 0, mem.AddressCount())

	// the earlier lines' inventory is not decremented either
	inv, err := mem.Availability(context.Background(), []string{pendantID, frameID, ringID})
	require.NoError(t, err)
	assert.Equal(t, 10, inv[pendantID].QuantityAvailable)
	assert.Equal(t, 2, inv[frameID].QuantityAvailable)
	assert.Equal(t, 3, inv[ringID].QuantityAvailable)
}

// TestConcurrentOversell is the single most important correctness property:
// N concurrent submissions for the last units, exactly one commits.
func TestConcurrentOversell(t *testing.T) {
	st := seedCheckoutStore(t)
	svc := NewService(st, nil, time.Second)

	// frame has 2 available; each request wants 2, so 2+2 > 2 and only one
	// request can win
	const workers = 8
	var wg sync.WaitGroup
	outcomes := make(chan *Error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := guestRequest(models.CartItemRequest{ProductID: frameID, Quantity: 2})
			_, cerr := svc.Submit(context.Background(), req, nil)
			outcomes <- cerr
		}()
	}
	wg.Wait()
	close(outcomes)

	committed, stockFailed := 0, 0
	for cerr := range outcomes {
		switch {
		case cerr == nil:
			committed++
		case cerr.Kind == KindStock:
			stockFailed++
		default:
			t.Fatalf("unexpected failure kind: %v", cerr)
		}
	}
	assert.Equal(t, 1, committed, "exactly one request takes the stock")
	assert.Equal(t, workers-1, stockFailed)

	inv, err := st.Availability(context.Background(), []string{frameID})
	require.NoError(t, err)
	assert.Equal(t, 0, inv[frameID].QuantityAvailable, "stock never goes negative")
}

type capturingPublisher struct {
	mu    sync.Mutex
	calls []string
}

func (p *capturingPublisher) OrderCreated(order models.Order, items []models.OrderItem, email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, email)
}

func TestPublisherReceivesCommittedOrdersOnly(t *testing.T) {
	st := seedCheckoutStore(t)
	pub := &capturingPublisher{}
	svc := NewService(st, pub, time.Second)
	ctx := context.Background()

	_, cerr := svc.Submit(ctx, guestRequest(models.CartItemRequest{ProductID: pendantID, Quantity: 1}), nil)
	require.Nil(t, cerr)

	_, cerr = svc.Submit(ctx, guestRequest(models.CartItemRequest{ProductID: ringID, Quantity: 9}), nil)
	require.NotNil(t, cerr)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.calls, 1, "rejected checkouts publish nothing")
	assert.Equal(t, "guest@example.com", pub.calls[0])
}

func TestBillingAddressHandling(t *testing.T) {
	ctx := context.Background()

	t.Run("same address inserts shipping only", func(t *testing.T) {
		st := seedCheckoutStore(t)
		svc := NewService(st, nil, time.Second)
		req := guestRequest(models.CartItemRequest{ProductID: pendantID, Quantity: 1})
		req.UseSameAddress = true

		_, cerr := svc.Submit(ctx, req, nil)
		require.Nil(t, cerr)
		assert.Equal(t, 1, st.AddressCount())
	})

	t.Run("distinct billing address is persisted", func(t *testing.T) {
		st := seedCheckoutStore(t)
		svc := NewService(st, nil, time.Second)
		billing := validAddress()
		billing.Line1 = "99 Billing Blvd"
		req := guestRequest(models.CartItemRequest{ProductID: pendantID, Quantity: 1})
		req.UseSameAddress = false
		req.BillingAddress = &billing

		_, cerr := svc.Submit(ctx, req, nil)
		require.Nil(t, cerr)
		assert.Equal(t, 2, st.AddressCount())
	})
}

func TestSanitizationBeforePersistence(t *testing.T) {
	st := seedCheckoutStore(t)
	svc := NewService(st, nil, time.Second)

	req := guestRequest(models.CartItemRequest{ProductID: pendantID, Quantity: 1})
	req.OrderNotes = `<script>alert("xss")</script>Please gift wrap`
	order, cerr := svc.Submit(context.Background(), req, nil)
	require.Nil(t, cerr)

	persisted, _, err := st.Order(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Please gift wrap", persisted.Notes)
}
