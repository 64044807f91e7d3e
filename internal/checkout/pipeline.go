// Package checkout implements the commit pipeline: the sequence that turns
// a submitted cart into a durable order with server-side pricing, validated
// input, and an all-or-nothing inventory decrement.
package checkout

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/raineandseaweb/raineandsea-sub002/internal/auth"
	"github.com/raineandseaweb/raineandsea-sub002/internal/metrics"
	"github.com/raineandseaweb/raineandsea-sub002/internal/models"
	"github.com/raineandseaweb/raineandsea-sub002/internal/patterns"
	"github.com/raineandseaweb/raineandsea-sub002/internal/pricing"
	"github.com/raineandseaweb/raineandsea-sub002/internal/sanitize"
	"github.com/raineandseaweb/raineandsea-sub002/internal/store"
)

// MaxCartLines bounds the number of lines in one checkout.
const MaxCartLines = 50

const (
	minLineQuantity = 1
	maxLineQuantity = 10
)

// Publisher receives the order-created event after a successful commit.
// Implementations must not block; their failures never affect the order.
type Publisher interface {
	OrderCreated(order models.Order, items []models.OrderItem, email string)
}

// Service orchestrates the checkout commit pipeline.
type Service struct {
	store         store.Store
	pricer        *pricing.Engine
	publisher     Publisher
	validate      *validator.Validate
	commitTimeout time.Duration
	now           func() time.Time
}

// NewService wires the pipeline. publisher may be nil (no notifications).
func NewService(st store.Store, publisher Publisher, commitTimeout time.Duration) *Service {
	if commitTimeout <= 0 {
		commitTimeout = patterns.DefaultCommitTimeout
	}
	return &Service{
		store:         st,
		pricer:        pricing.NewEngine(st),
		publisher:     publisher,
		validate:      validator.New(),
		commitTimeout: commitTimeout,
		now:           time.Now,
	}
}

// Submit runs one checkout call to a terminal outcome. ident is nil for
// unauthenticated callers; a request with a guest email is guest-owned even
// when a valid session exists.
func (s *Service) Submit(ctx context.Context, req *models.CheckoutRequest, ident *auth.Identity) (*models.Order, *Error) {
	s.sanitizeRequest(req)

	if ferr := s.validateRequest(req, ident); ferr != nil {
		metrics.OrdersTotal.WithLabelValues("rejected_" + ferr.Code).Inc()
		return nil, ferr
	}

	quote, err := s.pricer.Price(ctx, req.CartItems)
	if err != nil {
		perr := mapPricingError(err)
		metrics.OrdersTotal.WithLabelValues("rejected_" + perr.Code).Inc()
		return nil, perr
	}

	// Advisory pre-check for a fast, friendly failure. Not a guarantee: a
	// concurrent checkout can still win the race, in which case the
	// reservation inside the transaction fails and the commit aborts.
	if serr := s.precheckStock(ctx, req.CartItems, quote); serr != nil {
		metrics.OrdersTotal.WithLabelValues("rejected_" + serr.Code).Inc()
		return nil, serr
	}

	order, items, cerr := s.commit(ctx, req, quote, ident)
	if cerr != nil {
		metrics.OrdersTotal.WithLabelValues("rejected_" + cerr.Code).Inc()
		return nil, cerr
	}
	metrics.OrdersTotal.WithLabelValues("committed").Inc()

	log.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"total":        order.Total.String(),
		"guest":        order.IsGuest(),
		"items":        len(items),
	}).Info("Order committed")

	if s.publisher != nil {
		email := order.GuestEmail
		if email == "" && ident != nil {
			email = ident.Email
		}
		s.publisher.OrderCreated(*order, items, email)
	}

	return order, nil
}

// sanitizeRequest cleans every untrusted string before any business logic
// sees it.
func (s *Service) sanitizeRequest(req *models.CheckoutRequest) {
	req.GuestEmail = sanitize.Email(req.GuestEmail)
	req.OrderNotes = sanitize.Note(req.OrderNotes)
	for i := range req.CartItems {
		req.CartItems[i].ProductID = sanitize.UUID(req.CartItems[i].ProductID)
		req.CartItems[i].SelectedOptions = sanitize.StringMap(req.CartItems[i].SelectedOptions)
	}
	sanitizeAddress(&req.ShippingAddress)
	if req.BillingAddress != nil {
		sanitizeAddress(req.BillingAddress)
	}
}

func sanitizeAddress(a *models.AddressRequest) {
	a.FullName = sanitize.Name(a.FullName)
	a.Line1 = sanitize.AddressLine(a.Line1)
	a.Line2 = sanitize.AddressLine(a.Line2)
	a.City = sanitize.City(a.City)
	a.Region = sanitize.City(a.Region)
	a.PostalCode = sanitize.PostalCode(a.PostalCode)
	a.Country = sanitize.CountryCode(a.Country)
	a.Phone = sanitize.Phone(a.Phone)
}

// validateRequest is the purely structural stage; it never touches the
// database.
func (s *Service) validateRequest(req *models.CheckoutRequest, ident *auth.Identity) *Error {
	if ident == nil && req.GuestEmail == "" {
		return ErrAuthRequired()
	}
	if req.GuestEmail != "" {
		if err := s.validate.Var(req.GuestEmail, "email"); err != nil {
			return errValidation("INVALID_GUEST_EMAIL", "Guest email is not a valid email address")
		}
	}

	if len(req.CartItems) == 0 {
		return errValidation("CART_EMPTY", "Cart must contain at least one item")
	}
	if len(req.CartItems) > MaxCartLines {
		return errValidation("CART_TOO_LARGE", fmt.Sprintf("Cart may contain at most %d lines", MaxCartLines))
	}
	for i, line := range req.CartItems {
		if line.ProductID == "" {
			return errValidation("INVALID_PRODUCT_REF", fmt.Sprintf("Line %d has a malformed product reference", i+1))
		}
		if line.Quantity < minLineQuantity || line.Quantity > maxLineQuantity {
			return errValidation("INVALID_QUANTITY",
				fmt.Sprintf("Line %d quantity must be between %d and %d", i+1, minLineQuantity, maxLineQuantity))
		}
	}

	if err := s.validate.Struct(req.ShippingAddress); err != nil {
		return errValidation("INVALID_SHIPPING_ADDRESS", "Shipping address is missing required fields")
	}
	if !req.UseSameAddress && req.BillingAddress != nil {
		if err := s.validate.Struct(req.BillingAddress); err != nil {
			return errValidation("INVALID_BILLING_ADDRESS", "Billing address is missing required fields")
		}
	}
	return nil
}

func mapPricingError(err error) *Error {
	var unknown *pricing.UnknownProductError
	if errors.As(err, &unknown) {
		return &Error{
			Kind:    KindNotFound,
			Code:    "PRODUCT_NOT_FOUND",
			Message: fmt.Sprintf("Product %s is no longer available", unknown.ProductID),
		}
	}
	var optErr *pricing.OptionError
	if errors.As(err, &optErr) {
		if optErr.SoldOut {
			return &Error{
				Kind:    KindStock,
				Code:    "OPTION_SOLD_OUT",
				Message: fmt.Sprintf("Option %s: %s is sold out", optErr.Option, optErr.Value),
			}
		}
		return errValidation("INVALID_OPTION",
			fmt.Sprintf("Option %s: %s does not exist for this product", optErr.Option, optErr.Value))
	}
	return errInternal(err)
}

// precheckStock batch-reads availability and rejects with the full shortage
// list. Purely advisory; the conditional decrement in the transaction is
// the correctness guarantee.
func (s *Service) precheckStock(ctx context.Context, lines []models.CartItemRequest, quote *pricing.Quote) *Error {
	requested := make(map[string]int)
	for _, line := range lines {
		requested[line.ProductID] += line.Quantity
	}
	ids := make([]string, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}

	availability, err := s.store.Availability(ctx, ids)
	if err != nil {
		return errInternal(err)
	}

	titles := make(map[string]string, len(quote.Lines))
	for _, l := range quote.Lines {
		titles[l.ProductID] = l.ProductTitle
	}

	var short []models.OutOfStockItem
	for _, l := range quote.Lines {
		want := requested[l.ProductID]
		if want == 0 {
			continue // already reported for an earlier line of the same product
		}
		have := availability[l.ProductID].QuantityAvailable
		if want > have {
			short = append(short, models.OutOfStockItem{
				ProductTitle: titles[l.ProductID],
				Requested:    want,
				Available:    have,
			})
		}
		requested[l.ProductID] = 0
	}
	if len(short) > 0 {
		return errStock(short)
	}
	return nil
}

// commit runs the transactional boundary under an explicit deadline so a
// stalled database connection cannot hold inventory locks indefinitely.
func (s *Service) commit(ctx context.Context, req *models.CheckoutRequest, quote *pricing.Quote, ident *auth.Identity) (*models.Order, []models.OrderItem, *Error) {
	ctx, cancel := patterns.WithDeadline(ctx, s.commitTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.CommitDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, nil, errInternal(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	now := s.now().UTC()
	order := models.Order{
		ID:          uuid.NewString(),
		OrderNumber: s.orderNumber(),
		Status:      models.OrderStatusReceived,
		Currency:    quote.Currency,
		Subtotal:    quote.Subtotal,
		Tax:         quote.Tax,
		Shipping:    quote.Shipping,
		Total:       quote.Total,
		Notes:       req.OrderNotes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.GuestEmail != "" {
		order.GuestEmail = req.GuestEmail
	} else {
		order.CustomerID = ident.CustomerID
	}

	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, nil, errInternal(err)
	}

	items := make([]models.OrderItem, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		item := models.OrderItem{
			ID:              uuid.NewString(),
			OrderID:         order.ID,
			ProductID:       line.ProductID,
			Quantity:        line.Quantity,
			UnitAmount:      line.UnitAmount,
			Title:           line.Title,
			SelectedOptions: line.SelectedOptions,
		}
		if err := tx.InsertOrderItem(ctx, item); err != nil {
			return nil, nil, errInternal(err)
		}
		items = append(items, item)
	}

	// The authoritative availability check. A failed reservation aborts the
	// whole transaction: no order, no items, no addresses, no decrements.
	for _, line := range quote.Lines {
		ok, err := tx.ReserveStock(ctx, line.ProductID, line.Quantity)
		if err != nil {
			return nil, nil, errInternal(err)
		}
		if !ok {
			// release the transaction before the fresh availability read
			_ = tx.Rollback(ctx)
			return nil, nil, s.reservationFailure(ctx, line)
		}
	}

	customerRef := ""
	if ident != nil {
		customerRef = ident.CustomerID
	}
	shipping := addressFromRequest(req.ShippingAddress, order.ID, customerRef, models.AddressTypeShipping)
	if err := tx.InsertAddress(ctx, shipping); err != nil {
		return nil, nil, errInternal(err)
	}
	if !req.UseSameAddress && req.BillingAddress != nil {
		billing := addressFromRequest(*req.BillingAddress, order.ID, customerRef, models.AddressTypeBilling)
		if err := tx.InsertAddress(ctx, billing); err != nil {
			return nil, nil, errInternal(err)
		}
	}

	if ident != nil {
		if err := tx.ClearCart(ctx, ident.CustomerID); err != nil {
			return nil, nil, errInternal(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, errInternal(err)
	}
	committed = true

	return &order, items, nil
}

// reservationFailure reports the losing side of a stock race. The
// availability shown is a fresh read taken after the rollback.
func (s *Service) reservationFailure(ctx context.Context, line pricing.PricedLine) *Error {
	available := 0
	if inv, err := s.store.Availability(ctx, []string{line.ProductID}); err == nil {
		available = inv[line.ProductID].QuantityAvailable
	}
	return errStock([]models.OutOfStockItem{{
		ProductTitle: line.ProductTitle,
		Requested:    line.Quantity,
		Available:    available,
	}})
}

func addressFromRequest(a models.AddressRequest, orderID, customerID, addrType string) models.Address {
	return models.Address{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		CustomerID: customerID,
		Type:       addrType,
		FullName:   a.FullName,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		Region:     a.Region,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// orderNumber generates the human-facing order number:
// "ORD-" + last 8 digits of the millisecond clock + "-" + 4 random base36
// characters. Uniqueness is enforced by the store's unique constraint.
func (s *Service) orderNumber() string {
	ms := s.now().UnixMilli() % 100_000_000

	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	suffix := make([]byte, 4)
	for i, b := range buf {
		suffix[i] = base36[int(b)%len(base36)]
	}
	return fmt.Sprintf("ORD-%08d-%s", ms, suffix)
}
