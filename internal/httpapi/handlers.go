// Package httpapi exposes the checkout pipeline over HTTP.
package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/raineandseaweb/raineandsea-sub002/internal/auth"
	"github.com/raineandseaweb/raineandsea-sub002/internal/checkout"
	"github.com/raineandseaweb/raineandsea-sub002/internal/config"
	"github.com/raineandseaweb/raineandsea-sub002/internal/models"
	"github.com/raineandseaweb/raineandsea-sub002/internal/ratelimit"
	"github.com/raineandseaweb/raineandsea-sub002/internal/sanitize"
	"github.com/raineandseaweb/raineandsea-sub002/internal/store"
)

const sessionCookie = "session"

// API holds the handler dependencies, injected once at process start.
type API struct {
	cfg     config.Config
	svc     *checkout.Service
	auth    *auth.Authenticator
	limiter *ratelimit.Limiter
	store   store.Store
}

// NewAPI wires the HTTP surface.
func NewAPI(cfg config.Config, svc *checkout.Service, authn *auth.Authenticator, limiter *ratelimit.Limiter, st store.Store) *API {
	return &API{cfg: cfg, svc: svc, auth: authn, limiter: limiter, store: st}
}

// token extracts the session credential: cookie first, then bearer header.
func token(c *gin.Context) string {
	if cookie, err := c.Cookie(sessionCookie); err == nil && cookie != "" {
		return cookie
	}
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// identity resolves the optional caller identity. No token means a nil
// identity with no error; a present-but-bad token is rejected.
func (a *API) identity(c *gin.Context) (*auth.Identity, *checkout.Error) {
	raw := token(c)
	if raw == "" {
		return nil, nil
	}

	// token verification counts against the authentication quota
	if res := a.limiter.Check(ratelimit.ActionAuth, c.ClientIP()); !res.Allowed {
		return nil, checkout.ErrRateLimited(res.ResetAt)
	}

	ident, err := a.auth.Authenticate(c.Request.Context(), raw, false)
	if err != nil {
		return nil, mapAuthError(err)
	}
	return ident, nil
}

func mapAuthError(err error) *checkout.Error {
	code := "INVALID_TOKEN"
	message := "Session is invalid or expired"
	switch {
	case errors.Is(err, auth.ErrAuthRequired):
		code, message = "AUTH_REQUIRED", "Authentication required"
	case errors.Is(err, auth.ErrUserNotFound):
		code, message = "USER_NOT_FOUND", "Account no longer exists"
	case errors.Is(err, auth.ErrEmailNotVerified):
		code, message = "EMAIL_NOT_VERIFIED", "Email address has not been verified"
	case errors.Is(err, auth.ErrInvalidToken):
		// defaults
	default:
		return &checkout.Error{Kind: checkout.KindInternal, Code: "INTERNAL", Message: "Something went wrong"}
	}
	return &checkout.Error{Kind: checkout.KindAuthentication, Code: code, Message: message}
}

// submitCheckout is the authenticated-or-guest entry point.
func (a *API) submitCheckout(c *gin.Context) {
	ident, aerr := a.identity(c)
	if aerr != nil {
		a.fail(c, aerr)
		return
	}

	callerKey := c.ClientIP()
	if ident != nil {
		callerKey = ident.CustomerID
	}
	if res := a.limiter.Check(ratelimit.ActionCheckout, callerKey); !res.Allowed {
		a.fail(c, checkout.ErrRateLimited(res.ResetAt))
		return
	}

	a.handleSubmit(c, ident)
}

// submitGuestCheckout is the guest-only entry point: rate limiting runs
// before any other processing and a guest email is mandatory.
func (a *API) submitGuestCheckout(c *gin.Context) {
	if res := a.limiter.Check(ratelimit.ActionCheckout, c.ClientIP()); !res.Allowed {
		a.fail(c, checkout.ErrRateLimited(res.ResetAt))
		return
	}

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, &checkout.Error{
			Kind: checkout.KindValidation, Code: "INVALID_BODY",
			Message: "Request body is malformed",
		})
		return
	}
	if strings.TrimSpace(req.GuestEmail) == "" {
		a.fail(c, &checkout.Error{
			Kind: checkout.KindValidation, Code: "MISSING_GUEST_EMAIL",
			Message: "Guest checkout requires a guest email",
		})
		return
	}

	a.submit(c, &req, nil)
}

func (a *API) handleSubmit(c *gin.Context, ident *auth.Identity) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, &checkout.Error{
			Kind: checkout.KindValidation, Code: "INVALID_BODY",
			Message: "Request body is malformed",
		})
		return
	}
	a.submit(c, &req, ident)
}

func (a *API) submit(c *gin.Context, req *models.CheckoutRequest, ident *auth.Identity) {
	order, cerr := a.svc.Submit(c.Request.Context(), req, ident)
	if cerr != nil {
		a.fail(c, cerr)
		return
	}

	c.JSON(http.StatusCreated, models.CheckoutResponse{
		Success:      true,
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		Total:        order.Total,
		Status:       order.Status,
		IsGuestOrder: order.IsGuest(),
	})
}

// getOrder returns a committed order to its owner: the authenticated
// customer, or a guest presenting the matching email. Ownership misses
// return 404 so order ids don't leak.
func (a *API) getOrder(c *gin.Context) {
	ident, aerr := a.identity(c)
	if aerr != nil {
		a.fail(c, aerr)
		return
	}

	id := sanitize.UUID(c.Param("orderId"))
	if id == "" {
		a.fail(c, &checkout.Error{
			Kind: checkout.KindValidation, Code: "INVALID_ORDER_ID",
			Message: "Order id is malformed",
		})
		return
	}

	order, items, err := a.store.Order(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		a.orderNotFound(c)
		return
	}
	if err != nil {
		a.fail(c, &checkout.Error{Kind: checkout.KindInternal, Code: "INTERNAL", Message: "Something went wrong"})
		return
	}

	owns := false
	switch {
	case ident != nil && order.CustomerID == ident.CustomerID:
		owns = true
	case order.IsGuest() && sanitize.Email(c.Query("guest_email")) == order.GuestEmail:
		owns = true
	}
	if !owns {
		a.orderNotFound(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   order,
		"items":   items,
	})
}

func (a *API) orderNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, models.ErrorResponse{
		Success: false,
		Error:   "Order not found",
		Type:    checkout.KindNotFound.String(),
		Code:    "ORDER_NOT_FOUND",
	})
}

// fail writes the structured rejection. Internal causes are logged with the
// request id and never echoed to the caller.
func (a *API) fail(c *gin.Context, cerr *checkout.Error) {
	if cerr.Kind == checkout.KindInternal {
		log.WithFields(log.Fields{
			"request_id": c.GetString(requestIDKey),
			"path":       c.FullPath(),
			"error":      cerr.Error(),
		}).Error("Checkout request failed")
	}
	c.JSON(cerr.HTTPStatus(), cerr.Response())
}
