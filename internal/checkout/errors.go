package checkout

import (
	"fmt"
	"net/http"
	"time"

	"github.com/raineandseaweb/raineandsea-sub002/internal/models"
)

// Kind classifies a checkout failure. Callers pattern-match on the kind and
// code rather than parsing message text.
type Kind int

const (
	KindInternal Kind = iota
	KindRateLimit
	KindValidation
	KindAuthentication
	KindStock
	KindNotFound
)

// String returns the taxonomy name used in the response "type" field.
func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "RateLimitError"
	case KindValidation:
		return "ValidationError"
	case KindAuthentication:
		return "AuthenticationError"
	case KindStock:
		return "StockError"
	case KindNotFound:
		return "NotFoundError"
	default:
		return "InternalError"
	}
}

// Error is a typed checkout rejection. Message is always safe to return to
// the caller; internal causes stay in cause and are only logged.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	OutOfStock []models.OutOfStockItem
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the failure kind to a response status. Rate limiting is
// 429, authentication 401, validation and stock problems 400, everything
// else 500.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindValidation, KindStock, KindNotFound:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Response builds the structured rejection body.
func (e *Error) Response() models.ErrorResponse {
	return models.ErrorResponse{
		Success:         false,
		Error:           e.Message,
		Type:            e.Kind.String(),
		Code:            e.Code,
		OutOfStockItems: e.OutOfStock,
	}
}

func errValidation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func errAuth(code, message string) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Message: message}
}

func errStock(items []models.OutOfStockItem) *Error {
	return &Error{
		Kind:       KindStock,
		Code:       "OUT_OF_STOCK",
		Message:    "One or more items in your cart are no longer available in the requested quantity",
		OutOfStock: items,
	}
}

func errInternal(cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    "INTERNAL",
		Message: "Something went wrong processing your order. You have not been charged.",
		cause:   cause,
	}
}

// ErrRateLimited builds the 429 rejection; the reset-time message is
// considered safe to expose.
func ErrRateLimited(resetAt time.Time) *Error {
	return &Error{
		Kind:    KindRateLimit,
		Code:    "RATE_LIMITED",
		Message: fmt.Sprintf("Too many requests. Try again after %s.", resetAt.UTC().Format(time.RFC3339)),
	}
}

// ErrAuthRequired is returned when a request carries neither a session
// token nor a guest email.
func ErrAuthRequired() *Error {
	return errAuth("AUTH_REQUIRED", "Sign in or provide a guest email to check out")
}
