package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/raineandseaweb/raineandsea-sub002/internal/checkout"
	"github.com/raineandseaweb/raineandsea-sub002/internal/ratelimit"
)

const requestIDKey = "request_id"

// RequestID tags every request with an id for log correlation, honoring an
// inbound X-Request-Id when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDKey, reqID)
		c.Writer.Header().Set("X-Request-Id", reqID)
		c.Next()
	}
}

// apiRateLimit applies the general API quota per caller address.
func (a *API) apiRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		res := a.limiter.Check(ratelimit.ActionAPI, c.ClientIP())
		if !res.Allowed {
			cerr := checkout.ErrRateLimited(res.ResetAt)
			c.AbortWithStatusJSON(cerr.HTTPStatus(), cerr.Response())
			return
		}
		c.Next()
	}
}
