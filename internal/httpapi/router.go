package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raineandseaweb/raineandsea-sub002/internal/metrics"
)

// Router builds the gin engine with the full middleware chain and routes.
func (a *API) Router() *gin.Engine {
	gin.EnableJsonDecoderDisallowUnknownFields()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(metrics.PrometheusMiddleware("checkout-service"))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "checkout-service"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(a.apiRateLimit())
	{
		api.POST("/checkout", a.submitCheckout)
		api.POST("/checkout/guest", a.submitGuestCheckout)
		api.GET("/orders/:orderId", a.getOrder)
	}

	return r
}
