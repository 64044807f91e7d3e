package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/raineandseaweb/raineandsea-sub002/internal/auth"
	"github.com/raineandseaweb/raineandsea-sub002/internal/checkout"
	"github.com/raineandseaweb/raineandsea-sub002/internal/config"
	"github.com/raineandseaweb/raineandsea-sub002/internal/httpapi"
	"github.com/raineandseaweb/raineandsea-sub002/internal/models"
	"github.com/raineandseaweb/raineandsea-sub002/internal/notify"
	"github.com/raineandseaweb/raineandsea-sub002/internal/ratelimit"
	"github.com/raineandseaweb/raineandsea-sub002/internal/store"
)

func init() {
	// Initialize logger
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
}

func main() {
	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize store")
	}

	limiter := ratelimit.New(ratelimit.DefaultQuotas())
	limiter.StartJanitor(ctx, cfg.RateLimitJanitorInterval)

	dispatcher := notify.NewDispatcher(cfg.NotifyEmailURL, cfg.NotifyAnalyticsURL, cfg.NotifyQueueSize, cfg.NotifyWorkers)

	authn := auth.New([]byte(cfg.AuthSecret), st, cfg.SessionTTL)
	svc := checkout.NewService(st, dispatcher, cfg.CommitTimeout)

	api := httpapi.NewAPI(cfg, svc, authn, limiter, st)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.Router(),
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("Checkout service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	if !dispatcher.Drain(shutdownCtx) {
		log.Warn("Notification queue not empty at shutdown")
	}
	dispatcher.Stop()

	log.Info("Checkout service stopped")
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		return store.NewPostgres(ctx, cfg.DatabaseURL)
	case config.BackendMemory:
		mem := store.NewMemory()
		seedSampleCatalog(mem)
		log.Warn("Using in-memory store, data is not durable")
		return mem, nil
	default:
		return nil, errors.New("unknown store backend: " + cfg.StoreBackend)
	}
}

// seedSampleCatalog loads a small demo catalog so the memory backend is
// usable out of the box.
func seedSampleCatalog(mem *store.Memory) {
	mem.SeedProduct(models.Product{
		ID:        "7b1c4c1e-8a9f-4f3b-9a6d-0c2f5e8d1a01",
		Title:     "Sea Glass Pendant",
		BasePrice: decimal.RequireFromString("10.00"),
		Currency:  "USD",
		Options: []models.ProductOption{
			{
				Name: "Chain",
				Values: []models.OptionValue{
					{Name: "Silver", PriceAdjustment: decimal.Zero},
					{Name: "Gold", PriceAdjustment: decimal.RequireFromString("5.00")},
				},
			},
		},
	}, 25)
	mem.SeedProduct(models.Product{
		ID:        "3f9e2d7a-6b5c-4e1d-8f0a-9c4b2e7d1a02",
		Title:     "Driftwood Frame",
		BasePrice: decimal.RequireFromString("25.00"),
		Currency:  "USD",
	}, 12)
	mem.SeedProduct(models.Product{
		ID:        "d4a8f1b3-2e6c-4d9a-b7e5-1f0c8a3b2c03",
		Title:     "Tide Ring",
		BasePrice: decimal.RequireFromString("15.00"),
		Currency:  "USD",
	}, 8)
	mem.SeedCustomer(models.Customer{
		ID:            "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c05",
		Email:         "demo@example.com",
		EmailVerified: true,
	})
}
