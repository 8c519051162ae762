package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/promozone/api/handler"
	"github.com/use-agent/promozone/api/middleware"
	"github.com/use-agent/promozone/config"
	"github.com/use-agent/promozone/metrics"
	"github.com/use-agent/promozone/store"
)

// Deps are the services the HTTP layer talks to.
type Deps struct {
	Runs handler.RunService

	// Store is nil when no warehouse is configured.
	Store store.Store

	Metrics   *metrics.Metrics
	Limiter   *middleware.Limiter
	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Root, metrics and health stay outside auth so probes always work.
func NewRouter(cfg *config.Config, d Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/", handler.Root())
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	// A nil store.Store must become a nil interface for the handlers.
	var pinger handler.Pinger
	var reader handler.ProductReader
	if d.Store != nil {
		pinger, reader = d.Store, d.Store
	}

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(pinger, d.StartTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	if d.Limiter != nil {
		protected.Use(d.Limiter.Middleware())
	}

	// Collection runs
	protected.POST("/collect", handler.PostCollect(d.Runs))
	protected.GET("/collect/:id", handler.GetCollect(d.Runs))
	protected.DELETE("/collect/:id", handler.DeleteCollect(d.Runs))

	// Stored products
	protected.GET("/products/recent", handler.RecentProducts(reader))
	protected.GET("/products/stats", handler.ProductStats(reader))

	return r
}
