package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calonkonglo/rwa-lending-platform/internal/api/handler"
	"github.com/calonkonglo/rwa-lending-platform/internal/api/middleware"
	"github.com/calonkonglo/rwa-lending-platform/internal/service/lending"
	jwtpkg "github.com/calonkonglo/rwa-lending-platform/pkg/jwt"
)

// Config holds router configuration
type Config struct {
	JWTSecret string
	JWTExpiry time.Duration
	Engine    *lending.Engine
	Query     *lending.QueryService
	Registry  *prometheus.Registry
}

// Setup sets up the Gin router
func Setup(cfg *Config) *gin.Engine {
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if cfg.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	}

	// JWT manager
	jwtManager := jwtpkg.NewManager(cfg.JWTSecret, cfg.JWTExpiry)

	// Public API endpoints (no authentication required)
	publicAPI := r.Group("/api/v1")
	{
		priceHandler := handler.NewPriceHandler(cfg.Query)
		publicAPI.GET("/price", priceHandler.GetPrice)
	}

	// Protected API endpoints (authentication required)
	protectedAPI := r.Group("/api/v1")
	protectedAPI.Use(middleware.AuthMiddleware(jwtManager))
	{
		positionHandler := handler.NewPositionHandler(cfg.Engine, cfg.Query)
		protectedAPI.POST("/positions/collateral/lock", positionHandler.LockCollateral)
		protectedAPI.POST("/positions/collateral/unlock", positionHandler.UnlockCollateral)
		protectedAPI.POST("/positions/borrow", positionHandler.Borrow)
		protectedAPI.POST("/positions/repay", positionHandler.Repay)
		protectedAPI.GET("/positions/me", positionHandler.GetPosition)
	}

	return r
}
