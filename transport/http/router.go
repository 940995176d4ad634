package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/xcafe/backend"
	"github.com/layer-3/xcafe/chains"
	"github.com/sirupsen/logrus"
)

// RouterConfig carries the services and limits behind the API
type RouterConfig struct {
	Auth    *backend.AuthService
	Widgets *backend.WidgetService
	Catalog *chains.Catalog
	Logger  logrus.FieldLogger

	GlobalRateLimit int
	APIRateLimit    int
	RateWindow      time.Duration
}

// SetupRouter sets up the Gin router
func SetupRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = chains.Default()
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = 15 * time.Minute
	}
	if cfg.GlobalRateLimit <= 0 {
		cfg.GlobalRateLimit = 200
	}
	if cfg.APIRateLimit <= 0 {
		cfg.APIRateLimit = 100
	}

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(cfg.Logger))
	router.Use(NewRateLimiter(cfg.GlobalRateLimit, cfg.RateWindow).Middleware())

	h := NewHandlers(cfg.Auth, cfg.Widgets, cfg.Catalog, cfg.Logger)

	api := router.Group("/api")
	api.Use(NewRateLimiter(cfg.APIRateLimit, cfg.RateWindow).Middleware())
	{
		api.POST("/auth/verify", h.Verify)

		api.GET("/system/status", h.Status)
		api.GET("/system/health", h.Health)
		api.POST("/system/setup", AuthMiddleware(cfg.Auth), h.Setup)

		api.GET("/networks", h.Networks)

		api.GET("/users/:address", h.GetUser)
		api.POST("/users", h.CreateUser)
		api.PUT("/users/:address", h.UpdateUser)
	}

	widgets := api.Group("/widgets")
	widgets.Use(AuthMiddleware(cfg.Auth))
	{
		widgets.GET("", h.ListWidgets)
		widgets.POST("", h.CreateWidget)
		widgets.GET("/:id", h.GetWidget)
		widgets.PUT("/:id", h.UpdateWidget)
		widgets.DELETE("/:id", h.DeleteWidget)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found", "path": c.Request.URL.Path})
	})

	return router
}
