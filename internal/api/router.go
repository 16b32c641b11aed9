package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blockgate/hosting/internal/middleware"
	"github.com/blockgate/hosting/pkg/config"
)

// SetupRouter wires every endpoint to its handler behind the shared
// middleware chain. Mutating lifecycle endpoints sit behind the
// expensive-operation limiter; everything under /admin additionally
// requires the admin claim.
func SetupRouter(
	authHandler *AuthHandler,
	serverHandler *ServerHandler,
	portHandler *PortHandler,
	consoleHandler *ConsoleHandler,
	adminHandler *AdminHandler,
	healthHandler *HealthHandler,
	tokens middleware.TokenValidator,
	cfg *config.Config,
) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Metrics())
	router.Use(middleware.RateLimit(middleware.GlobalRateLimiter))

	// CORS for the dashboard frontend.
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	// Unauthenticated operational endpoints.
	router.GET("/health", healthHandler.HealthCheck)
	router.HEAD("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/live", healthHandler.LivenessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := router.Group("/auth")
	auth.Use(middleware.RateLimit(middleware.AuthRateLimiter))
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
	}

	server := router.Group("/server")
	server.Use(middleware.Auth(tokens))
	server.Use(middleware.RateLimit(middleware.APIRateLimiter))
	{
		server.GET("/list", serverHandler.ListServers)
		server.GET("/check-availability", portHandler.CheckAvailability)
		server.POST("/check-subdomain", serverHandler.CheckSubdomain)

		server.GET("/:id", serverHandler.GetServer)
		server.POST("/:id/start", serverHandler.StartServer)
		server.POST("/:id/stop", serverHandler.StopServer)
		server.POST("/:id/command", consoleHandler.ExecuteCommand)

		// Provisioning and teardown touch Portainer, DNS and the proxy
		// fleet, so they get the tighter limiter.
		expensive := server.Group("")
		expensive.Use(middleware.RateLimit(middleware.ExpensiveRateLimiter))
		{
			expensive.POST("/create", serverHandler.CreateServer)
			expensive.POST("/delete", serverHandler.DeleteServer)
		}
	}

	admin := router.Group("/admin")
	admin.Use(middleware.Auth(tokens))
	admin.Use(middleware.RequireAdmin())
	{
		admin.POST("/reconcile", adminHandler.Reconcile)
		admin.GET("/proxies/health", adminHandler.ProxyHealth)
		admin.POST("/ports/reserve", portHandler.ReservePorts)
	}

	return router
}
