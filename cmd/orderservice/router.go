package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"orderpay-backend/internal/shared/middleware"
	"orderpay-backend/pkg/container"
)

func SetupRouter(c *container.OrderContainer) *gin.Engine {
	router := gin.New()

	// Global middlewares
	router.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
	)

	v1 := router.Group("/api/v1")
	{
		// Health check
		v1.GET("/health", healthCheckHandler(c))

		setupOrderRoutes(v1, c)
	}

	return router
}

// ========================================
// ORDER ROUTES
// ========================================
func setupOrderRoutes(v1 *gin.RouterGroup, c *container.OrderContainer) {
	c.OrderHandler.RegisterRoutes(v1)
}

// ========================================
// HEALTH CHECK
// ========================================
func healthCheckHandler(c *container.OrderContainer) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		status := http.StatusOK
		checks := gin.H{"database": "ok"}

		if err := c.DB.HealthCheck(ctx.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			checks["database"] = err.Error()
		}

		ctx.JSON(status, gin.H{
			"service":     c.Config.App.Name,
			"version":     c.Config.App.Version,
			"environment": c.Config.App.Environment,
			"checks":      checks,
		})
	}
}
