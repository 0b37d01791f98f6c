// Package httpapi serves the proxy that forwards /api requests to the
// backend.
package httpapi

import (
	"net/http"

	"github.com/VINIA6/CHATAI/internal/httpapi/handlers"
	"github.com/VINIA6/CHATAI/internal/httpapi/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func NewRouter(h *handlers.Handler, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:   []string{middleware.RequestIDHeader},
	}))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not Found", "message": "route not found"})
	})

	r.GET("/health", h.Health)
	r.Any("/api/*path", h.Proxy)
	return r
}
