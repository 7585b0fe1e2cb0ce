package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the public health check and the authenticated v1 API.
func RegisterRoutes(r *gin.Engine, app App, authMiddleware gin.HandlerFunc) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1", authMiddleware)
	v1.GET("/me", GetMe(app))
	v1.POST("/sleep/start", PostStart(app))
	v1.POST("/sleep/stop", PostStop(app))
	v1.GET("/sleep/active", GetActive(app))
	v1.POST("/sleep/motion", PostMotionWindow(app))
	v1.GET("/sleep/history", GetHistory(app))
	v1.GET("/sleep/sampling", GetSampling(app))
	v1.GET("/streak", GetStreak(app))
	v1.PUT("/tracking", PutTracking(app))
}
