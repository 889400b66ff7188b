package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, corsOrigins []string, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(RequestID())
	router.Use(Recovery(logger))
	router.Use(Tracing())
	router.Use(CORS(corsOrigins))
	router.Use(Logger(logger))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		projects := v1.Group("/projects")
		{
			projects.GET("", handler.ListProjects)
			projects.POST("", handler.RegisterProject)
			projects.GET("/:id", handler.GetProject)

			// Metrics
			projects.GET("/:id/four-keys", handler.GetFourKeys)
			projects.GET("/:id/cycle-time", handler.GetCycleTime)
			projects.GET("/:id/team-activity", handler.GetTeamActivity)

			// Manual sync
			projects.POST("/:id/refresh", handler.RefreshProject)
		}
	}

	return router
}
