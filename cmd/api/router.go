package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clubnotify/internal/auth/delivery"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Subscription routes (members manage their own endpoints)
		subscriptions := api.Group("/subscriptions")
		subscriptions.Use(delivery.AuthMiddleware(h.AuthUsecase))
		{
			subscriptions.POST("", h.Subscriptions.RegisterSubscription)
			subscriptions.GET("", h.Subscriptions.ListSubscriptions)
			subscriptions.DELETE("/:id", h.Subscriptions.UnregisterSubscription)
		}

		// Client-reported engagement
		api.POST("/notifications/events", delivery.AuthMiddleware(h.AuthUsecase), h.Notifications.TrackEvent)

		notifications := api.Group("/notifications")
		notifications.Use(delivery.AdminMiddleware(h.AuthUsecase))
		{
			notifications.POST("/send", h.Notifications.SendToUser)
			notifications.POST("/bulk", h.Notifications.SendBulk)
			notifications.GET("/:id/stats", h.Notifications.GetStats)
		}

		segments := api.Group("/segments")
		segments.Use(delivery.AdminMiddleware(h.AuthUsecase))
		{
			segments.GET("", h.Segments.ListSegments)
			segments.POST("/preview", h.Segments.PreviewSegment)
			segments.POST("/estimate", h.Segments.EstimateSegment)
			segments.GET("/:id", h.Segments.GetSegment)
			segments.PUT("/:id", h.Segments.SaveSegment)
			segments.POST("/:id/send", h.Notifications.SendToSegment)
		}

		scheduled := api.Group("/scheduled")
		scheduled.Use(delivery.AdminMiddleware(h.AuthUsecase))
		{
			scheduled.POST("", h.Scheduled.CreateScheduled)
			scheduled.GET("", h.Scheduled.ListScheduled)
			scheduled.GET("/:id", h.Scheduled.GetScheduled)
			scheduled.DELETE("/:id", h.Scheduled.CancelScheduled)
		}

		// Cleanup routes. The external scheduler authenticates with its key.
		cleanup := api.Group("/cleanup")
		{
			cleanup.POST("/daily", delivery.SchedulerOrAdminMiddleware(h.AuthUsecase), h.Cleanup.RunDaily)
			cleanup.GET("/health", delivery.SchedulerOrAdminMiddleware(h.AuthUsecase), h.Cleanup.GetHealth)
			cleanup.POST("/run", delivery.AdminMiddleware(h.AuthUsecase), h.Cleanup.RunCleanup)
			cleanup.GET("/stats", delivery.AdminMiddleware(h.AuthUsecase), h.Cleanup.GetStats)
		}

		settings := api.Group("/settings")
		settings.Use(delivery.AdminMiddleware(h.AuthUsecase))
		{
			settings.GET("/delivery", h.Settings.GetDeliverySettings)
			settings.PUT("/delivery", h.Settings.UpdateDeliverySettings)
		}
	}
}
