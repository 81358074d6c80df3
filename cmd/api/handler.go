package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	authUsecase "clubnotify/internal/auth/usecase"
	cleanupDelivery "clubnotify/internal/cleanup/delivery"
	notificationDelivery "clubnotify/internal/notification/delivery"
	scheduledDelivery "clubnotify/internal/scheduled/delivery"
	segmentDelivery "clubnotify/internal/segment/delivery"
	subscriptionDelivery "clubnotify/internal/subscription/delivery"
)

// Handler groups every HTTP handler the API serves.
type Handler struct {
	AuthUsecase       authUsecase.AuthUsecase
	Subscriptions     *subscriptionDelivery.SubscriptionHandler
	Notifications     *notificationDelivery.NotificationHandler
	Segments          *segmentDelivery.SegmentHandler
	Scheduled         *scheduledDelivery.ScheduledHandler
	Cleanup           *cleanupDelivery.CleanupHandler
	Settings          *SettingsHandler
	Logger            zerolog.Logger
	DisableRequestLog bool
}

// Engine builds the gin engine with middleware and all routes attached.
func (h *Handler) Engine(mode string) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if !h.DisableRequestLog {
		r.Use(requestLogger(h.Logger))
	}

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Scheduler-Key")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h)
	return r
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := logger.Info()
		if status >= 500 {
			ev = logger.Error()
		} else if status >= 400 {
			ev = logger.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
