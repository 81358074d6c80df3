package delivery

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	authdelivery "clubnotify/internal/auth/delivery"
	"clubnotify/internal/notification/domain"
	"clubnotify/internal/notification/intake"
	"clubnotify/internal/notification/repository"
	"clubnotify/internal/notification/usecase"
	segdomain "clubnotify/internal/segment/domain"
	segusecase "clubnotify/internal/segment/usecase"
	subdomain "clubnotify/internal/subscription/domain"
)

// RequestPublisher queues a request for the intake subscriber.
type RequestPublisher interface {
	Publish(ctx context.Context, req intake.Request) (string, error)
}

// NotificationHandler handles notification HTTP requests
type NotificationHandler struct {
	cascade   usecase.Cascade
	bulk      usecase.BulkDispatcher
	tracker   usecase.EventTracker
	logs      repository.DeliveryLogRepository
	analytics repository.AnalyticsRepository
	publisher RequestPublisher
}

func NewNotificationHandler(
	cascade usecase.Cascade,
	bulk usecase.BulkDispatcher,
	tracker usecase.EventTracker,
	logs repository.DeliveryLogRepository,
	analytics repository.AnalyticsRepository,
) *NotificationHandler {
	return &NotificationHandler{
		cascade:   cascade,
		bulk:      bulk,
		tracker:   tracker,
		logs:      logs,
		analytics: analytics,
	}
}

// SetPublisher enables async bulk and segment sends.
func (h *NotificationHandler) SetPublisher(p RequestPublisher) {
	h.publisher = p
}

type SendRequest struct {
	UserID     string         `json:"user_id" binding:"required"`
	Mode       domain.Mode    `json:"mode"`
	Channels   []string       `json:"channels"`
	RequireAll bool           `json:"require_all"`
	Payload    domain.Payload `json:"payload"`
}

type BulkRequest struct {
	UserIDs []string       `json:"user_ids"`
	Payload domain.Payload `json:"payload"`
	// Async hands the send to the intake topic and returns immediately.
	Async bool `json:"async"`
}

type SegmentSendRequest struct {
	Payload domain.Payload `json:"payload"`
	Async   bool           `json:"async"`
}

type EventRequest struct {
	Type           string            `json:"type" binding:"required"`
	NotificationID string            `json:"notification_id" binding:"required"`
	UserID         string            `json:"user_id"`
	ClubID         string            `json:"club_id"`
	Channel        string            `json:"channel"`
	Metadata       map[string]string `json:"metadata"`
}

// SendToUser delivers one notification to one user
// POST /api/notifications/send
func (h *NotificationHandler) SendToUser(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	channels := make([]subdomain.Channel, 0, len(req.Channels))
	for _, s := range req.Channels {
		ch, err := subdomain.ParseChannel(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		channels = append(channels, ch)
	}
	ensureNotificationID(&req.Payload)

	res, err := h.cascade.SendToUser(c.Request.Context(), req.UserID, req.Payload, usecase.Options{
		Channels:   channels,
		Mode:       req.Mode,
		RequireAll: req.RequireAll,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notification_id": req.Payload.NotificationID, "result": res})
}

// SendBulk delivers one notification to many users
// POST /api/notifications/bulk
func (h *NotificationHandler) SendBulk(c *gin.Context) {
	var req BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ensureNotificationID(&req.Payload)

	if req.Async {
		h.publish(c, intake.Request{
			RequestID: req.Payload.NotificationID,
			Source:    "admin-api",
			Target:    intake.TargetUsers,
			UserIDs:   req.UserIDs,
			Payload:   req.Payload,
		})
		return
	}

	res, err := h.bulk.SendBulk(c.Request.Context(), req.UserIDs, req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notification_id": req.Payload.NotificationID, "result": res})
}

// SendToSegment delivers one notification to every user in a saved segment
// POST /api/segments/:id/send
func (h *NotificationHandler) SendToSegment(c *gin.Context) {
	var req SegmentSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ensureNotificationID(&req.Payload)
	segmentID := c.Param("id")

	if req.Async {
		h.publish(c, intake.Request{
			RequestID: req.Payload.NotificationID,
			Source:    "admin-api",
			Target:    intake.TargetSegment,
			SegmentID: segmentID,
			Payload:   req.Payload,
		})
		return
	}

	res, err := h.bulk.SendToSegment(c.Request.Context(), segmentID, req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notification_id": req.Payload.NotificationID, "result": res})
}

// TrackEvent records a delivered or clicked event reported by a client
// POST /api/notifications/events
func (h *NotificationHandler) TrackEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := domain.ParseEventType(req.Type)
	if err != nil || (t != domain.EventDelivered && t != domain.EventClicked) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be delivered or clicked"})
		return
	}
	var ch subdomain.Channel
	if req.Channel != "" {
		if ch, err = subdomain.ParseChannel(req.Channel); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	userID := req.UserID
	if p := authdelivery.PrincipalFrom(c); p != nil && !p.IsAdmin() {
		userID = p.UserID
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	accepted := h.tracker.Track(domain.AnalyticsEvent{
		Type:           t,
		NotificationID: req.NotificationID,
		UserID:         userID,
		ClubID:         req.ClubID,
		Channel:        ch,
		Metadata:       req.Metadata,
	})
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

// GetStats returns delivery and engagement counts for a notification
// GET /api/notifications/:id/stats
func (h *NotificationHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	attempts, successes, err := h.logs.CountByNotification(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	events, err := h.analytics.CountByType(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var clickRate float64
	if delivered := events[domain.EventDelivered]; delivered > 0 {
		clickRate = float64(events[domain.EventClicked]) / float64(delivered)
	}
	c.JSON(http.StatusOK, gin.H{
		"notification_id": id,
		"attempts":        attempts,
		"successful":      successes,
		"failed":          attempts - successes,
		"events":          events,
		"click_rate":      clickRate,
	})
}

func (h *NotificationHandler) publish(c *gin.Context, req intake.Request) {
	if h.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async delivery is not configured"})
		return
	}
	msgID, err := h.publisher.Publish(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"notification_id": req.Payload.NotificationID, "message_id": msgID})
}

func ensureNotificationID(p *domain.Payload) {
	if p.NotificationID == "" {
		p.NotificationID = uuid.New().String()
	}
}

func writeError(c *gin.Context, err error) {
	var verr *segusecase.ValidationError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, segdomain.ErrSegmentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Segment not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
