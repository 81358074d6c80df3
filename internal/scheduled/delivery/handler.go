package delivery

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	authdelivery "clubnotify/internal/auth/delivery"
	notifdomain "clubnotify/internal/notification/domain"
	"clubnotify/internal/scheduled/domain"
	"clubnotify/internal/scheduled/usecase"
)

// ScheduledHandler handles scheduled notification HTTP requests
type ScheduledHandler struct {
	usecase usecase.ScheduledUsecase
}

func NewScheduledHandler(uc usecase.ScheduledUsecase) *ScheduledHandler {
	return &ScheduledHandler{usecase: uc}
}

type ScheduleRequest struct {
	SendAt    time.Time           `json:"send_at" binding:"required"`
	UserIDs   []string            `json:"user_ids"`
	SegmentID string              `json:"segment_id"`
	Payload   notifdomain.Payload `json:"payload"`
}

// CreateScheduled schedules a notification
// POST /api/scheduled
func (h *ScheduledHandler) CreateScheduled(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n := &domain.ScheduledNotification{
		SendAt:    req.SendAt,
		UserIDs:   req.UserIDs,
		SegmentID: req.SegmentID,
		Payload:   req.Payload,
	}
	if p := authdelivery.PrincipalFrom(c); p != nil {
		n.CreatedBy = p.UserID
	}

	created, err := h.usecase.Schedule(c.Request.Context(), n)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// ListScheduled lists scheduled notifications
// GET /api/scheduled?status=pending&limit=50
func (h *ScheduledHandler) ListScheduled(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	items, err := h.usecase.List(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scheduled": items, "total": len(items)})
}

// GetScheduled returns one scheduled notification
// GET /api/scheduled/:id
func (h *ScheduledHandler) GetScheduled(c *gin.Context) {
	n, err := h.usecase.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// CancelScheduled cancels a pending notification
// DELETE /api/scheduled/:id
func (h *ScheduledHandler) CancelScheduled(c *gin.Context) {
	n, err := h.usecase.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Scheduled notification not found"})
	case errors.Is(err, domain.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, notifdomain.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
