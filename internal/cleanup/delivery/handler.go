package delivery

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"clubnotify/internal/cleanup/domain"
	"clubnotify/internal/cleanup/scheduler"
	"clubnotify/internal/cleanup/usecase"
)

// CleanupHandler handles retention HTTP requests
type CleanupHandler struct {
	janitor   usecase.Janitor
	scheduler *scheduler.CleanupScheduler
}

func NewCleanupHandler(janitor usecase.Janitor, sched *scheduler.CleanupScheduler) *CleanupHandler {
	return &CleanupHandler{janitor: janitor, scheduler: sched}
}

// RunCleanup runs a full sweep now
// POST /api/cleanup/run
func (h *CleanupHandler) RunCleanup(c *gin.Context) {
	summary, err := h.janitor.RunFullCleanup(c.Request.Context(), domain.TriggerManual)
	if errors.Is(err, domain.ErrSweepInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// RunDaily is the entry point for an external cron caller; it applies the
// same retry policy as the in-process schedule
// POST /api/cleanup/daily
func (h *CleanupHandler) RunDaily(c *gin.Context) {
	summary, err := h.scheduler.RunDaily(c.Request.Context())
	if errors.Is(err, domain.ErrSweepInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": summary})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetStats returns collection sizes and the cleanup backlog
// GET /api/cleanup/stats
func (h *CleanupHandler) GetStats(c *gin.Context) {
	stats, err := h.janitor.GetStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetHealth runs the health check over recent sweeps
// GET /api/cleanup/health
func (h *CleanupHandler) GetHealth(c *gin.Context) {
	report, err := h.scheduler.RunWeekly(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
