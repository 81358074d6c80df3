package delivery

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"clubnotify/internal/segment/domain"
	"clubnotify/internal/segment/usecase"
)

// SegmentHandler handles segment HTTP requests
type SegmentHandler struct {
	engine usecase.Engine
}

func NewSegmentHandler(engine usecase.Engine) *SegmentHandler {
	return &SegmentHandler{engine: engine}
}

// SegmentRequest is the body accepted by save, preview and estimate.
type SegmentRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Logic       string             `json:"logic"`
	Filters     []domain.FilterDef `json:"filters"`
}

func (r SegmentRequest) builder() (*usecase.Builder, error) {
	logic, err := domain.ParseLogic(r.Logic)
	if err != nil {
		return nil, err
	}
	return usecase.FromDefinitions(logic, r.Filters), nil
}

// ListSegments returns every saved segment
// GET /api/segments
func (h *SegmentHandler) ListSegments(c *gin.Context) {
	segments, err := h.engine.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"segments": segments, "total": len(segments)})
}

// GetSegment returns one saved segment
// GET /api/segments/:id
func (h *SegmentHandler) GetSegment(c *gin.Context) {
	seg, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, seg)
}

// SaveSegment creates or replaces a segment
// PUT /api/segments/:id
func (h *SegmentHandler) SaveSegment(c *gin.Context) {
	var req SegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	b, err := req.builder()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	seg, err := h.engine.Save(c.Request.Context(), c.Param("id"), req.Name, req.Description, b)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, seg)
}

// PreviewSegment evaluates an unsaved filter set
// POST /api/segments/preview
func (h *SegmentHandler) PreviewSegment(c *gin.Context) {
	var req SegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := req.builder()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	users, err := h.engine.Execute(c.Request.Context(), b)
	if err != nil {
		writeError(c, err)
		return
	}
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	c.JSON(http.StatusOK, gin.H{"user_ids": ids, "total": len(ids)})
}

// EstimateSegment counts an unsaved filter set
// POST /api/segments/estimate
func (h *SegmentHandler) EstimateSegment(c *gin.Context) {
	var req SegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := req.builder()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := h.engine.EstimateSize(c.Request.Context(), b)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"estimated_size": n})
}

func writeError(c *gin.Context, err error) {
	var verr *usecase.ValidationError
	switch {
	case errors.Is(err, domain.ErrSegmentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Segment not found"})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
