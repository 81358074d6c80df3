package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clubnotify/internal/notification/usecase"
	subdomain "clubnotify/internal/subscription/domain"
)

// SettingsHandler exposes delivery settings that can change at runtime
type SettingsHandler struct {
	cascade usecase.Cascade
}

func NewSettingsHandler(cascade usecase.Cascade) *SettingsHandler {
	return &SettingsHandler{cascade: cascade}
}

// UpdateDeliverySettingsRequest represents the request body for updating delivery settings.
// Channels left out of channel_order are disabled.
type UpdateDeliverySettingsRequest struct {
	ChannelOrder []string `json:"channel_order"`
	RequireAll   *bool    `json:"require_all,omitempty"`
}

// GetDeliverySettings returns the current channel order
// GET /api/settings/delivery
func (h *SettingsHandler) GetDeliverySettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"channel_order": h.cascade.ChannelOrder(),
		"require_all":   h.cascade.RequireAll(),
	})
}

// UpdateDeliverySettings updates delivery settings at runtime
// PUT /api/settings/delivery
func (h *SettingsHandler) UpdateDeliverySettings(c *gin.Context) {
	var req UpdateDeliverySettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.ChannelOrder != nil {
		order := make([]subdomain.Channel, 0, len(req.ChannelOrder))
		for _, s := range req.ChannelOrder {
			ch, err := subdomain.ParseChannel(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			order = append(order, ch)
		}
		if err := h.cascade.SetChannelOrder(order); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.RequireAll != nil {
		h.cascade.SetRequireAll(*req.RequireAll)
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Delivery settings updated successfully",
		"channel_order": h.cascade.ChannelOrder(),
		"require_all":   h.cascade.RequireAll(),
	})
}
