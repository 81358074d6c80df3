package delivery

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	authdelivery "clubnotify/internal/auth/delivery"
	"clubnotify/internal/subscription/domain"
	"clubnotify/internal/subscription/repository"
)

// SubscriptionHandler handles subscription HTTP requests
type SubscriptionHandler struct {
	repo repository.SubscriptionRepository
}

func NewSubscriptionHandler(repo repository.SubscriptionRepository) *SubscriptionHandler {
	return &SubscriptionHandler{repo: repo}
}

// RegisterRequest carries one endpoint. Which fields are required depends
// on Channel.
type RegisterRequest struct {
	UserID   string `json:"user_id"`
	Channel  string `json:"channel" binding:"required"`
	Token    string `json:"token"`
	Platform string `json:"platform"`
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	Email string `json:"email"`
}

func (r *RegisterRequest) endpoint() (domain.Endpoint, error) {
	ch, err := domain.ParseChannel(r.Channel)
	if err != nil {
		return nil, err
	}
	switch ch {
	case domain.ChannelNativePush:
		return domain.NativeEndpoint{Token: r.Token, Platform: domain.Platform(r.Platform)}, nil
	case domain.ChannelWebPush:
		return domain.WebEndpoint{URL: r.Endpoint, P256dh: r.Keys.P256dh, Auth: r.Keys.Auth}, nil
	default:
		return domain.EmailEndpoint{Address: r.Email}, nil
	}
}

// RegisterSubscription stores or refreshes an endpoint for the caller.
// Admins may register on behalf of another user.
// POST /api/subscriptions
func (h *SubscriptionHandler) RegisterSubscription(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, ok := h.resolveUser(c, req.UserID)
	if !ok {
		return
	}
	endpoint, err := req.endpoint()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.repo.Register(c.Request.Context(), &domain.Subscription{UserID: userID, Endpoint: endpoint})
	if err != nil {
		if errors.Is(err, domain.ErrMalformed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       sub.ID,
		"channel":  sub.Channel(),
		"platform": sub.Platform(),
		"status":   sub.Status,
	})
}

// UnregisterSubscription deactivates an endpoint
// DELETE /api/subscriptions/:id
func (h *SubscriptionHandler) UnregisterSubscription(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := h.repo.Get(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
		return
	}
	if _, ok := h.resolveUser(c, sub.UserID); !ok {
		return
	}

	changed, err := h.repo.Deactivate(ctx, sub.ID, domain.ReasonUnregistered, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": sub.ID, "deactivated": changed})
}

// ListSubscriptions returns the caller's subscriptions, or another user's
// for admins
// GET /api/subscriptions?user_id=&active=true
func (h *SubscriptionHandler) ListSubscriptions(c *gin.Context) {
	userID, ok := h.resolveUser(c, c.Query("user_id"))
	if !ok {
		return
	}
	subs, err := h.repo.ListByUser(c.Request.Context(), userID, c.Query("active") == "true")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(subs))
	for _, s := range subs {
		out = append(out, gin.H{
			"id":              s.ID,
			"channel":         s.Channel(),
			"platform":        s.Platform(),
			"status":          s.Status,
			"last_used_at":    s.LastUsedAt,
			"created_at":      s.CreatedAt,
			"inactive_reason": s.InactiveReason,
		})
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": out, "total": len(out)})
}

// resolveUser returns the user a request acts on. Members may only act on
// themselves.
func (h *SubscriptionHandler) resolveUser(c *gin.Context, requested string) (string, bool) {
	p := authdelivery.PrincipalFrom(c)
	if p == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return "", false
	}
	if requested == "" || requested == p.UserID {
		return p.UserID, true
	}
	if !p.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot manage another user's subscriptions"})
		return "", false
	}
	return requested, true
}
