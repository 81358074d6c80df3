package delivery

import (
	"net/http"
	"strings"

	authdomain "clubnotify/internal/auth/domain"
	"clubnotify/internal/auth/usecase"

	"github.com/gin-gonic/gin"
)

// SchedulerKeyHeader carries the shared key of cron callers.
const SchedulerKeyHeader = "X-Scheduler-Key"

func AuthMiddleware(authUsecase usecase.AuthUsecase) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := bearerPrincipal(c, authUsecase)
		if !ok {
			return
		}
		setPrincipal(c, p)
		c.Next()
	}
}

// AdminMiddleware requires a valid token with the admin role.
func AdminMiddleware(authUsecase usecase.AuthUsecase) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := bearerPrincipal(c, authUsecase)
		if !ok {
			return
		}
		if !p.IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			c.Abort()
			return
		}
		setPrincipal(c, p)
		c.Next()
	}
}

// SchedulerOrAdminMiddleware admits cron callers presenting the scheduler
// key, and admins.
func SchedulerOrAdminMiddleware(authUsecase usecase.AuthUsecase) gin.HandlerFunc {
	admin := AdminMiddleware(authUsecase)
	return func(c *gin.Context) {
		if key := c.GetHeader(SchedulerKeyHeader); key != "" {
			if err := authUsecase.VerifySchedulerKey(key); err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid scheduler key"})
				c.Abort()
				return
			}
			setPrincipal(c, &authdomain.Principal{UserID: "scheduler", Role: authdomain.RoleScheduler})
			c.Next()
			return
		}
		admin(c)
	}
}

func bearerPrincipal(c *gin.Context, authUsecase usecase.AuthUsecase) (*authdomain.Principal, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
		c.Abort()
		return nil, false
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
		c.Abort()
		return nil, false
	}

	p, err := authUsecase.ValidateToken(parts[1])
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		c.Abort()
		return nil, false
	}
	return p, true
}

func setPrincipal(c *gin.Context, p *authdomain.Principal) {
	c.Set("principal", p)
	c.Set("userID", p.UserID)
	c.Set("role", p.Role)
}

// PrincipalFrom returns the caller set by one of the middlewares.
func PrincipalFrom(c *gin.Context) *authdomain.Principal {
	v, ok := c.Get("principal")
	if !ok {
		return nil
	}
	p, _ := v.(*authdomain.Principal)
	return p
}
