package auth

import (
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/database-ai/internal/errors"
	"github.com/seanankenbruck/database-ai/internal/observability"
)

// Context keys set by the middleware for downstream handlers
const (
	ContextClientID  = "client_id"
	ContextSessionID = "session_id"
)

// RequireAPIKey authenticates the X-API-Key header (api_key query parameter
// as a fallback) and rate limits per client. When anonymous access is
// configured, requests without a key pass through rate limited by IP.
func (a *Authenticator) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		observability.GetGlobalMetrics().Inc(observability.MetricAuthAttempts, nil)

		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.Query("api_key")
		}

		var clientID string
		if key == "" && a.cfg.AllowAnonymous {
			clientID = "ip:" + c.ClientIP()
		} else {
			id, err := a.ValidateAPIKey(key)
			if err != nil {
				observability.GetGlobalMetrics().Inc(observability.MetricAuthFailure, nil)
				a.logger.Warn(c.Request.Context(), "Rejected API key", map[string]interface{}{
					"path":      c.Request.URL.Path,
					"client_ip": c.ClientIP(),
				})
				AbortWithError(c, err)
				return
			}
			clientID = id
			observability.GetGlobalMetrics().Inc(observability.MetricAuthSuccess, nil)
		}

		if !a.limiter.Allow(clientID) {
			AbortWithError(c, errors.NewRateLimitedError(a.cfg.RateLimit))
			return
		}

		c.Set(ContextClientID, clientID)
		c.Next()
	}
}

// RequireSession authenticates the Bearer session token and exposes the
// bound session ID to handlers
func (a *Authenticator) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			AbortWithError(c, errors.NewNotAuthenticatedError())
			return
		}

		claims, err := a.ValidateSessionToken(parts[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(ContextSessionID, claims.SessionID)
		if claims.ClientID != "" {
			c.Set(ContextClientID, claims.ClientID)
		}
		c.Next()
	}
}

// RequireAdmin gates admin endpoints behind the bcrypt-verified admin key
func (a *Authenticator) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.ValidateAdminKey(c.GetHeader("X-Admin-Key")) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{"message": "Admin key required"},
			})
			return
		}
		c.Next()
	}
}

// AbortWithError renders an error with its mapped HTTP status and stops the
// handler chain. Enhanced errors keep their code and suggestion in the body.
func AbortWithError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	var enhanced *errors.EnhancedError
	if stderrors.As(err, &enhanced) {
		c.AbortWithStatusJSON(status, gin.H{"error": enhanced})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"message": err.Error()}})
}

// ClientID returns the client label set by RequireAPIKey, or an empty string
func ClientID(c *gin.Context) string {
	id, _ := c.Get(ContextClientID)
	s, _ := id.(string)
	return s
}

// SessionID returns the session bound by RequireSession, or an empty string
func SessionID(c *gin.Context) string {
	id, _ := c.Get(ContextSessionID)
	s, _ := id.(string)
	return s
}
