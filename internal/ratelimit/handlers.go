package ratelimit

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
)

// HandleStats returns limiter configuration and backend statistics
func (rl *RateLimiter) HandleStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, rl.GetStats())
	}
}

// HandleResetOwner clears the notification budget of the owner in the path
func (rl *RateLimiter) HandleResetOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.Param("owner_id")
		if ownerID == "" {
			_ = c.Error(apperrors.NewValidationError("owner_id is required"))
			return
		}
		if err := rl.ResetOwner(c.Request.Context(), ownerID); err != nil {
			_ = c.Error(apperrors.NewStorageError("reset rate limit", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"owner_id": ownerID, "reset": true})
	}
}

// HandleResetAll clears every budget and per-IP window
func (rl *RateLimiter) HandleResetAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := rl.InvalidateAll(c.Request.Context()); err != nil {
			_ = c.Error(apperrors.NewStorageError("reset rate limits", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"reset": true})
	}
}
