package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lexfind/lexfind-backend/internal/http/response"
	"github.com/lexfind/lexfind-backend/internal/platform/limiter"
	"github.com/lexfind/lexfind-backend/internal/platform/logger"
)

type RateLimitMiddleware struct {
	log     *logger.Logger
	limiter *limiter.Limiter
}

func NewRateLimitMiddleware(log *logger.Logger, l *limiter.Limiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{log: log.With("middleware", "RateLimitMiddleware"), limiter: l}
}

// Limit applies the per-user fixed window. Must run after RequireAuth so the
// user id is available; unauthenticated requests never reach it.
func (rl *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			response.RespondError(c, http.StatusUnauthorized, "missing_auth", errors.New("authentication required"))
			c.Abort()
			return
		}
		if !rl.limiter.Allow(userID.String()) {
			rl.log.Warn("rate limit exceeded", "user_id", userID)
			response.RespondError(c, http.StatusTooManyRequests, "rate_limited", errors.New("too many requests, slow down"))
			c.Abort()
			return
		}
		c.Next()
	}
}
