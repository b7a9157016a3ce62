package ratelimit

import (
	"fmt"

	"funnel-server/internal/apierrors"
	"funnel-server/internal/observability"

	"github.com/gin-gonic/gin"
)

// GlobalMiddleware enforces the shared request budget across the public API.
// A failed check lets the request through; throttling must never take the
// funnel down with it.
func (s *Service) GlobalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		result, err := s.CheckGlobal(ctx)
		if err != nil {
			s.logger.Error(ctx, "global rate limit check failed", err)
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)
		if !result.Allowed {
			s.logger.Warn(ctx, "global rate limit exceeded",
				observability.Field{Key: "retry_after_ms", Value: result.RetryAfterMs},
			)
			apierrors.TooManyRequests(c, "RATE_LIMIT_EXCEEDED",
				"Too many requests. Please try again later.", result.RetryAfterSeconds())
			c.Abort()
			return
		}

		c.Next()
	}
}

// IPMiddleware enforces the per-IP budget on lead submission routes.
func (s *Service) IPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ip := observability.GetRealClientIP(c)

		result, err := s.CheckIP(ctx, ip)
		if err != nil {
			s.logger.Error(ctx, "IP rate limit check failed", err)
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)
		if !result.Allowed {
			s.logger.Warn(ctx, "IP rate limit exceeded",
				observability.Field{Key: "client_ip", Value: ip},
				observability.Field{Key: "retry_after_ms", Value: result.RetryAfterMs},
			)
			apierrors.TooManyRequests(c, "RATE_LIMIT_EXCEEDED",
				"Too many requests. Please try again later.", result.RetryAfterSeconds())
			c.Abort()
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, result RateLimitResult) {
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
	c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetAt.Unix()))
}
