package server

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/repairpay/internal/actorcontext"
	obslogger "github.com/smallbiznis/repairpay/internal/observability/logger"
	"github.com/smallbiznis/repairpay/internal/ratelimit"
	"go.uber.org/zap"
)

var ErrRateLimited = errors.New("rate_limited")

type rateLimiter interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (ratelimit.Result, error)
}

type rateLimit struct {
	scope string
	rate  float64
	burst int
}

var (
	settleRateLimit  = rateLimit{scope: "settle", rate: 0.2, burst: 5}
	payslipRateLimit = rateLimit{scope: "payslip", rate: 1, burst: 10}
)

// limitByActor applies a per-actor token bucket. Limiter failures let the request through.
func (s *Server) limitByActor(limit rateLimit) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		actor := actorcontext.ActorFromContext(ctx)
		key := "repairpay:ratelimit:" + limit.scope + ":" + string(actor.Role) + ":" + actor.ID

		result, err := s.limiter.Allow(ctx, key, limit.rate, limit.burst)
		if err != nil {
			obslogger.FromContext(ctx).Warn("rate limiter unavailable", zap.String("scope", limit.scope), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			seconds := int(result.RetryAfter.Round(time.Second) / time.Second)
			c.Header("Retry-After", strconv.Itoa(max(seconds, 1)))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
