package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/personaq/internal/metrics"
	"github.com/osvaldoandrade/personaq/internal/ratelimit"
	"github.com/osvaldoandrade/personaq/pkg/config"
)

const HeaderRateLimitRemaining = "X-RateLimit-Remaining"

// RateLimitStartRun throttles run starts per caller. It must run after
// AuthMiddleware so the caller can be keyed by subject; the raw bearer
// token is the fallback key.
func RateLimitStartRun(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	bucket := ratelimit.Bucket(cfg.RateLimit.StartRun)
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}
		caller := firstNonBlank(Subject(c), bearerToken(c.GetHeader("Authorization")))
		if caller == "" {
			c.Next()
			return
		}

		dec, err := lim.Allow(c.Request.Context(), ratelimit.ScopeStartRun, caller, bucket)
		if err != nil {
			GetLogger(c).Warn("rate limit check failed, allowing", "scope", ratelimit.ScopeStartRun, "err", err)
			c.Next()
			return
		}
		if dec.Remaining >= 0 {
			c.Header(HeaderRateLimitRemaining, strconv.Itoa(dec.Remaining))
		}
		if dec.Allowed {
			c.Next()
			return
		}

		retryAfter := int(dec.RetryAfter.Seconds())
		if retryAfter <= 0 {
			retryAfter = 1
		}
		metrics.RateLimitHitsTotal.WithLabelValues(ratelimit.ScopeStartRun, "start_run").Inc()
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "rate limit exceeded",
			"scope":             ratelimit.ScopeStartRun,
			"operation":         "start_run",
			"retryAfterSeconds": retryAfter,
		})
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
