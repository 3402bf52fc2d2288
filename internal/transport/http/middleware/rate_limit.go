package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/ratelimit"
)

const (
	rateLimitProblemType  = "https://roomiesplit.example.com/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// IdentifierFunc extracts the identifier used to scope rate limits (e.g., client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule binds a limiter rule to the request attribute it is keyed on.
type RateLimitRule struct {
	ratelimit.Rule
	Identifier IdentifierFunc
}

type RateLimiter struct {
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

// NewRateLimiter wraps a limiter as Gin middleware.
func NewRateLimiter(limiter *ratelimit.Limiter, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{limiter: limiter, logger: logger}
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		if ip == "" {
			return "", false
		}
		return ip, true
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules. Store
// failures are logged and the request proceeds.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	filtered := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || !rule.Enabled() {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		filtered = append(filtered, rule)
	}

	return func(c *gin.Context) {
		if len(filtered) == 0 || rl == nil || rl.limiter == nil {
			c.Next()
			return
		}

		var best *ratelimit.Decision
		for _, rule := range filtered {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			decision, err := rl.limiter.Allow(c.Request.Context(), rule.Rule, identifier)
			if err != nil {
				rl.logger.Warn("rate limit check failed", zap.String("rule", rule.Name), zap.Error(err))
				continue
			}

			if !decision.Allowed {
				applyHeaders(c, decision)
				respondRateLimited(c, decision)
				return
			}
			if best == nil || tighter(decision, *best) {
				snapshot := decision
				best = &snapshot
			}
		}

		if best != nil {
			applyHeaders(c, *best)
		}
		c.Next()
	}
}

func tighter(candidate, current ratelimit.Decision) bool {
	if candidate.Remaining != current.Remaining {
		return candidate.Remaining < current.Remaining
	}
	return candidate.Reset.Before(current.Reset)
}

func retrySeconds(d ratelimit.Decision) int {
	seconds := int(math.Ceil(d.RetryAfter.Seconds()))
	if seconds < 0 {
		return 0
	}
	return seconds
}

func applyHeaders(c *gin.Context, d ratelimit.Decision) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

	if !d.Allowed {
		headers.Set("Retry-After", strconv.Itoa(retrySeconds(d)))
	}
}

func respondRateLimited(c *gin.Context, d ratelimit.Decision) {
	seconds := retrySeconds(d)
	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many requests. Try again in %d seconds.", seconds),
		Instance:   instance,
		RetryAfter: seconds,
		TraceID:    GetTraceID(c),
	})
}
