package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/core/port"
)

const (
	rateLimitProblemType  = "https://patient-portal.example.com/problems/too-many-requests"
	rateLimitProblemTitle = "Too Many Requests"
)

// IdentifierFunc extracts the key a rule is scoped to, e.g. the client IP.
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule configures a sliding-window limit.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

func (r RateLimitRule) usable() bool {
	return r.Identifier != nil && r.Limit > 0 && r.Window > 0
}

// RateLimiter enforces sliding-window rules against a shared store.
type RateLimiter struct {
	store  port.RateLimitStore
	logger *zap.Logger
	now    func() time.Time
}

type decision struct {
	name       string
	allowed    bool
	limit      int
	remaining  int
	reset      time.Time
	retryAfter time.Duration
}

// tighter reports whether d should replace other in the response headers.
func (d decision) tighter(other decision) bool {
	if d.allowed != other.allowed {
		return !d.allowed
	}
	if d.remaining != other.remaining {
		return d.remaining < other.remaining
	}
	return d.reset.Before(other.reset)
}

func (d decision) retrySeconds() int {
	return max(int(math.Ceil(d.retryAfter.Seconds())), 0)
}

// ProblemDetails is the RFC 9457 body returned on 429.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{store: store, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier scopes a rule to the caller's IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		return ip, ip != ""
	}
}

// RateLimit returns a middleware enforcing every usable rule. Store errors fail open.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	active := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.usable() {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		active = append(active, rule)
	}

	return func(c *gin.Context) {
		if rl.store == nil || len(active) == 0 {
			c.Next()
			return
		}

		now := rl.now()
		var strictest *decision

		for _, rule := range active {
			id, ok := rule.Identifier(c)
			if !ok || strings.TrimSpace(id) == "" {
				continue
			}

			d, err := rl.decide(c, rule, rule.Name+":"+id, now)
			if err != nil {
				rl.logger.Warn("rate limit check failed",
					zap.String("rule", rule.Name),
					zap.Error(err),
				)
				continue
			}

			if !d.allowed {
				writeRateLimitHeaders(c, d)
				rl.reject(c, d)
				return
			}
			if strictest == nil || d.tighter(*strictest) {
				strictest = &d
			}
		}

		if strictest != nil {
			writeRateLimitHeaders(c, *strictest)
		}
		c.Next()
	}
}

func (rl *RateLimiter) decide(c *gin.Context, rule RateLimitRule, key string, now time.Time) (decision, error) {
	ctx := c.Request.Context()

	if err := rl.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
		return decision{}, fmt.Errorf("trim window: %w", err)
	}
	count, err := rl.store.CountAttempts(ctx, key, rule.Window, now)
	if err != nil {
		return decision{}, fmt.Errorf("count attempts: %w", err)
	}
	oldest, seen, err := rl.store.OldestAttempt(ctx, key, rule.Window, now)
	if err != nil {
		return decision{}, fmt.Errorf("oldest attempt: %w", err)
	}

	d := decision{name: rule.Name, limit: rule.Limit, allowed: true, reset: now.Add(rule.Window)}
	if seen {
		d.reset = oldest.Add(rule.Window)
	}
	d.retryAfter = max(d.reset.Sub(now), 0)

	if count >= rule.Limit {
		d.allowed = false
		return d, nil
	}

	if err := rl.store.RecordAttempt(ctx, key, now); err != nil {
		return decision{}, fmt.Errorf("record attempt: %w", err)
	}
	d.remaining = max(rule.Limit-count-1, 0)
	return d, nil
}

func writeRateLimitHeaders(c *gin.Context, d decision) {
	h := c.Writer.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.reset.Unix(), 10))
	if !d.allowed {
		h.Set("Retry-After", strconv.Itoa(d.retrySeconds()))
	}
}

func (rl *RateLimiter) reject(c *gin.Context, d decision) {
	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	rl.logger.Info("rate limit exceeded",
		zap.String("rule", d.name),
		zap.String("route", instance),
	)

	seconds := d.retrySeconds()
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
