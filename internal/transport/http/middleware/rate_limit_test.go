package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

type fakeRateLimitStore struct {
	trimErr   error
	counts    map[string]int
	oldest    time.Time
	hasOldest bool
	recordErr error

	recorded []string
}

func (f *fakeRateLimitStore) TrimWindow(context.Context, string, time.Duration, time.Time) error {
	return f.trimErr
}

func (f *fakeRateLimitStore) CountAttempts(_ context.Context, key string, _ time.Duration, _ time.Time) (int, error) {
	return f.counts[key], nil
}

func (f *fakeRateLimitStore) RecordAttempt(_ context.Context, key string, _ time.Time) error {
	f.recorded = append(f.recorded, key)
	return f.recordErr
}

func (f *fakeRateLimitStore) OldestAttempt(context.Context, string, time.Duration, time.Time) (time.Time, bool, error) {
	return f.oldest, f.hasOldest, nil
}

var limiterNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedIdentifier(id string) IdentifierFunc {
	return func(*gin.Context) (string, bool) { return id, true }
}

func serveLimited(t *testing.T, store *fakeRateLimitStore, rules ...RateLimitRule) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return limiterNow })

	router := gin.New()
	router.Use(EnrichContext(), limiter.RateLimit(rules...))
	router.POST("/register", func(c *gin.Context) { c.Status(http.StatusCreated) })

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/register", nil))
	return rr
}

func TestRateLimiterAllowsBelowLimit(t *testing.T) {
	oldest := limiterNow.Add(-30 * time.Second)
	store := &fakeRateLimitStore{
		counts:    map[string]int{"register:198.51.100.4": 2},
		oldest:    oldest,
		hasOldest: true,
	}

	rr := serveLimited(t, store, RateLimitRule{Name: "register", Limit: 5, Window: time.Minute, Identifier: fixedIdentifier("198.51.100.4")})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if len(store.recorded) != 1 || store.recorded[0] != "register:198.51.100.4" {
		t.Fatalf("unexpected recorded keys %v", store.recorded)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Fatalf("expected remaining 2, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(oldest.Add(time.Minute).Unix(), 10) {
		t.Fatalf("unexpected reset header %q", got)
	}
	if rr.Header().Get("Retry-After") != "" {
		t.Fatalf("did not expect Retry-After on allowed request")
	}
}

func TestRateLimiterRejectsAtLimit(t *testing.T) {
	store := &fakeRateLimitStore{
		counts:    map[string]int{"register:198.51.100.4": 5},
		oldest:    limiterNow.Add(-45 * time.Second),
		hasOldest: true,
	}

	rr := serveLimited(t, store, RateLimitRule{Name: "register", Limit: 5, Window: time.Minute, Identifier: fixedIdentifier("198.51.100.4")})

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if len(store.recorded) != 0 {
		t.Fatalf("rejected request must not be recorded")
	}
	if got := rr.Header().Get("Retry-After"); got != "15" {
		t.Fatalf("expected Retry-After 15, got %q", got)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if problem.RetryAfter != 15 || problem.Instance != "/register" || problem.TraceID == "" {
		t.Fatalf("unexpected problem body %+v", problem)
	}
}

func TestRateLimiterReportsTightestRule(t *testing.T) {
	store := &fakeRateLimitStore{counts: map[string]int{
		"burst:ip":  1,
		"hourly:ip": 8,
	}}

	rr := serveLimited(t, store,
		RateLimitRule{Name: "burst", Limit: 5, Window: time.Minute, Identifier: fixedIdentifier("ip")},
		RateLimitRule{Name: "hourly", Limit: 10, Window: time.Hour, Identifier: fixedIdentifier("ip")},
	)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Fatalf("expected hourly rule in headers, got limit %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Fatalf("expected remaining 1, got %q", got)
	}
}

func TestRateLimiterFailsOpenOnStoreError(t *testing.T) {
	store := &fakeRateLimitStore{trimErr: errors.New("redis down")}

	rr := serveLimited(t, store, RateLimitRule{Name: "register", Limit: 1, Window: time.Minute, Identifier: fixedIdentifier("ip")})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected request to pass when store fails, got %d", rr.Code)
	}
	if len(store.recorded) != 0 {
		t.Fatalf("no attempt should be recorded on store failure")
	}
}

func TestRateLimiterSkipsUnusableRules(t *testing.T) {
	store := &fakeRateLimitStore{}

	rr := serveLimited(t, store,
		RateLimitRule{Name: "no-limit", Window: time.Minute, Identifier: fixedIdentifier("ip")},
		RateLimitRule{Name: "no-identifier", Limit: 1, Window: time.Minute},
	)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if len(store.recorded) != 0 || rr.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatalf("unusable rules should be ignored")
	}
}
