package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the gin context key holding the trace ID echoed in error bodies.
	TraceIDKey = "trace_id"

	requestContextKey = "patient_request_context"
)

// RequestContext is the client metadata recorded on audit rows.
type RequestContext struct {
	TraceID   string
	IP        string
	UserAgent string
}

// traceIDFor prefers a caller-supplied ID, then an active span, then a fresh UUID.
func traceIDFor(c *gin.Context) string {
	if id := c.GetHeader(TraceIDHeader); id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}

// EnrichContext stamps every request with a trace ID and captures the client
// address and user agent for auditing.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		meta := &RequestContext{
			TraceID:   traceIDFor(c),
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}

		c.Set(TraceIDKey, meta.TraceID)
		c.Set(requestContextKey, meta)
		c.Header(TraceIDHeader, meta.TraceID)
		c.Next()
	}
}

func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

// GetRequestContext falls back to the raw request when EnrichContext is not installed.
func GetRequestContext(c *gin.Context) *RequestContext {
	if meta, ok := c.Value(requestContextKey).(*RequestContext); ok && meta != nil {
		return meta
	}
	return &RequestContext{
		TraceID:   GetTraceID(c),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
