package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/abdulhad-eng/home-fair-share/internal/infra/logger"
)

const (
	TraceIDHeader   = "X-Trace-ID"
	RequestIDHeader = "X-Request-ID"

	TraceIDKey = "trace_id"

	maxRequestIDLength = 64
)

// EnrichContext exposes a trace id on every response. The otel span id wins
// over a client supplied header so logs and traces line up.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := ""
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		if traceID == "" {
			traceID = sanitizeID(c.GetHeader(TraceIDHeader))
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)
		c.Next()
	}
}

// RequestID carries the caller's correlation id (or a fresh one) on the
// request context, the response and the active span.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := sanitizeID(c.GetHeader(RequestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}

		c.Header(RequestIDHeader, reqID)
		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey{}, reqID)
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("http.request_id", reqID))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetTraceID returns the id set by EnrichContext.
func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

// sanitizeID drops header values that are too long or carry anything other
// than printable ASCII, so they cannot forge log lines.
func sanitizeID(id string) string {
	if id == "" || len(id) > maxRequestIDLength {
		return ""
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return ""
		}
	}
	return id
}
