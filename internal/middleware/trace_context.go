package middleware

import (
  "strings"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"
  "go.opentelemetry.io/otel/trace"

  "github.com/yungbote/minirag-backend/internal/platform/ctxutil"
)

const (
  headerTraceID   = "X-Trace-Id"
  headerRequestID = "X-Request-Id"
)

// AttachTraceContext makes every request carry a trace and request ID:
// inbound headers win, then the active span, then fresh UUIDs. Both IDs
// are echoed on the response so callers can quote them in bug reports.
func AttachTraceContext() gin.HandlerFunc {
  return func(c *gin.Context) {
    reqID := strings.TrimSpace(c.GetHeader(headerRequestID))
    if reqID == "" {
      reqID = uuid.New().String()
    }
    traceID := strings.TrimSpace(c.GetHeader(headerTraceID))
    if traceID == "" {
      spanCtx := trace.SpanContextFromContext(c.Request.Context())
      if spanCtx.HasTraceID() {
        traceID = spanCtx.TraceID().String()
      }
    }
    if traceID == "" {
      traceID = uuid.New().String()
    }
    ctx := ctxutil.WithTraceData(c.Request.Context(), &ctxutil.TraceData{
      TraceID:   traceID,
      RequestID: reqID,
    })
    c.Request = c.Request.WithContext(ctx)
    c.Writer.Header().Set(headerTraceID, traceID)
    c.Writer.Header().Set(headerRequestID, reqID)
    c.Next()
  }
}
