package middleware

import (
  "strings"
  "time"

  "github.com/gin-gonic/gin"

  "github.com/yungbote/minirag-backend/internal/platform/ctxutil"
  "github.com/yungbote/minirag-backend/internal/platform/logger"
  "github.com/yungbote/minirag-backend/internal/requestdata"
)

// RequestLogger writes one structured line per request after the handler
// chain finishes, tagged with the correlation IDs and the authenticated
// user when one is set.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
  return func(c *gin.Context) {
    start := time.Now()
    c.Next()

    if log == nil {
      return
    }

    status := c.Writer.Status()
    path := c.FullPath()
    if path == "" {
      path = c.Request.URL.Path
    }

    fields := []interface{}{
      "method", strings.ToUpper(c.Request.Method),
      "path", path,
      "status", status,
      "duration_ms", time.Since(start).Milliseconds(),
    }
    fields = append(fields, ctxutil.LogFields(c.Request.Context())...)
    if rd := requestdata.GetRequestData(c.Request.Context()); rd != nil && rd.UserID > 0 {
      fields = append(fields, "user_id", rd.UserID)
    }

    switch {
    case status >= 500:
      log.Error("HTTP request", fields...)
    case status >= 400:
      log.Warn("HTTP request", fields...)
    default:
      log.Info("HTTP request", fields...)
    }
  }
}
