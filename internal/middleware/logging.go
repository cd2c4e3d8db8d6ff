// internal/middleware/logging.go
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/farmtrace-backend/internal/models"
	"github.com/javajoker/farmtrace-backend/internal/repository"
)

// Request bodies larger than this are not copied into the audit log.
const maxAuditBody = 64 << 10

// AuditLogMiddleware logs every request and stores an audit row for each
// mutating one. The M-Pesa callback body is not stored.
func AuditLogMiddleware(repo repository.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		mutating := c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead
		var requestBody []byte
		if mutating && c.Request.Body != nil && c.Request.ContentLength <= maxAuditBody {
			// chunked bodies report -1, so the read itself is bounded
			original := c.Request.Body
			head, _ := io.ReadAll(io.LimitReader(original, maxAuditBody+1))
			c.Request.Body = replayBody{io.MultiReader(bytes.NewReader(head), original), original}
			if len(head) <= maxAuditBody {
				requestBody = head
			}
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		operatorID := c.GetString("operator_id")

		logrus.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration":    duration.Milliseconds(),
			"ip":          c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
			"operator_id": operatorID,
		}).Info("Request processed")

		if !mutating {
			return
		}

		auditLog := models.NewAuditLog()
		auditLog.OperatorID = operatorID
		auditLog.Action = c.Request.Method + " " + c.FullPath()
		auditLog.ResourceType = extractResourceType(c.Request.URL.Path)
		auditLog.StatusCode = c.Writer.Status()
		auditLog.IPAddress = c.ClientIP()
		auditLog.UserAgent = c.Request.UserAgent()
		if resourceID := extractResourceID(c.Request.URL.Path); resourceID != "" {
			auditLog.ResourceID = &resourceID
		}
		if len(requestBody) > 0 && !strings.HasPrefix(c.Request.URL.Path, "/v1/payments/") {
			var requestData map[string]interface{}
			if err := json.Unmarshal(requestBody, &requestData); err == nil {
				auditLog.NewValues = models.JSONB(requestData)
			}
		}

		ctx := context.WithoutCancel(c.Request.Context())
		go func() {
			if err := repo.CreateAuditLog(ctx, auditLog); err != nil {
				logrus.WithError(err).Error("Failed to create audit log")
			}
		}()
	}
}

// replayBody hands the handler the bytes already read followed by the rest
// of the original body.
type replayBody struct {
	io.Reader
	io.Closer
}

func extractResourceType(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "v1" {
		return parts[1]
	}
	if len(parts) >= 1 {
		return parts[0]
	}
	return "unknown"
}

func extractResourceID(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for _, part := range parts {
		if _, err := uuid.Parse(part); err == nil {
			return part
		}
	}
	return ""
}
