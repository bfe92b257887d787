package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nasvault/backend/pkg/logger"
)

func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := logger.GenerateRequestID()
		c.Locals("requestID", requestID)

		err := c.Next()

		latency := time.Since(start)
		statusCode := c.Response().StatusCode()

		details := map[string]interface{}{
			"method":      c.Method(),
			"path":        c.Path(),
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"user_agent":  c.Get("User-Agent"),
			"ip":          c.IP(),
			"request_id":  requestID,
		}

		username := logger.GetUsernameFromContext(c)
		if username != nil {
			if statusCode >= 400 {
				logger.ErrorWithUser(*username, "http_request", err, details)
			} else {
				logger.InfoWithUser(*username, "http_request", details)
			}
		} else {
			if statusCode >= 400 {
				logger.Error("http_request", err, details)
			} else {
				logger.Info("http_request", details)
			}
		}

		return err
	}
}

// SecurityLogger records denials and misses separately from the request
// log so refused boundary probes are easy to grep for.
func SecurityLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		statusCode := c.Response().StatusCode()
		username := logger.GetUsernameFromContext(c)

		if statusCode == fiber.StatusForbidden || statusCode == fiber.StatusNotFound {
			reason := "access_denied"
			if statusCode == fiber.StatusNotFound {
				reason = "not_found"
			}
			details := map[string]interface{}{
				"method": c.Method(),
				"path":   c.Path(),
				"ip":     c.IP(),
				"reason": reason,
			}

			if username != nil {
				logger.WarnWithUser(*username, reason, details)
			} else {
				logger.Warn(reason+"_unauthenticated", details)
			}
		}

		return err
	}
}
