package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/transflow/api/internal/logger"
)

// RequestLogger puts a request-scoped logger on the user context and writes
// one access line per request. It expects the requestid middleware to run
// first.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		reqID, _ := c.Locals("requestid").(string)

		ctx := logger.WithFields(c.UserContext(), logger.Fields{
			logger.FieldRequestID: reqID,
		})
		c.SetUserContext(ctx)

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		l := logger.FromContext(ctx).WithFields(logger.Fields{
			"method":               c.Method(),
			"path":                 c.Path(),
			"ip":                   c.IP(),
			logger.FieldStatus:     status,
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
		})
		if uid := GetUserID(c); uid != "" {
			l = l.WithField(logger.FieldUserID, uid)
		}

		level := logrus.InfoLevel
		switch {
		case status >= fiber.StatusInternalServerError:
			level = logrus.ErrorLevel
		case status >= fiber.StatusBadRequest:
			level = logrus.WarnLevel
		}
		l.Log(level, "request")
		return err
	}
}
