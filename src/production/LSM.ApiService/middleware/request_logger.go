package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	logger "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Logger"
)

const (
	RequestIDHeader = "X-Request-ID"

	requestIDKey = "request_id"
	loggerKey    = "request_logger"
)

// RequestLogger tags every request with an ID and logs its outcome through zerolog
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		reqLog := log.WithRequestID(requestID)
		c.Set(requestIDKey, requestID)
		c.Set(loggerKey, reqLog)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		event := reqLog.Logger.Info()
		switch {
		case status >= 500:
			event = reqLog.Logger.Error()
		case status >= 400:
			event = reqLog.Logger.Warn()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// GetLoggerFromGinContext returns the request scoped logger, or fallback when none is set
func GetLoggerFromGinContext(c *gin.Context, fallback *logger.Logger) *logger.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*logger.Logger); ok {
			return l
		}
	}
	return fallback
}

// GetRequestIDFromGinContext returns the request ID assigned by RequestLogger
func GetRequestIDFromGinContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(requestIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
