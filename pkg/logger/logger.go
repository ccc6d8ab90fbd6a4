package logger

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig holds logger configuration
type LogConfig struct {
	Level       string
	Format      string // json or console; empty picks by environment
	Environment string
	ServiceName string
}

var log = zap.NewNop()

// Build creates a logger from config without installing it globally.
// Production logs are sampled JSON with stack traces from error level up;
// other environments log every entry to a colored console.
func Build(config *LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if config.Environment == "production" {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.Sampling = nil
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	switch config.Format {
	case "json":
		zc.Encoding = "json"
		zc.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	case "console":
		zc.Encoding = "console"
	}

	return zc.Build(
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(
			zap.String("service", config.ServiceName),
			zap.String("environment", config.Environment),
		),
	)
}

// InitLogger builds the logger and installs it as the global one
func InitLogger(config *LogConfig) error {
	built, err := Build(config)
	if err != nil {
		return err
	}
	log = built
	zap.ReplaceGlobals(log)
	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	return log
}

// WithTenant scopes the request logger to a tenant partition and returns it
func WithTenant(c echo.Context, tenantID, storageID string) *zap.Logger {
	l := FromEcho(c).With(
		zap.String("tenant_id", tenantID),
		zap.String("storage_id", storageID),
	)
	ToEcho(c, l)
	return l
}

// Middleware logs one line per request. Fields added further down the chain,
// such as the tenant, end up on that line too.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			requestID := c.Request().Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = c.Response().Header().Get(echo.HeaderXRequestID)
			}
			ToEcho(c, log.With(zap.String("request_id", requestID)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", status),
				zap.Int64("bytes_out", c.Response().Size),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", c.RealIP()),
			}
			l := FromEcho(c)
			switch {
			case status >= http.StatusInternalServerError:
				l.Error("Request failed", append(fields, zap.Error(err))...)
			case status >= http.StatusBadRequest:
				l.Warn("Request rejected", fields...)
			default:
				l.Info("Request handled", fields...)
			}
			return nil
		}
	}
}
