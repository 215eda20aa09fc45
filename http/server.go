// Package http provides the Echo server setup shared by optrack commands:
// standard middleware, health checks and graceful start/stop.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ServerConfig contains configuration for creating an Echo server
type ServerConfig struct {
	Addr            string
	Debug           bool
	BodyLimit       string // e.g., "1M"
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string // For CORS
	RateLimit       float64  // Requests per second (0 = no limit)

	// Logger receives request logs; nil disables request logging
	Logger logrus.FieldLogger

	// Tracing, when set, wraps every request in a server span
	Tracing echo.MiddlewareFunc
}

// DefaultServerConfig returns a server config with sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		BodyLimit:       "1M",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		AllowedOrigins:  []string{"*"},
	}
}

// NewEchoServer creates a new Echo server with standard middleware
func NewEchoServer(config ServerConfig) *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true
	e.Debug = config.Debug
	e.HTTPErrorHandler = ErrorHandler(config.Logger)

	e.Use(middleware.RequestID())

	if config.Tracing != nil {
		e.Use(config.Tracing)
	}

	if config.Logger != nil {
		e.Use(RequestLogger(config.Logger))
	}

	e.Use(middleware.Recover())

	if config.BodyLimit != "" {
		e.Use(middleware.BodyLimit(config.BodyLimit))
	}

	if len(config.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: config.AllowedOrigins,
			AllowMethods: []string{
				http.MethodGet,
				http.MethodPost,
				http.MethodPatch,
				http.MethodOptions,
			},
			AllowHeaders: []string{
				echo.HeaderOrigin,
				echo.HeaderContentType,
				echo.HeaderAccept,
				"Idempotency-Key",
			},
			ExposeHeaders: []string{
				echo.HeaderXRequestID,
				"Idempotent-Replayed",
			},
		}))
	}

	if config.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(config.RateLimit),
		)))
	}

	return e
}

// RequestLogger logs one structured entry per request
func RequestLogger(logger logrus.FieldLogger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogURI:       true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"request_id": v.RequestID,
			})
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			if v.Status >= http.StatusInternalServerError {
				entry.Error("request")
			} else {
				entry.Debug("request")
			}
			return nil
		},
	})
}

// ErrorHandler renders errors that escape handlers as {"error": message}
func ErrorHandler(logger logrus.FieldLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := http.StatusText(code)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				message = msg
			} else {
				message = http.StatusText(code)
			}
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, map[string]string{"error": message})
		}
		if err != nil && logger != nil {
			logger.WithError(err).Warn("failed to send error response")
		}
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service,omitempty"`
	Version string                 `json:"version,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// HealthCheckHandler returns a standard health check handler
func HealthCheckHandler(serviceName, version string) echo.HandlerFunc {
	return HealthCheckHandlerWithChecks(serviceName, version, nil)
}

// HealthCheckHandlerWithChecks runs every check and reports each one under
// details. Any failing check turns the response into 503 "degraded".
func HealthCheckHandlerWithChecks(serviceName, version string, checks map[string]HealthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)

		status, code := "healthy", http.StatusOK
		details := make(map[string]interface{}, len(checks))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				details[name] = err.Error()
				status, code = "degraded", http.StatusServiceUnavailable
				continue
			}
			details[name] = "ok"
		}

		resp := HealthResponse{
			Status:  status,
			Service: serviceName,
			Version: version,
		}
		if len(details) > 0 {
			resp.Details = details
		}
		return c.JSON(code, resp)
	}
}

// StartServer starts an Echo server and blocks until it stops. A clean
// shutdown returns nil.
func StartServer(e *echo.Echo, config ServerConfig) error {
	s := &http.Server{
		Addr:         config.Addr,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	if config.Logger != nil {
		config.Logger.WithField("addr", config.Addr).Info("Starting server")
	}
	if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// GracefulShutdown performs a graceful shutdown of the Echo server
func GracefulShutdown(e *echo.Echo, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
