package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEchoServer_Defaults(t *testing.T) {
	e := NewEchoServer(DefaultServerConfig())
	require.NotNil(t, e)
	assert.True(t, e.HideBanner)
	assert.True(t, e.HidePort)

	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestErrorHandler_JSONBody(t *testing.T) {
	e := NewEchoServer(DefaultServerConfig())
	e.GET("/teapot", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "short and stout")
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("internal detail")
	})

	t.Run("HTTPError", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))

		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.JSONEq(t, `{"error":"short and stout"}`, rec.Body.String())
	})

	t.Run("PlainErrorHidesDetail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "internal detail")
	})

	t.Run("UnknownRoute", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), `"error"`)
	})
}

func TestBodyLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.BodyLimit = "1K"
	e := NewEchoServer(cfg)
	e.POST("/upload", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	body := make([]byte, 4096)
	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealthCheckHandlerWithChecks(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthCheck
		wantCode   int
		wantStatus string
		wantDetail map[string]interface{}
	}{
		{
			name:       "NoChecks",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "AllHealthy",
			checks: map[string]HealthCheck{
				"database": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return nil },
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantDetail: map[string]interface{}{"database": "ok", "redis": "ok"},
		},
		{
			name: "RedisDown",
			checks: map[string]HealthCheck{
				"database": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return errors.New("connection refused") },
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			wantDetail: map[string]interface{}{"database": "ok", "redis": "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.GET("/health", HealthCheckHandlerWithChecks("optrack", "1.0.0", tt.checks))

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantCode, rec.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, "optrack", resp.Service)
			assert.Equal(t, "1.0.0", resp.Version)
			assert.Equal(t, tt.wantDetail, resp.Details)
		})
	}
}

func TestNewEchoServer_TracingMiddleware(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Tracing = func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-Traced", "yes")
			return next(c)
		}
	}
	e := NewEchoServer(cfg)
	e.GET("/ping", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, "yes", rec.Header().Get("X-Traced"))
}
