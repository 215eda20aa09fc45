package statemanager

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	// HeaderIdempotencyKey carries the caller-supplied idempotency key
	HeaderIdempotencyKey = "Idempotency-Key"

	// HeaderIdempotentReplayed is set on responses served from the ledger
	HeaderIdempotentReplayed = "Idempotent-Replayed"

	// IdempotencyKeyContextKey stores the key in the echo context
	IdempotencyKeyContextKey = "idempotency_key"

	maxIdempotencyKeyLength = 255
)

// RequireIdempotencyKey creates Echo middleware that rejects mutation
// requests without a usable Idempotency-Key header.
// Usage: g.PATCH("/x", h, statemanager.RequireIdempotencyKey())
func RequireIdempotencyKey() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(HeaderIdempotencyKey)
			if key == "" {
				return errorJSON(c, http.StatusBadRequest, HeaderIdempotencyKey+" header is required")
			}
			if len(key) > maxIdempotencyKeyLength {
				return errorJSON(c, http.StatusBadRequest, HeaderIdempotencyKey+" header is too long")
			}

			c.Set(IdempotencyKeyContextKey, key)
			return next(c)
		}
	}
}

// GetIdempotencyKey retrieves the idempotency key from the echo context
// Returns empty string if not found
func GetIdempotencyKey(c echo.Context) string {
	if key, ok := c.Get(IdempotencyKeyContextKey).(string); ok {
		return key
	}
	return ""
}
