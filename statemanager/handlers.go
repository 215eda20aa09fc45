package statemanager

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"optrack.evalgo.org/otel"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type createRequest struct {
	Type string `json:"type"`
}

type statusUpdateRequest struct {
	Status Status `json:"status"`
}

// RegisterRoutes adds operation endpoints to an Echo group
func (m *Manager) RegisterRoutes(g *echo.Group) {
	g.POST("/operations", m.handleCreateOperation)
	g.GET("/operations", m.handleListOperations)
	g.GET("/operations/stats", m.handleGetStats)
	g.GET("/operations/:id", m.handleGetOperation)
	g.PATCH("/operations/:id/status", m.handleUpdateStatus, RequireIdempotencyKey())
}

func (m *Manager) handleCreateOperation(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Type == "" {
		return errorJSON(c, http.StatusBadRequest, "type is required")
	}

	op, err := m.Create(c.Request().Context(), req.Type)
	if err != nil {
		return m.handleError(c, err)
	}
	otel.AnnotateOperation(c.Request().Context(), op.ID, string(op.Status))
	return c.JSON(http.StatusCreated, op.Summary())
}

func (m *Manager) handleListOperations(c echo.Context) error {
	filter := ListFilter{Limit: defaultListLimit}
	if s := c.QueryParam("status"); s != "" {
		filter.Status = Status(s)
		if !filter.Status.Valid() {
			return errorJSON(c, http.StatusBadRequest, "unknown status "+s)
		}
	}
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			return errorJSON(c, http.StatusBadRequest, "limit must be a positive integer")
		}
		filter.Limit = min(n, maxListLimit)
	}

	ops, err := m.List(c.Request().Context(), filter)
	if err != nil {
		return m.handleError(c, err)
	}
	return c.JSON(http.StatusOK, ops)
}

func (m *Manager) handleGetStats(c echo.Context) error {
	stats, err := m.Stats(c.Request().Context())
	if err != nil {
		return m.handleError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (m *Manager) handleGetOperation(c echo.Context) error {
	id, ok := operationID(c)
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid operation id")
	}
	op, err := m.Get(c.Request().Context(), id)
	if err != nil {
		return m.handleError(c, err)
	}
	return c.JSON(http.StatusOK, op)
}

func (m *Manager) handleUpdateStatus(c echo.Context) error {
	id, ok := operationID(c)
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid operation id")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	var req statusUpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if !req.Status.Valid() {
		return errorJSON(c, http.StatusBadRequest, "unknown status "+string(req.Status))
	}

	res, err := m.UpdateStatus(c.Request().Context(), UpdateRequest{
		OperationID:    id,
		Status:         req.Status,
		IdempotencyKey: GetIdempotencyKey(c),
		Payload:        body,
	})
	if err != nil {
		return m.handleError(c, err)
	}
	if res.Replayed {
		c.Response().Header().Set(HeaderIdempotentReplayed, "true")
	} else {
		otel.AnnotateOperation(c.Request().Context(), id, string(res.Operation.Status))
	}
	return c.JSONBlob(http.StatusOK, res.Body)
}

// StatusCode maps a lifecycle error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrIdempotencyKeyReuse):
		return http.StatusBadRequest
	case errors.Is(err, ErrLockContention):
		return http.StatusConflict
	case errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (m *Manager) handleError(c echo.Context, err error) error {
	code := StatusCode(err)
	if code == http.StatusInternalServerError {
		m.log.WithError(err).WithFields(otel.TraceFields(c.Request().Context())).
			WithField("path", c.Path()).Error("request failed")
		return errorJSON(c, code, "internal error")
	}
	return errorJSON(c, code, err.Error())
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{
		"error": msg,
	})
}

func operationID(c echo.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return "", false
	}
	return id.String(), true
}
