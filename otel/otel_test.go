package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestProvider(t *testing.T, ratio float64) (*Provider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProviderWithExporter(Config{
		ServiceName:   "optrack-test",
		Version:       "test",
		Environment:   "test",
		SamplingRatio: ratio,
	}, exporter)
	require.NoError(t, err)
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	return p, exporter
}

func serve(t *testing.T, p *Provider, handler echo.HandlerFunc) {
	t.Helper()
	e := echo.New()
	e.Use(p.Middleware())
	e.GET("/operations/:id", handler)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/operations/op-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_RecordsServerSpan(t *testing.T) {
	p, exporter := newTestProvider(t, 1)

	var fields logrus.Fields
	serve(t, p, func(c echo.Context) error {
		fields = TraceFields(c.Request().Context())
		AnnotateOperation(c.Request().Context(), "op-1", "RUNNING")
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, p.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, spans[0].SpanContext.TraceID().String(), fields["trace_id"])
	assert.Equal(t, spans[0].SpanContext.SpanID().String(), fields["span_id"])

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "op-1", attrs["operation.id"])
	assert.Equal(t, "RUNNING", attrs["operation.status"])
}

func TestMiddleware_NeverSample(t *testing.T) {
	p, exporter := newTestProvider(t, 0)

	var fields logrus.Fields
	serve(t, p, func(c echo.Context) error {
		fields = TraceFields(c.Request().Context())
		AnnotateOperation(c.Request().Context(), "op-1", "RUNNING")
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, p.ForceFlush(context.Background()))

	assert.Nil(t, fields)
	assert.Empty(t, exporter.GetSpans())
}

func TestTraceFields_NoSpan(t *testing.T) {
	assert.Nil(t, TraceFields(context.Background()))
	AnnotateOperation(context.Background(), "op-1", "PENDING")
}

func TestShutdown_NilProvider(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestStripProtocol(t *testing.T) {
	tests := map[string]string{
		"http://localhost:4318": "localhost:4318",
		"https://tempo:4318":    "tempo:4318",
		"collector:4318":        "collector:4318",
	}
	for in, want := range tests {
		assert.Equal(t, want, stripProtocol(in), in)
	}
}
