// internal/observability/tracing_test.go
package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/config"
)

func statusAttr(t *testing.T, span sdktrace.ReadOnlySpan) string {
	t.Helper()
	for _, kv := range span.Attributes() {
		if kv.Key == "actuator.status" {
			return kv.Value.AsString()
		}
	}
	t.Fatalf("span %q has no actuator.status attribute", span.Name())
	return ""
}

func TestSpanEnd(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := tp.Tracer("test")
	logger := zaptest.NewLogger(t)

	_, ok := StartSpan(context.Background(), tracer, logger, "op.ok", attribute.Int("n", 1))
	ok.End(nil)

	_, failed := StartSpan(context.Background(), tracer, logger, "op.failed")
	failed.AddEvent("retry")
	failed.End(schemas.Statusf(schemas.TooManyElements, "3 matches"))

	spans := rec.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "op.ok", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "ACTION_APPLIED", statusAttr(t, spans[0]))

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "TOO_MANY_ELEMENTS", statusAttr(t, spans[1]))
	require.Len(t, spans[1].Events(), 2, "the custom event and the recorded error")
	assert.Equal(t, "retry", spans[1].Events()[0].Name)
}

func TestInitializeTracingDisabled(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitializeTracing(context.Background(), config.TracingConfig{Enabled: false}, "test", &buf)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Zero(t, buf.Len())
}
