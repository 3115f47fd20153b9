// File: internal/observability/tracing.go
package observability

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/config"
)

// InitializeTracing installs a global tracer provider that writes spans to w
// (stdout when nil). With tracing disabled the global no-op provider is kept
// and the returned shutdown function does nothing.
func InitializeTracing(ctx context.Context, cfg config.TracingConfig, serviceName string, w io.Writer) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if w == nil {
		w = os.Stdout
	}

	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Span wraps a trace span together with the logger of the operation.
type Span struct {
	op     string
	span   trace.Span
	logger *zap.Logger
}

// StartSpan starts a span named op and returns the derived context.
func StartSpan(ctx context.Context, tracer trace.Tracer, logger *zap.Logger, op string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attrs...))
	return ctx, &Span{op: op, span: span, logger: logger}
}

// End records the outcome of the operation. The engine status code is always
// attached so traces can be filtered by it.
func (s *Span) End(err error) {
	status := schemas.StatusOf(err)
	s.span.SetAttributes(attribute.String("actuator.status", status.Code.String()))
	if err != nil {
		s.span.SetStatus(codes.Error, err.Error())
		s.span.RecordError(err)
		if s.logger != nil {
			s.logger.Debug("Operation failed", zap.String("op", s.op), zap.Stringer("status", status.Code), zap.Error(err))
		}
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// AddEvent records a named event on the span.
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes attaches attributes to the span.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}
