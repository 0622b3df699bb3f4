package middleware

import (
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// NewSTDOUTExporter создает экспортёр спанов в stdout. При discard спаны отбрасываются.
func NewSTDOUTExporter(discard bool) (*stdouttrace.Exporter, error) {
	var w io.Writer = os.Stdout
	if discard {
		w = io.Discard
	}
	exp, err := stdouttrace.New(
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithWriter(w),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания экспортёра трассировки: %w", err)
	}
	return exp, nil
}

// RegisterTraceProvider создает провайдер трассировки и делает его глобальным.
func RegisterTraceProvider(appName string, exp sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(appName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания ресурса трассировки: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(tp)

	return tp, nil
}
