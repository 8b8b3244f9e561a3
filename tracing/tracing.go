// Package tracing provides OpenTelemetry tracing for go-wikiapi.
// It configures trace exporters and provides helpers for API spans.
package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "cgt.name/pkg/go-wikiapi"

// Config holds tracing configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	Enabled        bool
	OTLPEndpoint   string // If set, uses OTLP exporter; otherwise stdout
	SampleRate     float64
}

// DefaultConfig returns tracing defaults read from the OTEL_* environment.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "wikiapi",
		ServiceVersion: "1.0.0",
		Enabled:        os.Getenv("OTEL_ENABLED") == "true" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SampleRate:     1.0,
	}
}

// Setup initializes OpenTelemetry tracing and returns a shutdown function.
// When tracing is disabled the global no-op provider stays in place.
func Setup(ctx context.Context, config Config) (func(context.Context) error, error) {
	if !config.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	var exporter sdktrace.SpanExporter
	if config.OTLPEndpoint != "" {
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(config.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(config.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Tracer returns the library's tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartAPISpan starts a span for one MediaWiki API request.
func StartAPISpan(ctx context.Context, action, method string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "mediawiki."+orUnknown(action),
		trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("wiki.api.action", orUnknown(action)),
		attribute.String("http.request.method", method),
	)
	return ctx, span
}

// AddPageAttributes adds the title of the page an operation works on.
func AddPageAttributes(span trace.Span, title string) {
	if title != "" {
		span.SetAttributes(attribute.String("wiki.page.title", title))
	}
}

// End records err on the span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
