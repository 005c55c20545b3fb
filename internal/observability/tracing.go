// Package observability provides tracing, metrics and audit logging for rack analysis.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the instrumentation name for every rackscan span.
	TracerName = "github.com/efebarandurmaz/rackscan"
)

// TracingConfig configures the OpenTelemetry tracing.
type TracingConfig struct {
	// ServiceName is the name of the service (default: "rackscan")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Environment is the deployment environment (dev, staging, prod)
	Environment string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	// If empty, tracing is disabled.
	OTLPEndpoint string

	// SampleRate is the trace sampling rate (0.0 to 1.0, default: 1.0)
	SampleRate float64
}

// DefaultTracingConfig returns a default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "rackscan",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}

	// If no endpoint, return no-op tracer
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	// Create OTLP exporter
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(), // Use TLS in production
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	// Create resource with service info
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	// Create sampler
	var sampler sdktrace.Sampler
	if cfg.SampleRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if cfg.SampleRate <= 0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	// Create trace provider
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global provider and propagator
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// Shutdown gracefully shuts down the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Span kinds recorded on every rackscan span.
const (
	SpanKindAnalyze  = "analyze"
	SpanKindValidate = "validate"
	SpanKindReport   = "report"
	SpanKindStore    = "store"
)

// StartAnalyzeSpan starts a span covering one discovery run.
func StartAnalyzeSpan(ctx context.Context, rackID string, size int) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "discovery.analyze",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("rackscan.span.kind", SpanKindAnalyze),
			attribute.String("rack.id", rackID),
			attribute.Int("rack.xml_bytes", size),
		),
	)
	return ctx, span
}

// RecordAnalyzeResult records discovery totals on a span.
func RecordAnalyzeResult(span trace.Span, chains, devices, maxDepth int, durationMS float64, compliant bool) {
	span.SetAttributes(
		attribute.Int("analysis.chain_count", chains),
		attribute.Int("analysis.device_count", devices),
		attribute.Int("analysis.max_depth", maxDepth),
		attribute.Float64("analysis.duration_ms", durationMS),
		attribute.Bool("analysis.constitutional_compliant", compliant),
	)
}

// StartValidateSpan starts a span for one per-rack compliance check.
func StartValidateSpan(ctx context.Context, rackID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "compliance.validate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("rackscan.span.kind", SpanKindValidate),
			attribute.String("rack.id", rackID),
		),
	)
	return ctx, span
}

// RecordValidateResult records the compliance verdict on a span.
func RecordValidateResult(span trace.Span, compliant bool, issueCount int) {
	span.SetAttributes(
		attribute.Bool("compliance.compliant", compliant),
		attribute.Int("compliance.issue_count", issueCount),
	)
	if !compliant {
		span.SetStatus(codes.Error, fmt.Sprintf("%d compliance issues", issueCount))
	}
}

// StartReportSpan starts a span for platform report generation.
func StartReportSpan(ctx context.Context) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "compliance.platform_report",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("rackscan.span.kind", SpanKindReport),
		),
	)
	return ctx, span
}

// RecordReportResult records platform totals on a span.
func RecordReportResult(span trace.Span, racks, compliant int, rate float64) {
	span.SetAttributes(
		attribute.Int("report.rack_count", racks),
		attribute.Int("report.compliant_count", compliant),
		attribute.Float64("report.compliance_rate", rate),
	)
}

// StartStoreSpan starts a client span around a persistence call.
func StartStoreSpan(ctx context.Context, backend, op string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, fmt.Sprintf("store.%s", op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rackscan.span.kind", SpanKindStore),
			attribute.String("store.backend", backend),
		),
	)
	return ctx, span
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
