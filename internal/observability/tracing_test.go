package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.ServiceName != "rackscan" {
		t.Fatalf("expected service name 'rackscan', got %s", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Fatalf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInitTracing_NoEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracing(ctx, &TracingConfig{
		ServiceName: "test",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected non-nil tracer provider")
	}
	if tp.Tracer() == nil {
		t.Fatal("expected non-nil tracer")
	}
	// Should be no-op, shutdown should succeed
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInitTracing_NilConfig(t *testing.T) {
	tp, err := InitTracing(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected non-nil tracer provider")
	}
}

// recordSpans installs an in-memory span recorder as the global provider.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestAnalyzeSpan_RecordsTotals(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartAnalyzeSpan(context.Background(), "rack-1", 512)
	RecordAnalyzeResult(span, 3, 7, 2, 12.5, true)
	span.End()

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != "discovery.analyze" {
		t.Errorf("span name = %q", s.Name())
	}
	if v, ok := attrValue(s.Attributes(), "analysis.chain_count"); !ok || v.AsInt64() != 3 {
		t.Errorf("chain_count attribute = %v, %v", v, ok)
	}
	if v, ok := attrValue(s.Attributes(), "rack.id"); !ok || v.AsString() != "rack-1" {
		t.Errorf("rack.id attribute = %v, %v", v, ok)
	}
}

func TestValidateSpan_NonCompliantSetsError(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartValidateSpan(context.Background(), "rack-1")
	RecordValidateResult(span, false, 2)
	span.End()

	s := sr.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want error", s.Status().Code)
	}
}

func TestValidateSpan_Compliant(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartValidateSpan(context.Background(), "rack-1")
	RecordValidateResult(span, true, 0)
	span.End()

	if code := sr.Ended()[0].Status().Code; code == codes.Error {
		t.Errorf("compliant span should not be marked as error")
	}
}

func TestReportAndStoreSpans(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartReportSpan(context.Background())
	RecordReportResult(span, 10, 8, 80)
	span.End()

	_, span = StartStoreSpan(context.Background(), "badger", "replace_analysis")
	span.End()

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[1].Name() != "store.replace_analysis" {
		t.Errorf("store span name = %q", spans[1].Name())
	}
}

func TestRecordError(t *testing.T) {
	sr := recordSpans(t)
	_, span := StartAnalyzeSpan(context.Background(), "rack-1", 0)

	// Should not panic with nil
	RecordError(span, nil)

	RecordError(span, errors.New("test error"))
	span.End()

	s := sr.Ended()[0]
	if s.Status().Code != codes.Error || s.Status().Description != "test error" {
		t.Errorf("status = %+v", s.Status())
	}
}
