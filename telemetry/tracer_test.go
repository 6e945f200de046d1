package telemetry

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rocketbitz/fidomain/fi"
)

func newTestTracerProvider() (*tracesdk.TracerProvider, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	return tp, recorder
}

func TestOTelTracerSpans(t *testing.T) {
	tp, recorder := newTestTracerProvider()
	tracer := NewOTelTracer(tp)

	span := tracer.StartSpan("fi_av_insert",
		fi.TraceAttribute{Key: "count", Value: 3},
		fi.TraceAttribute{Key: "key", Value: uint64(0x42)},
		fi.TraceAttribute{Key: "av_type", Value: fi.AVTypeMap},
	)
	span.AddEvent("resolved", fi.TraceAttribute{Key: "node", Value: "node1"})
	span.End(nil)

	failed := tracer.StartSpan("fi_mr_reg")
	failed.RecordError(errors.New("segment"))
	failed.End(fi.ErrInvalidArgument)

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 ended spans, got %d", len(ended))
	}

	insert := ended[0]
	if insert.Name() != "fi_av_insert" {
		t.Fatalf("unexpected span name %q", insert.Name())
	}
	attrs := map[string]string{}
	for _, kv := range insert.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["count"] != "3" || attrs["key"] != "0x42" || attrs["av_type"] != "map" {
		t.Fatalf("unexpected span attributes %v", attrs)
	}
	if len(insert.Events()) != 1 || insert.Events()[0].Name != "resolved" {
		t.Fatalf("expected resolved event, got %v", insert.Events())
	}

	reg := ended[1]
	if reg.Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", reg.Status())
	}
	exceptions := 0
	for _, evt := range reg.Events() {
		if evt.Name == "exception" {
			exceptions++
		}
	}
	if exceptions != 2 {
		t.Fatalf("expected 2 recorded errors, got %d", exceptions)
	}
}

func TestOTelTracerNilSafe(t *testing.T) {
	var tracer *OTelTracer
	if span := tracer.StartSpan("noop"); span != nil {
		t.Fatalf("expected nil span from nil tracer")
	}
	var span *otelSpan
	span.End(errors.New("ignored"))
	span.AddEvent("ignored")
	span.RecordError(errors.New("ignored"))
}
