package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return NewTracerFromProvider(provider, "trialchat-test"), recorder
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNewTracerWithoutEndpointIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceVersion: "1.0.0"})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer.config.ServiceName != "trialchat" {
		t.Errorf("ServiceName = %q", tracer.config.ServiceName)
	}
	_, span := tracer.Start(context.Background(), "noop")
	defer span.End()
	if span.IsRecording() {
		t.Error("no-op tracer should not record")
	}
}

func TestNilTracerStartsSpans(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.TraceToolExecution(context.Background(), "read_file")
	defer span.End()
	if ctx == nil {
		t.Fatal("nil context")
	}
}

func TestDomainSpans(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		start    func() trace.Span
		wantName string
		wantKind trace.SpanKind
		attrKey  string
		attrVal  string
	}{
		{
			name:     "run",
			start:    func() trace.Span { _, s := tracer.TraceRun(ctx, "run-1"); return s },
			wantName: "agent.run",
			wantKind: trace.SpanKindInternal,
			attrKey:  "run.id",
			attrVal:  "run-1",
		},
		{
			name:     "llm",
			start:    func() trace.Span { _, s := tracer.TraceLLMRequest(ctx, "anthropic", "claude"); return s },
			wantName: "llm.request",
			wantKind: trace.SpanKindClient,
			attrKey:  "llm.provider",
			attrVal:  "anthropic",
		},
		{
			name:     "tool",
			start:    func() trace.Span { _, s := tracer.TraceToolExecution(ctx, "execute_query"); return s },
			wantName: "tool.execute",
			wantKind: trace.SpanKindInternal,
			attrKey:  "tool.name",
			attrVal:  "execute_query",
		},
		{
			name:     "mcp",
			start:    func() trace.Span { _, s := tracer.TraceMCPCall(ctx, "database", "tools/call"); return s },
			wantName: "mcp.call",
			wantKind: trace.SpanKindClient,
			attrKey:  "mcp.method",
			attrVal:  "tools/call",
		},
		{
			name:     "http",
			start:    func() trace.Span { _, s := tracer.TraceHTTPRequest(ctx, "POST", "/agent/run"); return s },
			wantName: "http.request",
			wantKind: trace.SpanKindServer,
			attrKey:  "http.path",
			attrVal:  "/agent/run",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.start().End()
			ended := recorder.Ended()
			got := ended[len(ended)-1]
			if got.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", got.Name(), tt.wantName)
			}
			if got.SpanKind() != tt.wantKind {
				t.Errorf("SpanKind() = %v, want %v", got.SpanKind(), tt.wantKind)
			}
			if v, ok := attrValue(got.Attributes(), tt.attrKey); !ok || v.AsString() != tt.attrVal {
				t.Errorf("attribute %s = %v", tt.attrKey, v.Emit())
			}
		})
	}
}

func TestWithSpanRecordsError(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)
	boom := errors.New("boom")

	err := WithSpan(context.Background(), tracer, "work", func(ctx context.Context, span trace.Span) error {
		tracer.SetAttributes(span, "rows", 42, "truncated", true, 7, "skipped")
		tracer.AddEvent(span, "checkpoint", "stage", "parse")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithSpan() error = %v", err)
	}

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("spans = %d", len(ended))
	}
	span := ended[0]
	if span.Status().Code != codes.Error || span.Status().Description != "boom" {
		t.Errorf("status = %+v", span.Status())
	}
	if v, ok := attrValue(span.Attributes(), "rows"); !ok || v.AsInt64() != 42 {
		t.Errorf("rows attribute = %v", v.Emit())
	}
	if len(span.Attributes()) != 2 {
		t.Errorf("attributes = %v", span.Attributes())
	}
	if len(span.Events()) < 2 || span.Events()[0].Name != "checkpoint" {
		t.Errorf("events = %+v", span.Events())
	}
}

func TestGetTraceID(t *testing.T) {
	if GetTraceID(context.Background()) != "" {
		t.Error("expected empty trace ID without a span")
	}

	tracer, _ := newRecordingTracer(t)
	ctx, span := tracer.Start(context.Background(), "op")
	defer span.End()
	if id := GetTraceID(ctx); len(id) != 32 {
		t.Errorf("trace ID = %q", id)
	}
}

func TestAttributeFromValue(t *testing.T) {
	tests := []struct {
		val  any
		want attribute.Type
	}{
		{"s", attribute.STRING},
		{1, attribute.INT64},
		{int64(2), attribute.INT64},
		{1.5, attribute.FLOAT64},
		{true, attribute.BOOL},
		{[]string{"a"}, attribute.STRINGSLICE},
		{struct{}{}, attribute.STRING},
	}
	for _, tt := range tests {
		if got := attributeFromValue("k", tt.val).Value.Type(); got != tt.want {
			t.Errorf("attributeFromValue(%T) type = %v, want %v", tt.val, got, tt.want)
		}
	}
}
