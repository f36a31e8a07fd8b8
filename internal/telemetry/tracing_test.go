package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{Enabled: false}, zerolog.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	var nilProvider *TracerProvider
	if err := nilProvider.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil shutdown: %v", err)
	}
}

func TestServiceResourceDefaultsName(t *testing.T) {
	tests := []struct {
		cfg  TracerConfig
		want string
	}{
		{TracerConfig{}, DefaultServiceName},
		{TracerConfig{ServiceName: "slotwatch-canary"}, "slotwatch-canary"},
	}
	for _, tt := range tests {
		res := serviceResource(tt.cfg)
		got, ok := res.Set().Value(semconv.ServiceNameKey)
		if !ok || got.AsString() != tt.want {
			t.Errorf("service.name = %q, want %q", got.AsString(), tt.want)
		}
	}
}

func TestRecordErrorMarksSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())

	_, failed := provider.Tracer("test").Start(context.Background(), "failed")
	RecordError(failed, errors.New("fetch timed out"))
	failed.End()

	_, ok := provider.Tracer("test").Start(context.Background(), "ok")
	RecordError(ok, nil)
	ok.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error || len(spans[0].Events()) != 1 {
		t.Fatalf("failed span status = %+v, events = %d", spans[0].Status(), len(spans[0].Events()))
	}
	if spans[1].Status().Code != codes.Unset {
		t.Fatalf("ok span status = %+v", spans[1].Status())
	}
}
