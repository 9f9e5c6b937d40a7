package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tbourn/nocodb-codegen/internal/config"
)

// keepGlobals restores the OTel globals and seams after the test.
func keepGlobals(t *testing.T) {
	t.Helper()
	tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	exp, res := newExporter, newResource
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
		newExporter, newResource = exp, res
	})
}

// useMemoryExporter routes spans to an in-memory exporter.
func useMemoryExporter(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	mem := tracetest.NewInMemoryExporter()
	newExporter = func(context.Context, ...otlptracegrpc.Option) (sdktrace.SpanExporter, error) {
		return mem, nil
	}
	return mem
}

func enabled(ratio float64) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    true,
		Endpoint:    "localhost:4317",
		ServiceName: "nocodb-codegen",
		SampleRatio: ratio,
	}
}

func flush(t *testing.T) {
	t.Helper()
	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("expected *sdktrace.TracerProvider, got %T", otel.GetTracerProvider())
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestSetupOTel_DisabledOnlyInstallsPropagator(t *testing.T) {
	keepGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Endpoint: "ignored:4317"}, "v0")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatalf("tracer provider must stay untouched when disabled")
	}

	fields := strings.Join(otel.GetTextMapPropagator().Fields(), ",")
	if !strings.Contains(fields, "traceparent") || !strings.Contains(fields, "baggage") {
		t.Fatalf("propagator fields = %s", fields)
	}
}

func TestSetupOTel_ExportsWithServiceResource(t *testing.T) {
	keepGlobals(t)
	mem := useMemoryExporter(t)

	shutdown, err := SetupOTel(context.Background(), enabled(1), "v1.4.0")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	_, span := otel.Tracer("nocodb").Start(context.Background(), "nocodb.list")
	span.End()
	flush(t)

	spans := mem.GetSpans()
	if len(spans) != 1 || spans[0].Name != "nocodb.list" {
		t.Fatalf("exported spans = %v", spans)
	}
	attrs := attribute.NewSet(spans[0].Resource.Attributes()...)
	for key, want := range map[attribute.Key]string{
		"service.name":      "nocodb-codegen",
		"service.version":   "v1.4.0",
		"service.namespace": serviceNamespace,
	} {
		if v, ok := attrs.Value(key); !ok || v.AsString() != want {
			t.Fatalf("resource %s = %v; want %q", key, v.AsString(), want)
		}
	}
}

func TestSetupOTel_SamplerHonorsParent(t *testing.T) {
	keepGlobals(t)
	mem := useMemoryExporter(t)

	shutdown, err := SetupOTel(context.Background(), enabled(0), "v1")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	// Ratio 0 drops local roots.
	_, root := otel.Tracer("t").Start(context.Background(), "GET /generate-codes")
	root.End()

	// A sampled upstream traceparent still wins.
	carrier := propagation.MapCarrier{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), carrier)
	_, child := otel.Tracer("t").Start(ctx, "nocodb.update")
	child.End()
	flush(t)

	spans := mem.GetSpans()
	if len(spans) != 1 || spans[0].Name != "nocodb.update" {
		t.Fatalf("exported spans = %v", spans)
	}
	if got := spans[0].SpanContext.TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("trace id = %s", got)
	}
}

func TestSetupOTel_RealExporterLazyConnect(t *testing.T) {
	keepGlobals(t)

	for _, insecure := range []bool{true, false} {
		cfg := enabled(1)
		cfg.Insecure = insecure

		// The gRPC client dials lazily, so a canceled context and an absent
		// collector do not fail setup.
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		shutdown, err := SetupOTel(ctx, cfg, "v1")
		if err != nil {
			t.Fatalf("insecure=%v: %v", insecure, err)
		}
		sctx, scancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		_ = shutdown(sctx)
		scancel()
	}
}

func TestSetupOTel_ErrorsLeaveGlobalsIntact(t *testing.T) {
	cases := []struct {
		name    string
		arrange func()
		prefix  string
	}{
		{"exporter", func() {
			newExporter = func(context.Context, ...otlptracegrpc.Option) (sdktrace.SpanExporter, error) {
				return nil, errors.New("boom-exporter")
			}
		}, "otel exporter localhost:4317: "},
		{"resource", func() {
			newExporter = func(context.Context, ...otlptracegrpc.Option) (sdktrace.SpanExporter, error) {
				return tracetest.NewInMemoryExporter(), nil
			}
			newResource = func(context.Context, string, string) (*resource.Resource, error) {
				return nil, errors.New("boom-resource")
			}
		}, "otel resource: "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keepGlobals(t)
			tc.arrange()
			tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()

			_, err := SetupOTel(context.Background(), enabled(1), "v0")
			if err == nil || !strings.HasPrefix(err.Error(), tc.prefix) || !strings.Contains(err.Error(), "boom-"+tc.name) {
				t.Fatalf("err = %v", err)
			}
			if otel.GetTracerProvider() != tp || otel.GetTextMapPropagator() != prop {
				t.Fatalf("globals changed on failure")
			}
		})
	}
}
