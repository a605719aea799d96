package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewResourceMergesWithSDKDefaults(t *testing.T) {
	res, err := newResource(ProviderConfig{ServiceName: "ema-live", ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("failed to build resource: %v", err)
	}
	if res.SchemaURL() != resource.Default().SchemaURL() {
		t.Fatalf("expected schema %s, got %s", resource.Default().SchemaURL(), res.SchemaURL())
	}
	name, ok := res.Set().Value(semconv.ServiceNameKey)
	if !ok || name.AsString() != "ema-live" {
		t.Fatalf("expected service name ema-live, got %q", name.AsString())
	}
}

func TestInitProviderExposesMetrics(t *testing.T) {
	p, err := InitProvider(context.Background(), ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("failed to init provider: %v", err)
	}
	t.Cleanup(func() { p.Shutdown(context.Background()) })

	counter, err := otel.Meter("test").Int64Counter("ema_live.test.reconnects")
	if err != nil {
		t.Fatalf("failed to create counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	recorder := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, "ema_live_test_reconnects") {
		t.Fatalf("expected counter in scrape output, got:\n%s", body)
	}
	if !strings.Contains(body, `service_name="ema-live"`) {
		t.Fatalf("expected default service name in scrape output, got:\n%s", body)
	}
}

func TestInitProviderExportsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := InitProvider(context.Background(), ProviderConfig{ServiceName: "ema-live-test", TraceExporter: exporter})
	if err != nil {
		t.Fatalf("failed to init provider: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "barge-in")
	span.End()

	t.Cleanup(func() { p.Shutdown(context.Background()) })

	if err := p.ForceFlush(context.Background()); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "barge-in" {
		t.Fatalf("expected one exported span, got %d", len(spans))
	}
}
