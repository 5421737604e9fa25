package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/roary/feed/pkg/config"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(&config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	shutdown()

	_, span := StartSpan(context.Background(), "noop")
	defer span.End()
	if span.SpanContext().IsValid() {
		t.Error("spans should be no-ops before telemetry is enabled")
	}
}

func TestInit_PrometheusServesMeterInstruments(t *testing.T) {
	shutdown, err := Init(&config.TelemetryConfig{
		Enabled:           true,
		PrometheusEnabled: true,
		ServiceName:       "roary-test",
	})
	if err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	defer shutdown()

	counter, err := Meter().Int64Counter("roary_test_events")
	if err != nil {
		t.Fatalf("Int64Counter() error: %v", err)
	}
	counter.Add(context.Background(), 3)

	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "roary_test_events") {
		t.Errorf("/metrics does not expose the counter:\n%s", body)
	}
}
