package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/pipeflow/config"
	"github.com/BaSui01/pipeflow/events"
)

// saveAndRestoreGlobalProviders snapshots the current global OTel providers
// and restores them via t.Cleanup so tests don't leak state.
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

func enabledConfig() config.TelemetryConfig {
	return config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "pipeflow-test",
		SampleRate:   1.0,
	}
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.tp, "TracerProvider should be nil when disabled")
	assert.Nil(t, p.mp, "MeterProvider should be nil when disabled")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_EnabledWithOTLP(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(enabledConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, p.tp)
	require.NotNil(t, p.mp)

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK, "global TracerProvider should be *sdktrace.TracerProvider")
	assert.True(t, mpIsSDK, "global MeterProvider should be *sdkmetric.MeterProvider")

	// No collector is running; Shutdown may report a connection error but
	// must finish within the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() { _ = p.Shutdown(ctx) })
}

func TestInit_SpanExporter(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	exp := tracetest.NewInMemoryExporter()
	p, err := Init(enabledConfig(), zaptest.NewLogger(t),
		WithSpanExporter(exp),
		WithMetricReader(sdkmetric.NewManualReader()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "run.drive")
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "run.drive", spans[0].Name)
}

func TestRecordEvents(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	reader := sdkmetric.NewManualReader()
	p, err := Init(enabledConfig(), zaptest.NewLogger(t),
		WithSpanExporter(tracetest.NewInMemoryExporter()),
		WithMetricReader(reader),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	bus := events.NewBus(nil)
	sub := bus.Subscribe("", 8)

	done := make(chan error, 1)
	go func() { done <- RecordEvents(context.Background(), sub) }()

	bus.Publish(events.Event{Type: events.StepStarted, RunID: "r1", GraphID: "g"})
	bus.Publish(events.Event{Type: events.StepStarted, RunID: "r1", GraphID: "g"})
	bus.Publish(events.Event{Type: events.RunSucceeded, RunID: "r1", GraphID: "g"})

	require.Eventually(t, func() bool { return len(sub.C()) == 0 }, time.Second, 5*time.Millisecond)
	bus.Stop()
	require.NoError(t, <-done)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "pipeflow.run.events" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(3), total)
}

func TestRecordEvents_ContextCancel(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, RecordEvents(ctx, bus.Subscribe("", 1)))
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBuildVersion(t *testing.T) {
	// Test binaries report "(devel)", which falls back to "dev".
	assert.Equal(t, "dev", buildVersion())
}
