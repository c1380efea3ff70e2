package telemetry_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-batchrelay/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracerProvider_NoExporter(t *testing.T) {
	tp, shutdown, err := telemetry.NewTracerProvider(context.Background(), &telemetry.Config{ServiceName: "test"}, zerolog.Nop())
	require.NoError(t, err)
	defer shutdown()

	_, span := tp.Tracer("t").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid(), "spans are real even without an exporter")
	span.End()
}

func TestNewTracerProvider_WithEndpoint(t *testing.T) {
	// The gRPC exporter connects lazily, so construction succeeds without a collector.
	tp, shutdown, err := telemetry.NewTracerProvider(context.Background(),
		&telemetry.Config{ServiceName: "test", OTLPEndpoint: "127.0.0.1:4317", Insecure: true}, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, tp)
	shutdown()
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	cfg := telemetry.LoadConfigFromEnv()
	assert.Equal(t, "batchrelay", cfg.ServiceName)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.True(t, cfg.Insecure)
}
