// Package telemetry builds the TracerProvider handed to the pipeline. It
// never installs global state; callers pass the provider explicitly.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config holds tracing settings.
type Config struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// LoadConfigFromEnv loads tracing settings from environment variables.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		ServiceName:  os.Getenv("SERVICE_NAME"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:     os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "batchrelay"
	}
	return cfg
}

// NewTracerProvider returns a provider that exports over OTLP gRPC when an
// endpoint is configured. Without one, spans are still created and linked but
// not exported. The returned function flushes and shuts the provider down.
func NewTracerProvider(ctx context.Context, cfg *Config, logger zerolog.Logger) (*sdktrace.TracerProvider, func(), error) {
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}

	if cfg.OTLPEndpoint != "" {
		expOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			expOpts = append(expOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, expOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(2*time.Second)))
		logger.Info().Str("uri", cfg.OTLPEndpoint).Msg("Tracing enabled")
	} else {
		logger.Info().Msg("No OTLP endpoint configured, spans will not be exported")
	}

	tp := sdktrace.NewTracerProvider(opts...)
	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Error().Err(err).Msg("Error shutting down tracer provider")
		}
	}
	return tp, shutdown, nil
}
