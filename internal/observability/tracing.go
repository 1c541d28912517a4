// Package observability exports Genkit traces over OTLP so retrieval and
// completion spans land in whatever collector the deployment runs.
package observability

import (
	"context"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/lavlagaa/lavlagaa/internal/log"
)

// DefaultCollectorHost is the default OTLP HTTP collector endpoint.
const DefaultCollectorHost = "localhost:4318"

// Config for trace export.
type Config struct {
	// CollectorHost is the OTLP HTTP endpoint (default: localhost:4318).
	CollectorHost string
	// Environment is the deployment environment tag (dev, staging, prod).
	Environment string
	// ServiceName is the service name shown in the APM backend.
	ServiceName string
}

// SetupTracing registers an OTLP exporter with Genkit's TracerProvider.
//
// Returns a shutdown function that flushes pending spans. A collector that
// cannot be reached at setup time disables tracing instead of failing
// startup; the service answers questions with or without an APM backend.
func SetupTracing(ctx context.Context, cfg Config, logger log.Logger) (shutdown func(context.Context) error, err error) {
	host := cfg.CollectorHost
	if host == "" {
		host = DefaultCollectorHost
	}

	// Genkit's TracerProvider reads the service identity from the OTEL
	// environment variables.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(host),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled",
		"collector", host,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return tracing.TracerProvider().Shutdown, nil
}
