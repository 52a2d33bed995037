package observability

import (
	"context"

	"github.com/smallbiznis/repairpay/internal/events"
	"github.com/smallbiznis/repairpay/internal/observability/logger"
	"github.com/smallbiznis/repairpay/internal/observability/metrics"
	"github.com/smallbiznis/repairpay/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.SettlementWithConfig,
	),
	fx.Invoke(ensureTracingProvider),
	fx.Invoke(subscribeDomainMetrics),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

func subscribeDomainMetrics(lc fx.Lifecycle, bus *events.Bus, m *metrics.Metrics) {
	unsubscribe := metrics.Subscribe(bus, m)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			unsubscribe()
			return nil
		},
	})
}

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}
