package observability

import (
	"context"
	"fmt"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/config"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SetupLogExport mirrors logger's output to the OTLP log endpoint. Without an
// endpoint logger is returned unchanged.
func SetupLogExport(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger) (*zap.Logger, func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return logger, func(context.Context) error { return nil }, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploghttp.WithInsecure())
	}

	exporter, err := otlploghttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create OTLP log exporter: %w", err)
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter,
			sdklog.WithExportTimeout(exportTimeout),
			sdklog.WithMaxQueueSize(maxQueueSize),
		)),
	)
	global.SetLoggerProvider(lp)

	core := otelzap.NewCore(cfg.ServiceName, otelzap.WithLoggerProvider(lp))
	return teeLogger(logger, core), lp.Shutdown, nil
}

// teeLogger sends every entry written to logger to extra as well.
func teeLogger(logger *zap.Logger, extra zapcore.Core) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, extra)
	}))
}
