// ABOUTME: OpenTelemetry tracer provider setup
// ABOUTME: Exports spans as JSON to a lumberjack-rotated file, or installs a no-op provider when disabled

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/2389/relay-gateway/internal/config"
)

// ServiceName is reported as service.name on every span
const ServiceName = "relay-gateway"

// ShutdownFunc flushes pending spans and releases the exporter
type ShutdownFunc func(context.Context) error

// Setup installs the global tracer provider. When tracing is disabled the
// global provider is a no-op and shutdown does nothing.
func Setup(cfg config.TracingConfig, version string) (ShutdownFunc, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("creating trace directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	tp, err := newProvider(file, version, false)
	if err != nil {
		file.Close()
		return nil, err
	}
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), file.Close())
	}, nil
}

// newProvider builds a provider exporting to w. sync exports each span as
// it ends, which tests rely on.
func newProvider(w io.Writer, version string, sync bool) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", version),
	)

	processor := sdktrace.WithBatcher(exporter)
	if sync {
		processor = sdktrace.WithSyncer(exporter)
	}
	return sdktrace.NewTracerProvider(processor, sdktrace.WithResource(res)), nil
}
