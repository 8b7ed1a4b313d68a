// Package observability configures OpenTelemetry tracing.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/okian/calmmind/pkg/logger"
)

const batchTimeout = 5 * time.Second

// Config selects how spans are exported.
type Config struct {
	ServiceName string
	Version     string

	// Enabled turns on the stdout exporter. When false a provider without
	// exporters is installed, so spans still carry trace IDs for logs.
	Enabled bool

	// Writer receives exported spans; nil means stdout.
	Writer io.Writer

	// SampleRatio is the fraction of root spans sampled; values outside
	// (0,1] mean always sample.
	SampleRatio float64

	// Sync exports each span as it ends instead of batching.
	Sync bool
}

var (
	otelOnce     sync.Once
	otelShutdown = func(context.Context) error { return nil }
	otelErr      error
)

// Init installs the global tracer provider once and returns its shutdown
// function. Later calls return the first result.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	otelOnce.Do(func() {
		tp, err := NewTracerProvider(ctx, cfg)
		if err != nil {
			otelErr = err
			return
		}
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		otelShutdown = tp.Shutdown
		logger.Get().Named("otel").Info(ctx, "tracing initialized",
			logger.String("service", serviceName(cfg)), logger.Bool("export", cfg.Enabled))
	})
	return otelShutdown, otelErr
}

// NewTracerProvider builds a provider for cfg without installing it.
func NewTracerProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName(cfg)),
		semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
		attribute.String("service.component", "calmmind"),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(res),
	}

	if cfg.Enabled {
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("otel stdout exporter: %w", err)
		}
		if cfg.Sync {
			opts = append(opts, sdktrace.WithSyncer(exp))
		} else {
			opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(batchTimeout)))
		}
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func serviceName(cfg Config) string {
	if name := strings.TrimSpace(cfg.ServiceName); name != "" {
		return name
	}
	return "calmmind"
}
