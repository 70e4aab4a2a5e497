// Package telemetry installs the OpenTelemetry trace and meter providers,
// exporting over OTLP gRPC.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dwsmith1983/metricwatch/pkg/types"
)

const defaultServiceName = "metricwatch"

// Providers owns the installed SDK providers. The zero value is a no-op.
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Flush exports buffered spans and metrics without stopping the providers.
func (p *Providers) Flush(ctx context.Context) error {
	var err error
	if p.tp != nil {
		err = errors.Join(err, p.tp.ForceFlush(ctx))
	}
	if p.mp != nil {
		err = errors.Join(err, p.mp.ForceFlush(ctx))
	}
	return err
}

// Shutdown flushes and stops the providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var err error
	if p.tp != nil {
		err = errors.Join(err, p.tp.Shutdown(ctx))
	}
	if p.mp != nil {
		err = errors.Join(err, p.mp.Shutdown(ctx))
	}
	p.tp, p.mp = nil, nil
	return err
}

// Setup installs global providers from cfg. A nil cfg or empty endpoint leaves
// the no-op globals in place.
func Setup(ctx context.Context, cfg *types.TelemetryConfig) (*Providers, error) {
	p := &Providers{}
	if cfg == nil || cfg.OTLPEndpoint == "" {
		return p, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
	}
	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(p.tp)

	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("creating metric exporter: %w", err), p.Shutdown(ctx))
	}
	p.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(30*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(p.mp)

	return p, nil
}
