// Package metrics exposes runtime counters as OpenTelemetry instruments on the
// global meter provider. Instruments created before telemetry.Setup forward to
// the real provider once it is installed.
package metrics

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Scope is the instrumentation scope for every metricwatch meter and tracer.
const Scope = "github.com/dwsmith1983/metricwatch"

var meter = otel.Meter(Scope)

var (
	IngestRuns       = counter("metricwatch.ingest.runs", "Ingestion passes started")
	MetricsProcessed = counter("metricwatch.ingest.metrics", "Tracked metrics processed")
	MetricFailures   = counter("metricwatch.ingest.metric_failures", "Tracked metrics that failed a step")
	ValuesInserted   = counter("metricwatch.ingest.values_inserted", "Metric values written")
	ValuesPruned     = counter("metricwatch.ingest.values_pruned", "Metric values deleted by the lookback sweep")
	SlowRuns         = counter("metricwatch.ingest.slow_runs", "Passes exceeding the slowness threshold")
	AlertsQueued     = counter("metricwatch.alerts.queued", "Spike alerts raised by the evaluator")
	AlertsSent       = counter("metricwatch.alerts.sent", "Notifier messages delivered")
	AlertsFailed     = counter("metricwatch.alerts.failed", "Notifier messages that failed")
	FreshnessChecks  = counter("metricwatch.freshness.checks", "Freshness probes run")
	FreshnessAlerts  = counter("metricwatch.freshness.alerts", "Freshness alerts sent")

	RunDuration = histogram("metricwatch.ingest.duration", "s", "Wall time of one ingestion pass")
)

// Kind returns an add option tagging a measurement with an error kind.
func Kind(kind string) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}

// Status returns an add option tagging a measurement with a status.
func Status(status string) metric.AddOption {
	return metric.WithAttributes(attribute.String("status", status))
}

func counter(name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		panic(err)
	}
	return c
}

func histogram(name, unit, desc string) metric.Float64Histogram {
	h, err := meter.Float64Histogram(name, metric.WithUnit(unit), metric.WithDescription(desc))
	if err != nil {
		panic(err)
	}
	return h
}
