// Package metrics records pipeline counters through OpenTelemetry and
// serves them in Prometheus text format.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"speecheval/internal/evaluation"
	"speecheval/internal/merge"
	"speecheval/internal/queue"
)

const meterName = "speecheval"

// Telemetry owns the meter provider and the instruments the pipeline
// reports through. It satisfies merge.Recorder, evaluation.Recorder, and
// workflow.Observer.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler

	jobs        metric.Int64Counter
	merges      metric.Int64Counter
	agreement   metric.Float64Histogram
	llmAttempts metric.Int64Counter
	exhaustions metric.Int64Counter
}

// New builds a Telemetry with its own Prometheus registry.
func New() (*Telemetry, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)

	t := &Telemetry{
		provider: provider,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	if t.jobs, err = meter.Int64Counter("speecheval.job.transitions",
		metric.WithDescription("Job stage and status changes")); err != nil {
		return nil, err
	}
	if t.merges, err = meter.Int64Counter("speecheval.merges",
		metric.WithDescription("Merged segment transcripts by confidence tier and resolution method")); err != nil {
		return nil, err
	}
	if t.agreement, err = meter.Float64Histogram("speecheval.merge.agreement",
		metric.WithDescription("Word-level agreement between the two ASR transcripts"),
		metric.WithExplicitBucketBoundaries(0.2, 0.4, 0.5, 0.6, 0.8, 0.9, 1)); err != nil {
		return nil, err
	}
	if t.llmAttempts, err = meter.Int64Counter("speecheval.llm.attempts",
		metric.WithDescription("Scoring model calls by model and outcome")); err != nil {
		return nil, err
	}
	if t.exhaustions, err = meter.Int64Counter("speecheval.quota.exhaustions",
		metric.WithDescription("Credential and model pairs marked exhausted for the day")); err != nil {
		return nil, err
	}
	return t, nil
}

// Handler serves the Prometheus scrape endpoint. All recording methods are
// no-ops on a nil Telemetry so callers can leave metrics disabled.
func (t *Telemetry) Handler() http.Handler {
	if t == nil {
		return nil
	}
	return t.handler
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// RecordMerge counts one merged segment.
func (t *Telemetry) RecordMerge(ctx context.Context, res merge.Result) {
	if t == nil {
		return
	}
	t.merges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", string(res.ConfidenceTier)),
		attribute.String("method", string(res.ResolutionMethod)),
	))
	t.agreement.Record(ctx, res.AgreementScore)
}

// RecordLLMAttempt counts one scoring call.
func (t *Telemetry) RecordLLMAttempt(ctx context.Context, model string, outcome evaluation.Outcome) {
	if t == nil {
		return
	}
	t.llmAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome.String()),
	))
}

// QuotaExhausted counts an exhaustion mark. Its signature matches
// quota.ExhaustionHook.
func (t *Telemetry) QuotaExhausted(ctx context.Context, _ string, model string) {
	if t == nil {
		return
	}
	t.exhaustions.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}

// JobChanged counts a job transition.
func (t *Telemetry) JobChanged(ctx context.Context, job *queue.Job) {
	if t == nil || job == nil {
		return
	}
	t.jobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", string(job.Stage)),
		attribute.String("status", string(job.Status)),
	))
}
