package ports

import "context"

// MetricsCollector records quantitative observability signals. The interface is
// intentionally generic so adapters can back onto Prometheus, StatsD, or
// vendor-specific SDKs. Standard metric names include:
//   - Counters:
//     zerver_requests_total{status="2xx|4xx|5xx"}
//     zerver_steps_total{layer="...", outcome="continue|done|fail|need"}
//     zerver_effects_total{kind="...", outcome="success|failure|cancelled"}
//     zerver_retries_total{kind="..."}
//   - Gauges:
//     zerver_requests_active
//     zerver_scheduler_queue_depth{band="interactive|default|batch"}
//   - Histograms:
//     zerver_request_duration_seconds
//     zerver_step_duration_seconds{layer="..."}
//     zerver_effect_duration_seconds{kind="..."}
type MetricsCollector interface {
	IncCounter(ctx context.Context, name string, labels map[string]string)
	SetGauge(ctx context.Context, name string, value float64, labels map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, labels map[string]string)
}

// Tracer manages distributed tracing spans. Span names follow the convention
// `<component>.<operation>` (e.g., `interpreter.run_step`, `dispatcher.dispatch`,
// `config.load`, `reactor.submit_work`). Adapters should propagate correlation
// IDs and integrate with the chosen tracing backend (e.g., OpenTelemetry).
type Tracer interface {
	StartSpan(ctx context.Context, name string, attributes ...interface{}) (context.Context, Span)
	Inject(ctx context.Context, carrier interface{}) error
	Extract(ctx context.Context, carrier interface{}) (context.Context, error)
}

// Span represents an active tracing span.
type Span interface {
	SetAttribute(key string, value interface{})
	SetStatus(status SpanStatus, message string)
	End()
}

// SpanStatus provides strongly typed span result semantics.
type SpanStatus string

const (
	SpanStatusOK    SpanStatus = "ok"
	SpanStatusError SpanStatus = "error"
)
