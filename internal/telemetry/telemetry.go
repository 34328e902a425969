// Package telemetry implements the structured event pipeline from spec
// §4.8: a monotonic, per-request sequence of named events with the
// event-first promotion rule for job-level spans, built atop the
// ports.EventPublisher port the logging infrastructure already implements.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/zerverhq/zerver/internal/ports"
)

// DefaultPromoteQueueMs and DefaultPromoteParkMs are the spec §4.8 default
// thresholds ("queue_wait_ms >= PROMOTE_QUEUE_MS (default 5) or any park
// episode >= PROMOTE_PARK_MS (default 5)").
const (
	DefaultPromoteQueueMs = 5.0
	DefaultPromoteParkMs  = 5.0
)

// Event is the structured record telemetry emits; it satisfies
// ports.DomainEvent so it flows through the existing EventPublisher
// machinery (log sink, future metrics/trace adapters, test subscribers).
type Event struct {
	Name      string
	RequestID string
	Sequence  uint64
	Timestamp time.Time
	Fields    map[string]any
}

func (e Event) EventType() string { return e.Name }

func (e Event) Payload() interface{} {
	payload := make(map[string]interface{}, len(e.Fields)+3)
	for k, v := range e.Fields {
		payload[k] = v
	}
	payload["request_id"] = e.RequestID
	payload["sequence"] = e.Sequence
	payload["timestamp"] = e.Timestamp
	return payload
}

// Pipeline assigns monotonic per-request sequence numbers and publishes
// events through publisher (spec §8 "the total ordering of emitted events
// per request_id is monotonic in time and sequence").
type Pipeline struct {
	publisher ports.EventPublisher

	mu            sync.Mutex
	seq           map[string]uint64
	promoteQueue  float64
	promoteParkMs float64
	forcePromote  bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPromotionThresholds overrides the default 5ms promotion thresholds.
func WithPromotionThresholds(queueMs, parkMs float64) Option {
	return func(p *Pipeline) {
		p.promoteQueue = queueMs
		p.promoteParkMs = parkMs
	}
}

// WithForcedPromotion always promotes job-level events to a dedicated span
// (spec §4.8 "a debug flag forces promotion").
func WithForcedPromotion() Option {
	return func(p *Pipeline) { p.forcePromote = true }
}

// New builds a Pipeline over publisher.
func New(publisher ports.EventPublisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		publisher:     publisher,
		seq:           make(map[string]uint64),
		promoteQueue:  DefaultPromoteQueueMs,
		promoteParkMs: DefaultPromoteParkMs,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit publishes one event for requestID, stamping it with the next
// sequence number for that request.
func (p *Pipeline) Emit(ctx context.Context, requestID, name string, fields map[string]any) {
	ev := Event{
		Name:      name,
		RequestID: requestID,
		Sequence:  p.nextSeq(requestID),
		Timestamp: time.Now(),
		Fields:    fields,
	}
	if p.publisher != nil {
		_ = p.publisher.Publish(ctx, ev)
	}
}

func (p *Pipeline) nextSeq(requestID string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq[requestID]++
	return p.seq[requestID]
}

// ForgetRequest drops the sequence counter for requestID once a request has
// finalized, so long-lived processes do not leak one entry per request.
func (p *Pipeline) ForgetRequest(requestID string) {
	p.mu.Lock()
	delete(p.seq, requestID)
	p.mu.Unlock()
}

// JobEvents buffers the events recorded against one logical span (an effect
// attempt or a step invocation) until the span's completion is known, so the
// promotion rule can decide how to emit them.
type JobEvents struct {
	SpanName    string
	QueueWaitMs float64
	ParkMs      float64
	Buffered    []BufferedEvent
}

// BufferedEvent is one event recorded against a span before the promotion
// decision is made.
type BufferedEvent struct {
	Name   string
	Fields map[string]any
}

// RecordJob emits the buffered job-level events for one span, promoting to a
// dedicated job_start/job_end pair when queue wait or park time crossed the
// configured thresholds (spec §4.8 event-first promotion rule). Otherwise
// the events are emitted flat, tagged with the parent span's name.
func (p *Pipeline) RecordJob(ctx context.Context, requestID string, job JobEvents) {
	promote := p.forcePromote || job.QueueWaitMs >= p.promoteQueue || job.ParkMs >= p.promoteParkMs

	if !promote {
		for _, be := range job.Buffered {
			fields := withParent(be.Fields, job.SpanName)
			p.Emit(ctx, requestID, be.Name, fields)
		}
		return
	}

	p.Emit(ctx, requestID, "job_start", map[string]any{
		"span":          job.SpanName,
		"queue_wait_ms": job.QueueWaitMs,
		"park_ms":       job.ParkMs,
	})
	for _, be := range job.Buffered {
		p.Emit(ctx, requestID, be.Name, withParent(be.Fields, job.SpanName))
	}
	p.Emit(ctx, requestID, "job_end", map[string]any{"span": job.SpanName})
}

// requestSink adapts a Pipeline to the reqctx.EventSink interface for one
// request, without internal/reqctx importing internal/telemetry (reqctx
// only depends on the unexported shape of EventSink, which this satisfies
// structurally).
type requestSink struct {
	pipeline  *Pipeline
	requestID string
}

func (s requestSink) Event(name string, fields map[string]any) {
	s.pipeline.Emit(context.Background(), s.requestID, name, fields)
}

// SinkFor returns a per-request telemetry handle suitable for reqctx.New.
func (p *Pipeline) SinkFor(requestID string) interface {
	Event(name string, fields map[string]any)
} {
	return requestSink{pipeline: p, requestID: requestID}
}

func withParent(fields map[string]any, span string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["span"] = span
	return out
}
