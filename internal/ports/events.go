package ports

import "context"

const (
	// EventRequestStart is emitted once per request, carrying method/path/id.
	EventRequestStart = "request_start"
	// EventRequestEnd is emitted on finalize, after on_exit callbacks run.
	EventRequestEnd = "request_end"
	// EventStepStart is emitted before a step runs.
	EventStepStart = "step_start"
	// EventStepEnd carries the step's outcome (Continue/Done/Fail/Need/Error).
	EventStepEnd = "step_end"
	// EventNeedRequested is emitted when a step parks on a Need.
	EventNeedRequested = "need_requested"
	// EventNeedJoin is emitted when a Need's join condition is evaluated.
	EventNeedJoin = "need_join"
	// EventEffectStart is emitted on every dispatch attempt of an effect.
	EventEffectStart = "effect_start"
	// EventEffectEnd is emitted once per effect, when its final attempt
	// completes, success or not.
	EventEffectEnd = "effect_end"
	// EventJobStart/EventJobEnd bracket a promoted dedicated span.
	EventJobStart = "job_start"
	EventJobEnd   = "job_end"
	// EventSlotWrite is emitted when an effect's result is written to its
	// token slot; a step's own slot.Put emits nothing.
	EventSlotWrite = "slot_write"
	// EventRetry is emitted before a retried attempt is submitted.
	EventRetry = "retry"
	// EventComputeBudgetExceeded/EventComputeBudgetYield are emitted by the
	// compute budget enforcer.
	EventComputeBudgetExceeded = "compute_budget_exceeded"
	EventComputeBudgetYield    = "compute_budget_yield"
)

// DomainEvent represents a significant occurrence within the domain or
// application layer. Events carry structured payloads that downstream
// subscribers can use for logging, UI updates, or integrations.
type DomainEvent interface {
	EventType() string
	Payload() interface{}
}

// EventPublisher distributes events to interested subscribers. Dispatch is
// synchronous—Publish blocks until all handlers run—ensuring observability
// signals appear before the process exits. Handlers may spawn goroutines for
// async processing if work should continue in the background. Implementations
// must be thread-safe.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
}

// EventHandler processes an event of a specific type. Handlers should avoid
// panicking; failures should be surfaced via returned errors so publishers can
// log diagnostics and continue delivering to remaining subscribers.
type EventHandler func(context.Context, DomainEvent) error

// Subscription represents a registered handler. Callers must invoke
// Unsubscribe to stop receiving events and release resources.
type Subscription interface {
	Unsubscribe()
}
