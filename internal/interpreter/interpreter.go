// Package interpreter implements the Pipeline Interpreter / Step Executor
// from spec §4.3: it drives one StepExecutionContext through its compiled
// step list, applying Decision transitions until a terminal Response is
// produced, parking on Need and resuming via the dispatcher.
package interpreter

import (
	"context"
	"sync"
	"time"

	"github.com/zerverhq/zerver/internal/budget"
	"github.com/zerverhq/zerver/internal/decision"
	"github.com/zerverhq/zerver/internal/dispatcher"
	"github.com/zerverhq/zerver/internal/pipeline"
	"github.com/zerverhq/zerver/internal/reqctx"
	"github.com/zerverhq/zerver/internal/scheduler"
	"github.com/zerverhq/zerver/internal/slot"
	"github.com/zerverhq/zerver/internal/telemetry"
	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

// State is one of the six states a StepExecutionContext can occupy
// (spec §3).
type State int

const (
	Ready State = iota
	Running
	Waiting
	Resuming
	Completed
	Failed
)

// ErrorRenderer turns a step/effect failure into a terminal Response
// (spec §4.3 "invoke the route's error renderer").
type ErrorRenderer func(err error, base *reqctx.CtxBase) decision.Response

// ExecContext is the StepExecutionContext from spec §3: the interpreter's
// bookkeeping for one in-flight request, layered on top of the immutable
// CtxBase/slot data in reqctx.
type ExecContext struct {
	Base     *reqctx.CtxBase
	Pipeline *pipeline.Compiled
	Renderer ErrorRenderer
	// Budget is the per-request Compute Budget Enforcer (spec §4.7).
	// runtime.Handle constructs a fresh one for every request; when it is
	// nil the dispatcher skips budget accounting.
	Budget *budget.Enforcer

	mu           sync.Mutex
	index        int
	state        State
	priority     byte
	enqueueCount int
	attempts     int
	enqueuedAt   time.Time
	parkedAt     time.Time
	deadline     time.Time

	pendingCont decision.Continuation
	response    decision.Response
	done        chan struct{}
}

// New constructs an ExecContext Ready to run at step 0.
func New(base *reqctx.CtxBase, compiled *pipeline.Compiled, renderer ErrorRenderer, deadline time.Time) *ExecContext {
	return &ExecContext{
		Base:     base,
		Pipeline: compiled,
		Renderer: renderer,
		state:    Ready,
		deadline: deadline,
		done:     make(chan struct{}),
	}
}

// Wait blocks until the context reaches Completed, returning the rendered
// response.
func (ec *ExecContext) Wait() decision.Response {
	<-ec.done
	return ec.response
}

// Interpreter drives ExecContexts to completion, submitting continuation
// work to a scheduler pool and parking on Need via a dispatcher.
type Interpreter struct {
	continuations *scheduler.Pool
	dispatcher    *dispatcher.Dispatcher
	telemetry     *telemetry.Pipeline
}

// NewInterpreter builds an Interpreter bound to the given continuation pool and
// dispatcher.
func NewInterpreter(continuations *scheduler.Pool, d *dispatcher.Dispatcher, tp *telemetry.Pipeline) *Interpreter {
	return &Interpreter{continuations: continuations, dispatcher: d, telemetry: tp}
}

// Submit enqueues ec onto the continuation pool for its first execution.
func (i *Interpreter) Submit(ctx context.Context, ec *ExecContext) error {
	ec.mu.Lock()
	ec.enqueuedAt = time.Now()
	ec.mu.Unlock()
	i.emit(ctx, ec, "job_enqueued", map[string]any{"queue": "continuation", "depth_start": i.continuations.Len()})

	return i.continuations.Submit(scheduler.Task{
		Priority: ec.priority,
		Run:      func(workerCtx context.Context) { i.Execute(workerCtx, ec) },
	})
}

// Execute dispatches on ec's state (spec §4.3 "invoked by a worker when the
// context is dequeued").
func (i *Interpreter) Execute(ctx context.Context, ec *ExecContext) {
	now := time.Now()
	ec.mu.Lock()
	state := ec.state
	ec.attempts++
	queueWaitMs := msSince(ec.enqueuedAt, now)
	parkMs := 0.0
	resuming := state == Resuming
	if resuming {
		parkMs = msSince(ec.parkedAt, now)
	}
	ec.mu.Unlock()

	events := []telemetry.BufferedEvent{
		{Name: "job_taken", Fields: map[string]any{"worker_id": 0}},
		{Name: "job_started"},
	}
	if resuming {
		events = append([]telemetry.BufferedEvent{{Name: "job_resumed", Fields: map[string]any{"park_ms": parkMs}}}, events...)
	}
	i.recordJob(ctx, ec, "continuation", queueWaitMs, parkMs, events)

	if !ec.deadline.IsZero() && now.After(ec.deadline) {
		i.finalize(ctx, ec, zerrors.New(zerrors.Timeout, "request", ec.Base.Path(), errDeadlineExceeded{}))
		return
	}

	switch state {
	case Ready:
		i.runStep(ctx, ec)
	case Resuming:
		i.runContinuation(ctx, ec)
	default:
		ec.Base.LogDebug("protocol error: context dequeued in unexpected state", nil)
	}
}

func (i *Interpreter) runStep(ctx context.Context, ec *ExecContext) {
	ec.mu.Lock()
	idx := ec.index
	ec.mu.Unlock()

	if idx >= len(ec.Pipeline.Steps) {
		i.finalizeOK(ctx, ec, decision.Response{Status: 200})
		return
	}

	s := ec.Pipeline.Steps[idx]
	layer := ec.Pipeline.Layers[idx]
	i.emit(ctx, ec, "step_start", map[string]any{"layer": layer, "name": s.Name})

	d, err := s.Call(ec.Base)
	if err != nil {
		i.emit(ctx, ec, "step_end", map[string]any{"layer": layer, "name": s.Name, "outcome": "Error"})
		i.finalize(ctx, ec, zerrors.New(zerrors.Internal, "step", s.Name, err))
		return
	}

	i.applyDecision(ctx, ec, s.Name, layer, d)
}

func (i *Interpreter) runContinuation(ctx context.Context, ec *ExecContext) {
	ec.mu.Lock()
	cont := ec.pendingCont
	ec.pendingCont = nil
	ec.mu.Unlock()

	if cont == nil {
		ec.Base.LogDebug("protocol error: resuming context with no continuation", nil)
		return
	}

	view := slot.NewOpenView(ec.Base.Store())
	d, err := cont(view)
	if err != nil {
		i.finalize(ctx, ec, zerrors.New(zerrors.Internal, "continuation", "", err))
		return
	}
	i.applyDecision(ctx, ec, "continuation", pipeline.LayerMain, d)
}

func (i *Interpreter) applyDecision(ctx context.Context, ec *ExecContext, name string, layer pipeline.Layer, d decision.Decision) {
	switch d.Kind {
	case decision.DContinue:
		i.emit(ctx, ec, "step_end", map[string]any{"layer": layer, "name": name, "outcome": "Continue"})
		ec.mu.Lock()
		ec.index++
		ec.state = Ready
		ec.mu.Unlock()
		i.requeue(ctx, ec)

	case decision.DDone:
		i.emit(ctx, ec, "step_end", map[string]any{"layer": layer, "name": name, "outcome": "Done"})
		i.finalizeOK(ctx, ec, d.Response)

	case decision.DFail:
		i.emit(ctx, ec, "step_end", map[string]any{"layer": layer, "name": name, "outcome": "Fail"})
		i.finalize(ctx, ec, d.Err)

	case decision.DNeed:
		if err := decision.ValidateNeed(d); err != nil {
			i.finalize(ctx, ec, err)
			return
		}
		i.emit(ctx, ec, "step_end", map[string]any{"layer": layer, "name": name, "outcome": "Need"})
		i.park(ctx, ec, d)

	default:
		i.finalize(ctx, ec, zerrors.New(zerrors.Internal, "decision", name, errUnknownDecision{}))
	}
}

func (i *Interpreter) park(ctx context.Context, ec *ExecContext, d decision.Decision) {
	ec.mu.Lock()
	ec.state = Waiting
	ec.pendingCont = d.Continuation
	ec.parkedAt = time.Now()
	ec.mu.Unlock()

	cause := "need"
	var token string
	if len(d.Effects) > 0 {
		token = string(d.Effects[0].Token)
	}
	i.emit(ctx, ec, "job_parked", map[string]any{"cause": cause, "token": token})

	deadline := ec.deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(time.Hour)
	}

	err := i.dispatcher.Dispatch(ctx, dispatcher.Request{
		RequestID: ec.Base.RequestID(),
		Effects:   d.Effects,
		Mode:      d.Mode,
		Join:      d.Join,
		Store:     ec.Base.Store(),
		Deadline:  deadline,
		Budget:    ec.Budget,
		OnResume: func(joinErr error) {
			if joinErr != nil {
				// A required effect failed under a join policy that fails
				// the whole context (all, all_required, any, first_success);
				// the continuation never runs (spec §4.4 join evaluation).
				i.finalize(ctx, ec, joinErr)
				return
			}
			ec.mu.Lock()
			ec.state = Resuming
			ec.mu.Unlock()
			i.requeue(ctx, ec)
		},
	})
	if err != nil {
		i.finalize(ctx, ec, err)
	}
}

// requeue re-submits ec through the continuation pool's aging path
// (spec §4.5) rather than a bare Submit, so EnqueueCount accumulates on the
// real context and a context that makes no progress for agingThreshold
// re-queues gets promoted a band.
func (i *Interpreter) requeue(ctx context.Context, ec *ExecContext) {
	ec.mu.Lock()
	task := scheduler.Task{
		Priority:     ec.priority,
		EnqueueCount: ec.enqueueCount,
		Run:          func(workerCtx context.Context) { i.Execute(workerCtx, ec) },
	}
	ec.mu.Unlock()

	requeued, err := i.continuations.Requeue(task)
	if err != nil {
		i.finalize(ctx, ec, err)
		return
	}

	ec.mu.Lock()
	ec.enqueueCount = requeued.EnqueueCount
	ec.priority = requeued.Priority
	ec.enqueuedAt = time.Now()
	ec.mu.Unlock()
	i.emit(ctx, ec, "job_enqueued", map[string]any{"queue": "continuation", "depth_start": i.continuations.Len()})
}

func (i *Interpreter) finalizeOK(ctx context.Context, ec *ExecContext, resp decision.Response) {
	ec.Base.SetStatus(resp.Status)
	i.complete(ctx, ec, resp)
}

func (i *Interpreter) finalize(ctx context.Context, ec *ExecContext, err error) {
	ec.Base.SetLastError(err)
	var resp decision.Response
	if ec.Renderer != nil {
		resp = ec.Renderer(err, ec.Base)
	} else {
		resp = decision.Response{Status: 500}
	}
	ec.Base.SetStatus(resp.Status)
	i.complete(ctx, ec, resp)
}

func (i *Interpreter) complete(ctx context.Context, ec *ExecContext, resp decision.Response) {
	ec.mu.Lock()
	ec.state = Completed
	ec.response = resp
	attempts := ec.attempts
	ec.mu.Unlock()

	ec.Base.RunExitCallbacks()
	i.emit(ctx, ec, "job_completed", map[string]any{"success": resp.Status < 400, "attempts": attempts})
	i.emit(ctx, ec, "request_end", map[string]any{
		"status":      resp.Status,
		"duration_ms": ec.Base.ElapsedMs(),
	})
	close(ec.done)
}

func (i *Interpreter) emit(ctx context.Context, ec *ExecContext, name string, fields map[string]any) {
	if i.telemetry == nil {
		return
	}
	i.telemetry.Emit(ctx, ec.Base.RequestID(), name, fields)
}

// recordJob bundles one scheduler dequeue episode's job_* events through the
// telemetry pipeline's event-first promotion rule (spec §4.8): queued under
// the parent span by default, promoted to a dedicated job_start/job_end pair
// when queueWaitMs or parkMs crosses the configured thresholds.
func (i *Interpreter) recordJob(ctx context.Context, ec *ExecContext, span string, queueWaitMs, parkMs float64, events []telemetry.BufferedEvent) {
	if i.telemetry == nil {
		return
	}
	i.telemetry.RecordJob(ctx, ec.Base.RequestID(), telemetry.JobEvents{
		SpanName:    span,
		QueueWaitMs: queueWaitMs,
		ParkMs:      parkMs,
		Buffered:    events,
	})
}

// msSince returns the elapsed milliseconds between from and now, or 0 if
// from was never stamped.
func msSince(from, now time.Time) float64 {
	if from.IsZero() {
		return 0
	}
	return float64(now.Sub(from).Microseconds()) / 1000.0
}

type errDeadlineExceeded struct{}

func (errDeadlineExceeded) Error() string { return "request deadline exceeded" }

type errUnknownDecision struct{}

func (errUnknownDecision) Error() string { return "unknown decision kind" }
