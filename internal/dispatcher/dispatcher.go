// Package dispatcher implements the Effect Dispatcher & Join Manager from
// spec §4.4: it classifies effects as I/O- or compute-bound, submits them to
// the reactor or the compute pool, applies the retry/backoff policy, tracks
// per-Need completion counters, and signals the interpreter when a parked
// context's join condition is satisfied.
package dispatcher

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/zerverhq/zerver/internal/budget"
	"github.com/zerverhq/zerver/internal/decision"
	"github.com/zerverhq/zerver/internal/effector"
	"github.com/zerverhq/zerver/internal/reactor"
	"github.com/zerverhq/zerver/internal/scheduler"
	"github.com/zerverhq/zerver/internal/slot"
	"github.com/zerverhq/zerver/internal/telemetry"
	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

const (
	backoffBase   = 100 * time.Millisecond
	backoffCap    = 5 * time.Second
	backoffJitter = 0.2
)

// Dispatcher routes effects to the reactor (I/O-bound) or a compute pool
// (compute-bound), per spec §4.4's classification rule.
type Dispatcher struct {
	registry  *effector.Registry
	reactor   *reactor.Reactor
	compute   *scheduler.Pool
	telemetry *telemetry.Pipeline
}

// New builds a Dispatcher. compute may be nil when the compute pool is
// Disabled (spec §4.5); compute-bound effects then run inline on the
// reactor's I/O workers instead.
func New(registry *effector.Registry, r *reactor.Reactor, compute *scheduler.Pool, tp *telemetry.Pipeline) *Dispatcher {
	return &Dispatcher{registry: registry, reactor: r, compute: compute, telemetry: tp}
}

// Request describes one Need to dispatch (spec §3 Need, §4.3 parking
// state). Store is shared with the owning CtxBase; Dispatch writes effect
// results into it by token.
type Request struct {
	RequestID string
	Effects   []decision.Effect
	Mode      decision.Mode
	Join      decision.Join
	Store     *slot.Store
	Budget    *budget.Enforcer
	Deadline  time.Time
	// OnResume is invoked exactly once, when the join condition is met. err
	// is non-nil only when the join contract calls the context a failure
	// (spec §4.4 join evaluation rules).
	OnResume func(err error)
}

// joinState tracks one Need's completion counters (spec §3 "atomic counters
// outstanding and completed, required_effect_count, any_effect_succeeded,
// first_failure").
type joinState struct {
	mu               sync.Mutex
	mode             decision.Mode
	join             decision.Join
	outstanding       int
	completed         int
	completedRequired int
	requiredCount     int
	anySucceeded      bool
	firstFailure      error
	resumed           bool
	done              []bool
	onResume          func(err error)
	store             *slot.Store
	effects           []decision.Effect
	budget            *budget.Enforcer
	// timer fires req.Deadline and synthesizes a timeout failure if the Need
	// has not joined by then (spec §4.3/§4.5 "a timer fires when the
	// deadline elapses; if the context is still Waiting, the dispatcher
	// synthesizes a timeout failure"). Guarded by mu so it can be stopped
	// from whichever path (normal join or timeout) resumes first.
	timer *reactor.Timer
}

// Dispatch submits req's effects per its Mode and begins tracking the join
// condition (spec §4.3 "Submit effects per mode").
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	if len(req.Effects) == 0 {
		return zerrors.New(zerrors.Internal, "dispatcher", "", errEmptyEffects{})
	}

	required := 0
	for _, e := range req.Effects {
		if e.Required {
			required++
		}
	}

	js := &joinState{
		mode:          req.Mode,
		join:          req.Join,
		outstanding:   len(req.Effects),
		requiredCount: required,
		onResume:      req.OnResume,
		store:         req.Store,
		effects:       req.Effects,
		budget:        req.Budget,
		done:          make([]bool, len(req.Effects)),
	}

	if d.telemetry != nil {
		d.telemetry.Emit(ctx, req.RequestID, "need_requested", map[string]any{
			"count": len(req.Effects),
			"mode":  req.Mode,
			"join":  req.Join,
		})
	}

	if !req.Deadline.IsZero() {
		requestID := req.RequestID
		t := d.reactor.SubmitTimer(req.Deadline, func() { d.timeout(ctx, requestID, js) })
		js.mu.Lock()
		if js.resumed {
			js.mu.Unlock()
			t.Stop()
		} else {
			js.timer = t
			js.mu.Unlock()
		}
	}

	if req.Mode == decision.Sequential {
		d.submitOne(ctx, req.RequestID, js, 0)
		return nil
	}

	for i := range req.Effects {
		d.submitOne(ctx, req.RequestID, js, i)
	}
	return nil
}

// timeout fires when req.Deadline elapses while the Need is still parked
// (spec §4.3 "if ctx.deadline < now at any dispatch point... cancels
// outstanding optional effects"). It cancels every effect that has not yet
// completed and resumes the context with a Timeout failure, unless the join
// already resumed it first.
func (d *Dispatcher) timeout(ctx context.Context, requestID string, js *joinState) {
	js.mu.Lock()
	if js.resumed {
		js.mu.Unlock()
		return
	}
	js.resumed = true
	var toCancel []decision.Effect
	for i, done := range js.done {
		if !done {
			toCancel = append(toCancel, js.effects[i])
		}
	}
	onResume := js.onResume
	js.mu.Unlock()

	for _, e := range toCancel {
		if eff, err := d.registry.Resolve(e.Kind); err == nil {
			_ = eff.Cancel(e.Target)
		}
	}

	if d.telemetry != nil {
		d.telemetry.Emit(ctx, requestID, "need_join", map[string]any{"ready": true, "timeout": true})
	}

	if onResume != nil {
		onResume(zerrors.New(zerrors.Timeout, "effect", "need", errNeedTimeout{}))
	}
}

// budgetParkRetry is how long submitOne waits before re-attempting
// admission for a compute task the budget enforcer parked (spec §4.7
// register_task Park{retry_after_ms}; this implementation uses a fixed
// retry interval rather than a per-decision one).
const budgetParkRetry = 100 * time.Millisecond

// budgetToken derives the compute budget enforcer's per-task key from an
// effect: its token when the step declared one, otherwise its target.
func budgetToken(e decision.Effect) string {
	if e.Token != "" {
		return string(e.Token)
	}
	return e.Target
}

func (d *Dispatcher) submitOne(ctx context.Context, requestID string, js *joinState, index int) {
	effect := js.effects[index]
	if effect.Parameterize != nil {
		effect = effect.Parameterize(func(id slot.ID) (any, bool) {
			return slot.GetRaw(js.store, id)
		})
	}

	if effect.Kind.IsCompute() && js.budget != nil {
		token := budgetToken(effect)
		switch js.budget.RegisterTask(budget.Task{Token: token, ParkOnBudgetExceeded: !effect.Required}) {
		case budget.Reject:
			if d.telemetry != nil {
				d.telemetry.Emit(ctx, requestID, "compute_budget_exceeded", map[string]any{"token": token, "decision": "reject"})
			}
			d.complete(ctx, requestID, js, index, effect, decision.Result{
				Err: zerrors.New(zerrors.TooManyRequests, "budget", token, errBudgetExceeded{}),
			})
			return
		case budget.Park:
			if d.telemetry != nil {
				d.telemetry.Emit(ctx, requestID, "compute_budget_registered", map[string]any{"token": token, "decision": "park"})
			}
			d.reactor.SubmitTimer(time.Now().Add(budgetParkRetry), func() {
				d.submitOne(ctx, requestID, js, index)
			})
			return
		default:
			if d.telemetry != nil {
				d.telemetry.Emit(ctx, requestID, "compute_budget_registered", map[string]any{"token": token, "decision": "allow"})
			}
		}
	}

	if d.telemetry != nil {
		d.telemetry.Emit(ctx, requestID, "effect_start", map[string]any{
			"kind":   effect.Kind,
			"target": effect.Target,
			"index":  index,
		})
	}

	run := func(workerCtx context.Context) {
		start := time.Now()
		result := d.executeWithRetry(workerCtx, requestID, effect)
		if effect.Kind.IsCompute() && js.budget != nil {
			token := budgetToken(effect)
			if exceeded := js.budget.RecordCPU(token, time.Since(start).Milliseconds()); exceeded && d.telemetry != nil {
				d.telemetry.Emit(ctx, requestID, "compute_budget_exceeded", map[string]any{"token": token})
			}
			if js.budget.ShouldYield(token) && d.telemetry != nil {
				d.telemetry.Emit(ctx, requestID, "compute_budget_yield", map[string]any{"token": token})
			}
			js.budget.UnregisterTask(token)
		}
		d.complete(ctx, requestID, js, index, effect, result)
	}

	if effect.Kind.IsCompute() && d.compute != nil {
		_ = d.compute.Submit(scheduler.Task{Run: run})
		return
	}

	_ = d.reactor.SubmitWork(func() any {
		run(ctx)
		return nil
	}, func(any) {})
}

// executeWithRetry runs effect to completion, applying the retry/backoff
// policy from spec §4.2/§4.4.
func (d *Dispatcher) executeWithRetry(ctx context.Context, requestID string, e decision.Effect) decision.Result {
	eff, err := d.registry.Resolve(e.Kind)
	if err != nil {
		return decision.Result{Err: zerrors.New(zerrors.ServiceUnavailable, "dispatch", string(e.Kind), err)}
	}

	maxAttempts := e.Retry.Max + 1
	retryable := e.IdempotencyKey != "" || !isWriteKind(e.Kind)

	var result decision.Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// submitOne emits effect_start for the first attempt; each retry
		// emits its own.
		if attempt > 1 && d.telemetry != nil {
			d.telemetry.Emit(ctx, requestID, "effect_start", map[string]any{
				"kind":    e.Kind,
				"target":  e.Target,
				"attempt": attempt,
			})
		}
		attemptCtx := ctx
		var cancel context.CancelFunc
		if e.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		}
		result = eff.Execute(attemptCtx, e)
		if cancel != nil {
			cancel()
		}

		if result.Success {
			return result
		}
		if attempt == maxAttempts || !retryable || !zerrors.IsTransient(result.Err, statusOf(result.Err)) {
			return result
		}

		if d.telemetry != nil {
			d.telemetry.Emit(ctx, requestID, "retry", map[string]any{
				"target":  e.Target,
				"attempt": attempt,
			})
		}

		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			return decision.Result{Err: zerrors.New(zerrors.Timeout, "effect", e.Target, ctx.Err())}
		}
	}
	return result
}

func isWriteKind(k decision.Kind) bool {
	switch k {
	case decision.KindHTTPPost, decision.KindHTTPPut, decision.KindHTTPDelete,
		decision.KindDBPut, decision.KindDBDelete, decision.KindFileWrite,
		decision.KindCacheSet, decision.KindCacheDelete:
		return true
	default:
		return false
	}
}

func statusOf(err error) int {
	var zerr *zerrors.Error
	if zerrors.As(err, &zerr) {
		return zerr.Status()
	}
	return 0
}

// backoff computes the exponential-with-jitter delay for a retry attempt
// (spec §4.2: "base 100 ms, cap 5 s, jittered ±20%").
func backoff(attempt int) time.Duration {
	d := backoffBase << uint(attempt-1)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	jitter := 1 + (rand.Float64()*2-1)*backoffJitter
	return time.Duration(float64(d) * jitter)
}

// complete records one effect's outcome and evaluates the join condition
// (spec §4.4 "On success"/"On failure"/"Join evaluation").
func (d *Dispatcher) complete(ctx context.Context, requestID string, js *joinState, index int, effect decision.Effect, result decision.Result) {
	js.mu.Lock()
	js.done[index] = true

	if result.Success {
		if effect.Token != "" {
			_ = slot.PutRaw(js.store, effect.Token, result.Value)
			if d.telemetry != nil {
				d.telemetry.Emit(ctx, requestID, "slot_write", map[string]any{"slot": effect.Token})
			}
		}
		js.completed++
		js.anySucceeded = true
		if effect.Required {
			js.completedRequired++
		}
	} else {
		if effect.Required && js.firstFailure == nil {
			js.firstFailure = result.Err
		}
		js.completed++
		if effect.Required {
			js.completedRequired++
		}
	}

	if d.telemetry != nil {
		d.telemetry.Emit(ctx, requestID, "effect_end", map[string]any{
			"success": result.Success,
			"index":   index,
		})
	}

	ready, joinErr := evaluateJoin(js)
	alreadyResumed := js.resumed
	var toCancel []decision.Effect
	if ready && !alreadyResumed {
		js.resumed = true
		if js.timer != nil {
			js.timer.Stop()
		}
		// Only any/first_success short-circuit outstanding effects (spec
		// §4.4 "Cancellation: when the join condition is met under any or
		// first_success, still-outstanding effects are marked cancelled").
		// all/all_required resume while optional effects may still be
		// running; those keep running and simply write their slots without
		// re-triggering resume.
		if js.join == decision.JoinAny || js.join == decision.JoinFirstSuccess {
			for i, done := range js.done {
				if !done {
					toCancel = append(toCancel, js.effects[i])
				}
			}
		}
	}

	nextSequential := js.mode == decision.Sequential && !ready && index+1 < len(js.effects)
	var nextIndex int
	if nextSequential {
		nextIndex = index + 1
	}
	onResume := js.onResume
	js.mu.Unlock()

	for _, e := range toCancel {
		if eff, err := d.registry.Resolve(e.Kind); err == nil {
			_ = eff.Cancel(e.Target)
		}
	}

	if d.telemetry != nil {
		d.telemetry.Emit(ctx, requestID, "need_join", map[string]any{"ready": ready})
	}

	if nextSequential {
		d.submitOne(ctx, requestID, js, nextIndex)
		return
	}

	if ready && !alreadyResumed && onResume != nil {
		onResume(joinErr)
	}
}

// evaluateJoin implements the four join policies from spec §4.4. Callers
// must hold js.mu.
func evaluateJoin(js *joinState) (ready bool, failure error) {
	switch js.join {
	case decision.JoinAll:
		if js.completed == js.outstanding {
			if js.firstFailure != nil {
				return true, js.firstFailure
			}
			return true, nil
		}
		return false, nil

	case decision.JoinAllRequired:
		if js.completedRequired == js.requiredCount {
			if js.firstFailure != nil {
				return true, js.firstFailure
			}
			return true, nil
		}
		return false, nil

	case decision.JoinAny:
		return js.completed >= 1, js.firstFailure

	case decision.JoinFirstSuccess:
		if js.anySucceeded {
			return true, nil
		}
		if js.completed == js.outstanding {
			if js.requiredCount > 0 {
				return true, js.firstFailure
			}
			return true, nil
		}
		return false, nil

	default:
		return js.completed == js.outstanding, js.firstFailure
	}
}

type errEmptyEffects struct{}

func (errEmptyEffects) Error() string { return "need must request at least one effect" }

type errNeedTimeout struct{}

func (errNeedTimeout) Error() string { return "need deadline exceeded while parked" }

type errBudgetExceeded struct{}

func (errBudgetExceeded) Error() string { return "compute budget exceeded" }
