package interpreter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zerverhq/zerver/internal/decision"
	"github.com/zerverhq/zerver/internal/dispatcher"
	"github.com/zerverhq/zerver/internal/effector"
	"github.com/zerverhq/zerver/internal/pipeline"
	"github.com/zerverhq/zerver/internal/reactor"
	"github.com/zerverhq/zerver/internal/reqctx"
	"github.com/zerverhq/zerver/internal/scheduler"
	"github.com/zerverhq/zerver/internal/slot"
	"github.com/zerverhq/zerver/internal/step"
	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

func newHarness(t *testing.T) (*Interpreter, *reactor.Reactor, *scheduler.Pool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := reactor.New(2, 32)
	t.Cleanup(r.Close)
	pool := scheduler.New(ctx, scheduler.DefaultConfig(2))
	t.Cleanup(pool.Shutdown)

	reg := effector.NewRegistry(effector.NewCache())
	disp := dispatcher.New(reg, r, nil, nil)
	return NewInterpreter(pool, disp, nil), r, pool
}

func renderErr(err error, _ *reqctx.CtxBase) decision.Response {
	status := 500
	if zerr, ok := err.(*zerrors.Error); ok {
		status = zerr.Status()
	}
	return decision.Response{Status: status}
}

func TestEmptyStepListReturns200(t *testing.T) {
	t.Parallel()

	interp, _, _ := newHarness(t)
	compiled, err := pipeline.Compile(nil, nil, nil)
	require.NoError(t, err)

	base := reqctx.New(reqctx.Request{Method: "GET", Path: "/"}, "req-1", nil)
	ec := New(base, compiled, renderErr, time.Time{})
	require.NoError(t, interp.Submit(context.Background(), ec))

	resp := ec.Wait()
	require.Equal(t, 200, resp.Status)
}

func TestContinueAdvancesThroughSteps(t *testing.T) {
	t.Parallel()

	interp, _, _ := newHarness(t)

	first := step.New("first", nil, []slot.ID{"A"}, func(_ *reqctx.CtxBase, v *slot.View) (decision.Decision, error) {
		require.NoError(t, slot.Put(v, "A", 1))
		return decision.Continue(), nil
	})
	second := step.New("second", []slot.ID{"A"}, nil, func(_ *reqctx.CtxBase, v *slot.View) (decision.Decision, error) {
		val, err := slot.Require[int](v, "A")
		require.NoError(t, err)
		return decision.Done(decision.Response{Status: 200 + val}), nil
	})

	compiled, err := pipeline.Compile(nil, nil, []step.Step{first, second})
	require.NoError(t, err)

	base := reqctx.New(reqctx.Request{Method: "GET", Path: "/"}, "req-1", nil)
	ec := New(base, compiled, renderErr, time.Time{})
	require.NoError(t, interp.Submit(context.Background(), ec))

	resp := ec.Wait()
	require.Equal(t, 201, resp.Status)
}

func TestNeedParksAndResumesWithEffectResult(t *testing.T) {
	t.Parallel()

	interp, _, _ := newHarness(t)

	seed := step.New("seed", nil, []slot.ID{"Key"}, func(_ *reqctx.CtxBase, v *slot.View) (decision.Decision, error) {
		require.NoError(t, slot.Put(v, "Key", "k"))
		return decision.Continue(), nil
	})

	warm := step.New("warm", []slot.ID{"Key"}, nil, func(_ *reqctx.CtxBase, v *slot.View) (decision.Decision, error) {
		return decision.Need(
			[]decision.Effect{{Kind: decision.KindCacheSet, Target: "k", Payload: []byte("hit"), Token: "_warm", Required: true}},
			decision.Parallel,
			decision.JoinAll,
			func(view *slot.View) (decision.Decision, error) { return decision.Continue(), nil },
		), nil
	})
	fetch := step.New("fetch", []slot.ID{"Key"}, []slot.ID{"Val"}, func(_ *reqctx.CtxBase, v *slot.View) (decision.Decision, error) {
		return decision.Need(
			[]decision.Effect{{Kind: decision.KindCacheGet, Target: "k", Token: "Val", Required: true}},
			decision.Parallel,
			decision.JoinAll,
			func(view *slot.View) (decision.Decision, error) {
				got, err := slot.Require[[]byte](view, "Val")
				require.NoError(t, err)
				return decision.Done(decision.Response{Status: 200, Body: got}), nil
			},
		), nil
	})

	compiled, err := pipeline.Compile(nil, nil, []step.Step{seed, warm, fetch})
	require.NoError(t, err)

	base := reqctx.New(reqctx.Request{Method: "GET", Path: "/"}, "req-1", nil)
	ec := New(base, compiled, renderErr, time.Time{})
	require.NoError(t, interp.Submit(context.Background(), ec))

	resp := ec.Wait()
	require.Equal(t, 200, resp.Status)
	require.Equal(t, []byte("hit"), resp.Body)
}

func TestNeedFailsContextWithoutRunningContinuationOnRequiredFailure(t *testing.T) {
	t.Parallel()

	interp, _, _ := newHarness(t)

	fetch := step.New("fetch", nil, nil, func(_ *reqctx.CtxBase, v *slot.View) (decision.Decision, error) {
		return decision.Need(
			[]decision.Effect{{Kind: decision.KindCacheGet, Target: "missing", Token: "_never", Required: true}},
			decision.Parallel,
			decision.JoinAll,
			func(view *slot.View) (decision.Decision, error) {
				t.Fatal("continuation must not run when a required effect fails under join=all")
				return decision.Decision{}, nil
			},
		), nil
	})

	compiled, err := pipeline.Compile(nil, nil, []step.Step{fetch})
	require.NoError(t, err)

	base := reqctx.New(reqctx.Request{Method: "GET", Path: "/"}, "req-1", nil)
	ec := New(base, compiled, renderErr, time.Time{})
	require.NoError(t, interp.Submit(context.Background(), ec))

	resp := ec.Wait()
	require.Equal(t, 404, resp.Status)
}

func TestFailInvokesErrorRenderer(t *testing.T) {
	t.Parallel()

	interp, _, _ := newHarness(t)

	failing := step.New("boom", nil, nil, func(_ *reqctx.CtxBase, _ *slot.View) (decision.Decision, error) {
		return decision.Fail(zerrors.New(zerrors.NotFound, "item", "42", nil)), nil
	})

	compiled, err := pipeline.Compile(nil, nil, []step.Step{failing})
	require.NoError(t, err)

	base := reqctx.New(reqctx.Request{Method: "GET", Path: "/"}, "req-1", nil)
	ec := New(base, compiled, renderErr, time.Time{})
	require.NoError(t, interp.Submit(context.Background(), ec))

	resp := ec.Wait()
	require.Equal(t, 404, resp.Status)
}

// slowEffector blocks for delay before succeeding, regardless of the
// context it's handed (the reactor's worker context isn't tied to any
// request deadline); it exists to prove a Need parked on it is interrupted
// by the request deadline rather than waiting out the effect.
type slowEffector struct{ delay time.Duration }

func (e slowEffector) Execute(ctx context.Context, _ decision.Effect) decision.Result {
	select {
	case <-time.After(e.delay):
	case <-ctx.Done():
		return decision.Result{Err: ctx.Err()}
	}
	return decision.Result{Success: true, Value: []byte("late")}
}

func (slowEffector) Supports(k decision.Kind) bool { return k == "fake_slow" }
func (slowEffector) Cancel(string) error           { return nil }

func TestNeedDeadlineExpiresMidFlightWithoutWaitingForEffect(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := reactor.New(2, 32)
	t.Cleanup(r.Close)
	pool := scheduler.New(ctx, scheduler.DefaultConfig(2))
	t.Cleanup(pool.Shutdown)

	reg := effector.NewRegistry(effector.NewCache(), slowEffector{delay: 200 * time.Millisecond})
	disp := dispatcher.New(reg, r, nil, nil)
	interp := NewInterpreter(pool, disp, nil)

	fetch := step.New("fetch", nil, nil, func(_ *reqctx.CtxBase, v *slot.View) (decision.Decision, error) {
		return decision.Need(
			[]decision.Effect{{Kind: "fake_slow", Target: "slow", Token: "_never", Required: true}},
			decision.Parallel,
			decision.JoinAll,
			func(view *slot.View) (decision.Decision, error) {
				t.Fatal("continuation must not run once the request deadline has fired the timeout")
				return decision.Decision{}, nil
			},
		), nil
	})

	compiled, err := pipeline.Compile(nil, nil, []step.Step{fetch})
	require.NoError(t, err)

	base := reqctx.New(reqctx.Request{Method: "GET", Path: "/"}, "req-1", nil)
	ec := New(base, compiled, renderErr, time.Now().Add(50*time.Millisecond))

	start := time.Now()
	require.NoError(t, interp.Submit(context.Background(), ec))

	resp := ec.Wait()
	elapsed := time.Since(start)

	require.Equal(t, 504, resp.Status)
	require.Less(t, elapsed, 150*time.Millisecond)
}

func TestDeadlineExceededShortCircuits(t *testing.T) {
	t.Parallel()

	interp, _, _ := newHarness(t)

	slow := step.New("slow", nil, nil, func(_ *reqctx.CtxBase, _ *slot.View) (decision.Decision, error) {
		return decision.Continue(), nil
	})
	compiled, err := pipeline.Compile(nil, nil, []step.Step{slow})
	require.NoError(t, err)

	base := reqctx.New(reqctx.Request{Method: "GET", Path: "/"}, "req-1", nil)
	ec := New(base, compiled, renderErr, time.Now().Add(-time.Second))
	require.NoError(t, interp.Submit(context.Background(), ec))

	resp := ec.Wait()
	require.Equal(t, 504, resp.Status)
}
