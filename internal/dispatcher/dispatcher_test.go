package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zerverhq/zerver/internal/decision"
	"github.com/zerverhq/zerver/internal/effector"
	"github.com/zerverhq/zerver/internal/reactor"
	"github.com/zerverhq/zerver/internal/slot"
)

func newDispatcher(t *testing.T) (*Dispatcher, *reactor.Reactor) {
	t.Helper()
	r := reactor.New(4, 64)
	t.Cleanup(r.Close)
	reg := effector.NewRegistry(effector.NewCache())
	return New(reg, r, nil, nil), r
}

func waitResume(t *testing.T, resumed chan error) error {
	t.Helper()
	select {
	case err := <-resumed:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("join never resumed")
		return nil
	}
}

func TestDispatchJoinAllResumesOnAllCompletions(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t)
	store := slot.NewStore()
	_ = slot.PutRaw(store, "seed", []byte("v1"))

	resumed := make(chan error, 1)
	err := d.Dispatch(context.Background(), Request{
		RequestID: "req-1",
		Store:     store,
		Mode:      decision.Parallel,
		Join:      decision.JoinAll,
		Effects: []decision.Effect{
			{Kind: decision.KindCacheSet, Target: "a", Payload: []byte("1"), Token: "A", Required: true},
			{Kind: decision.KindCacheSet, Target: "b", Payload: []byte("2"), Token: "B", Required: true},
		},
		OnResume: func(err error) { resumed <- err },
	})
	require.NoError(t, err)

	joinErr := waitResume(t, resumed)
	require.NoError(t, joinErr)
	require.True(t, store.IsWritten("A"))
	require.True(t, store.IsWritten("B"))
}

func TestDispatchJoinAllFailsOnRequiredFailure(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t)
	store := slot.NewStore()

	resumed := make(chan error, 1)
	err := d.Dispatch(context.Background(), Request{
		RequestID: "req-1",
		Store:     store,
		Mode:      decision.Parallel,
		Join:      decision.JoinAll,
		Effects: []decision.Effect{
			{Kind: decision.KindCacheGet, Target: "missing", Token: "A", Required: true},
		},
		OnResume: func(err error) { resumed <- err },
	})
	require.NoError(t, err)

	joinErr := waitResume(t, resumed)
	require.Error(t, joinErr)
}

func TestDispatchJoinAnyResumesOnFirstCompletion(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t)
	store := slot.NewStore()
	_ = slot.PutRaw(store, "seed", []byte("v"))

	resumed := make(chan error, 1)
	var resumeCount int
	var mu sync.Mutex
	err := d.Dispatch(context.Background(), Request{
		RequestID: "req-1",
		Store:     store,
		Mode:      decision.Parallel,
		Join:      decision.JoinAny,
		Effects: []decision.Effect{
			{Kind: decision.KindCacheSet, Target: "a", Payload: []byte("1"), Token: "A"},
			{Kind: decision.KindCacheSet, Target: "b", Payload: []byte("2"), Token: "B"},
		},
		OnResume: func(err error) {
			mu.Lock()
			resumeCount++
			mu.Unlock()
			resumed <- err
		},
	})
	require.NoError(t, err)

	joinErr := waitResume(t, resumed)
	require.NoError(t, joinErr)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, resumeCount)
}

func TestDispatchSequentialModePreservesOrder(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t)
	store := slot.NewStore()

	resumed := make(chan error, 1)
	err := d.Dispatch(context.Background(), Request{
		RequestID: "req-1",
		Store:     store,
		Mode:      decision.Sequential,
		Join:      decision.JoinAll,
		Effects: []decision.Effect{
			{Kind: decision.KindCacheSet, Target: "x", Payload: []byte("first"), Token: "X", Required: true},
			{
				Kind: decision.KindCacheSet, Target: "y", Token: "Y", Required: true,
				Parameterize: func(read func(slot.ID) (any, bool)) decision.Effect {
					v, _ := read("X")
					return decision.Effect{Kind: decision.KindCacheSet, Target: "y", Payload: v.([]byte), Token: "Y", Required: true}
				},
			},
		},
		OnResume: func(err error) { resumed <- err },
	})
	require.NoError(t, err)

	joinErr := waitResume(t, resumed)
	require.NoError(t, joinErr)

	yVal, _ := slot.GetRaw(store, "Y")
	require.Equal(t, []byte("first"), yVal)
}

func TestDispatchRejectsEmptyEffects(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t)
	err := d.Dispatch(context.Background(), Request{Store: slot.NewStore()})
	require.Error(t, err)
}

// slowEffector is a fake backend for one Kind that blocks for delay before
// succeeding, recording whether Cancel was ever invoked on it.
type slowEffector struct {
	kind  decision.Kind
	delay time.Duration

	mu        sync.Mutex
	cancelled bool
}

func (e *slowEffector) Execute(ctx context.Context, eff decision.Effect) decision.Result {
	select {
	case <-time.After(e.delay):
	case <-ctx.Done():
		return decision.Result{Err: ctx.Err()}
	}
	return decision.Result{Success: true, Value: []byte("optional")}
}

func (e *slowEffector) Supports(k decision.Kind) bool { return k == e.kind }

func (e *slowEffector) Cancel(string) error {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
	return nil
}

func (e *slowEffector) wasCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// TestDispatchJoinAllRequiredLeavesOptionalEffectsRunning exercises spec
// §4.4's cancellation rule: under all_required, the join resumes as soon as
// the required effect completes, but outstanding optional effects are left
// running rather than cancelled.
func TestDispatchJoinAllRequiredLeavesOptionalEffectsRunning(t *testing.T) {
	t.Parallel()

	r := reactor.New(4, 64)
	t.Cleanup(r.Close)

	optA := &slowEffector{kind: "fake_optional_a", delay: 120 * time.Millisecond}
	optB := &slowEffector{kind: "fake_optional_b", delay: 120 * time.Millisecond}
	reg := effector.NewRegistry(effector.NewCache(), optA, optB)
	d := New(reg, r, nil, nil)

	store := slot.NewStore()
	_ = slot.PutRaw(store, "seed", []byte("v"))

	resumed := make(chan error, 1)
	err := d.Dispatch(context.Background(), Request{
		RequestID: "req-1",
		Store:     store,
		Mode:      decision.Parallel,
		Join:      decision.JoinAllRequired,
		Effects: []decision.Effect{
			{Kind: decision.KindCacheSet, Target: "a", Payload: []byte("1"), Token: "A", Required: true},
			{Kind: "fake_optional_a", Target: "opt-a", Token: "OptA", Required: false},
			{Kind: "fake_optional_b", Target: "opt-b", Token: "OptB", Required: false},
		},
		OnResume: func(err error) { resumed <- err },
	})
	require.NoError(t, err)

	joinErr := waitResume(t, resumed)
	require.NoError(t, joinErr)
	require.False(t, store.IsWritten("OptA"))
	require.False(t, store.IsWritten("OptB"))

	time.Sleep(200 * time.Millisecond)

	require.False(t, optA.wasCancelled())
	require.False(t, optB.wasCancelled())
	require.True(t, store.IsWritten("OptA"))
	require.True(t, store.IsWritten("OptB"))
}
