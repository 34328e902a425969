package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBandForMapsPriorityRanges(t *testing.T) {
	t.Parallel()

	require.Equal(t, Interactive, BandFor(0))
	require.Equal(t, Interactive, BandFor(2))
	require.Equal(t, Default, BandFor(3))
	require.Equal(t, Default, BandFor(5))
	require.Equal(t, Batch, BandFor(6))
}

func TestSubmitAndRunExecutesAllTasks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(ctx, DefaultConfig(4))

	var count int64
	var wg sync.WaitGroup
	wg.Add(20)
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(Task{Priority: byte(i % 8), Run: func(context.Context) {
			atomic.AddInt64(&count, 1)
			wg.Done()
		}}))
	}
	wg.Wait()
	require.Equal(t, int64(20), count)
	p.Shutdown()
}

func TestSubmitRejectsWhenFullAndNotBlocking(t *testing.T) {
	t.Parallel()

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := Config{Workers: 0, Capacity: 1, FairnessK: 8}
	p := &Pool{cfg: cfg}
	p.cond = sync.NewCond(&p.mu)

	require.NoError(t, p.Submit(Task{Run: func(context.Context) {}}))
	err := p.Submit(Task{Run: func(context.Context) {}})
	require.Error(t, err)
}

func TestRequeuePromotesAfterAgingThreshold(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(ctx, DefaultConfig(0))
	defer p.Shutdown()

	task := Task{Priority: 6, EnqueueCount: 15, Run: func(context.Context) {}}
	require.Equal(t, Batch, BandFor(task.Priority))

	requeued, err := p.Requeue(task)
	require.NoError(t, err)
	require.Equal(t, 16, requeued.EnqueueCount)
	require.Equal(t, Default, BandFor(requeued.Priority))
}

func TestRequeueLeavesPriorityUntouchedBelowThreshold(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(ctx, DefaultConfig(0))
	defer p.Shutdown()

	task := Task{Priority: 6, EnqueueCount: 3, Run: func(context.Context) {}}
	requeued, err := p.Requeue(task)
	require.NoError(t, err)
	require.Equal(t, 4, requeued.EnqueueCount)
	require.Equal(t, Batch, BandFor(requeued.Priority))
}

func TestShutdownDrainsQueueBeforeExiting(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(ctx, DefaultConfig(2))
	var ran int64
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(Task{Run: func(context.Context) {
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&ran, 1)
		}}))
	}
	p.Shutdown()
	require.Equal(t, int64(5), ran)
}
