package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitWorkRunsAfterOnCompletion(t *testing.T) {
	t.Parallel()

	r := New(2, 16)
	defer r.Close()

	done := make(chan any, 1)
	require.NoError(t, r.SubmitWork(func() any {
		return "result"
	}, func(v any) {
		done <- v
	}))

	select {
	case v := <-done:
		require.Equal(t, "result", v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for after callback")
	}
}

func TestSubmitTimerFiresCallback(t *testing.T) {
	t.Parallel()

	r := New(1, 16)
	defer r.Close()

	done := make(chan struct{})
	r.SubmitTimer(time.Now().Add(5*time.Millisecond), func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerStopPreventsCallback(t *testing.T) {
	t.Parallel()

	r := New(1, 16)
	defer r.Close()

	fired := false
	timer := r.SubmitTimer(time.Now().Add(20*time.Millisecond), func() { fired = true })
	timer.Stop()

	time.Sleep(40 * time.Millisecond)
	require.False(t, fired)
}

func TestCloseWaitsForOutstandingWork(t *testing.T) {
	t.Parallel()

	r := New(2, 16)
	var mu sync.Mutex
	completed := 0

	for i := 0; i < 10; i++ {
		require.NoError(t, r.SubmitWork(func() any {
			time.Sleep(time.Millisecond)
			return nil
		}, func(any) {
			mu.Lock()
			completed++
			mu.Unlock()
		}))
	}

	r.Close()
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 10, completed)
}

func TestSubmitWorkAfterCloseFails(t *testing.T) {
	t.Parallel()

	r := New(1, 16)
	r.Close()

	err := r.SubmitWork(func() any { return nil }, func(any) {})
	require.Error(t, err)
}
