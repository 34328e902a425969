// Package reactor implements the Event Reactor Adapter from spec §4.6: a
// non-blocking submission point backed by an I/O worker pool, with
// completions serialized onto a single loop goroutine so after-work
// callbacks never race each other.
package reactor

import (
	"sync"
	"time"

	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

// workItem is the effect work item spec §4.6 describes, reduced to what the
// reactor itself needs: a blocking work function and the completion
// callback to run once it returns.
type workItem struct {
	work  func() any
	after func(any)
}

// Reactor wraps a bounded I/O worker pool plus one loop goroutine that runs
// every after-work callback, so slot/context mutations triggered by
// completions never need their own locking beyond what CtxBase already
// does.
type Reactor struct {
	workCh chan workItem
	loopCh chan func()

	mu      sync.Mutex
	closed  bool
	timers  map[*Timer]struct{}
	ioWg    sync.WaitGroup
	loopWg  sync.WaitGroup
}

// Timer is a cancellable handle returned by SubmitTimer.
type Timer struct {
	t      *time.Timer
	cancel func()
}

// Stop cancels the timer if it has not already fired.
func (t *Timer) Stop() {
	if t.t != nil {
		t.t.Stop()
	}
	if t.cancel != nil {
		t.cancel()
	}
}

// New starts a Reactor with ioWorkers I/O goroutines and a queue of
// capacity queueCapacity.
func New(ioWorkers, queueCapacity int) *Reactor {
	if ioWorkers <= 0 {
		ioWorkers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	r := &Reactor{
		workCh: make(chan workItem, queueCapacity),
		loopCh: make(chan func(), queueCapacity),
		timers: make(map[*Timer]struct{}),
	}

	r.loopWg.Add(1)
	go r.loop()

	for i := 0; i < ioWorkers; i++ {
		r.ioWg.Add(1)
		go r.ioWorker()
	}
	return r
}

func (r *Reactor) ioWorker() {
	defer r.ioWg.Done()
	for item := range r.workCh {
		result := item.work()
		r.loopCh <- func() { item.after(result) }
	}
}

func (r *Reactor) loop() {
	defer r.loopWg.Done()
	for fn := range r.loopCh {
		fn()
	}
}

// SubmitWork queues work to run on an I/O worker; after runs on the loop
// goroutine once work returns (spec §4.6 "submit_work(work_fn, after_work_fn,
// ctx)").
func (r *Reactor) SubmitWork(work func() any, after func(any)) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return zerrors.New(zerrors.ServiceUnavailable, "reactor", "submit_work", errReactorClosed{})
	}

	select {
	case r.workCh <- workItem{work: work, after: after}:
		return nil
	default:
		return zerrors.New(zerrors.ServiceUnavailable, "reactor", "submit_work", errQueueFull{})
	}
}

// SubmitTimer schedules cb to run on the loop goroutine at deadline (spec
// §4.6 "submit_timer(deadline, cb) for per-effect timeouts").
func (r *Reactor) SubmitTimer(deadline time.Time, cb func()) *Timer {
	timer := &Timer{}
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}

	fired := make(chan struct{})
	var once sync.Once
	timer.cancel = func() { once.Do(func() { close(fired) }) }

	timer.t = time.AfterFunc(delay, func() {
		select {
		case <-fired:
			return
		default:
		}
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}
		r.loopCh <- cb
	})

	r.mu.Lock()
	r.timers[timer] = struct{}{}
	r.mu.Unlock()
	return timer
}

// Close stops accepting new work, lets outstanding work drain, and stops
// both the I/O pool and the loop goroutine (spec §4.6 "close() stops the
// loop cleanly after outstanding work drains").
func (r *Reactor) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for timer := range r.timers {
		timer.Stop()
	}
	r.mu.Unlock()

	close(r.workCh)
	r.ioWg.Wait()
	close(r.loopCh)
	r.loopWg.Wait()
}

type errReactorClosed struct{}

func (errReactorClosed) Error() string { return "reactor is closed" }

type errQueueFull struct{}

func (errQueueFull) Error() string { return "reactor work queue at capacity" }
