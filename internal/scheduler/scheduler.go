// Package scheduler implements the Task Scheduler & Worker Pools from spec
// §4.5: a bounded, priority-banded FIFO multiplexed across a fixed set of
// OS-thread-backed workers, with starvation-resistant fairness and an aging
// rule that promotes long-parked work.
package scheduler

import (
	"context"
	"sync"

	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

// Band is one of the three logical priority partitions spec §4.5 describes
// ("the queue is logically partitioned into three bands (Interactive,
// Default, Batch) mapping from priority ranges").
type Band int

const (
	Interactive Band = iota
	Default
	Batch
	numBands
)

// BandFor maps a priority byte (0 = highest) onto a Band. The exact cut
// points are an implementation choice the spec leaves open; 0-2 is
// Interactive, 3-5 Default, everything else Batch.
func BandFor(priority byte) Band {
	switch {
	case priority <= 2:
		return Interactive
	case priority <= 5:
		return Default
	default:
		return Batch
	}
}

// agingThreshold is the re-queue count after which a task with no progress
// is promoted one band higher (spec §4.5 "aging advances a context one band
// higher after every 16 re-queues with no progress").
const agingThreshold = 16

// Task is one unit of work the scheduler dequeues and runs on a worker.
// Continuation pool, effector pool, and compute pool all submit Tasks; what
// differs between them is only which Run closures they carry (step
// execution, blocking effector calls, or compute work).
type Task struct {
	Priority     byte
	EnqueueCount int
	Run          func(ctx context.Context)
}

// Config tunes one Pool.
type Config struct {
	// Workers is the number of OS-thread-backed dequeue loops.
	Workers int
	// Capacity bounds the total number of queued tasks across all bands
	// (spec §4.5 default 1024).
	Capacity int
	// FairnessK guarantees at least one dequeue from every non-empty band
	// every FairnessK dequeues (spec §4.5 default 8).
	FairnessK int
	// BlockOnFull makes Submit block until space is available instead of
	// rejecting with ServiceUnavailable.
	BlockOnFull bool
}

// DefaultConfig returns the spec §4.5 defaults for one pool sized to n
// workers.
func DefaultConfig(workers int) Config {
	return Config{Workers: workers, Capacity: 1024, FairnessK: 8}
}

// Pool is a bounded, priority-banded worker pool (spec §4.5 "Pool
// topology"). The same type backs the continuation pool, the effector pool,
// and a dedicated compute pool; callers size and configure each instance
// separately.
type Pool struct {
	cfg Config

	mu          sync.Mutex
	cond        *sync.Cond
	queues      [numBands][]Task
	queued      int
	sinceServed [numBands]int
	closed      bool

	wg sync.WaitGroup
}

// New starts cfg.Workers dequeue loops bound to ctx; they run until Shutdown
// is called or ctx is cancelled.
func New(ctx context.Context, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1024
	}
	if cfg.FairnessK <= 0 {
		cfg.FairnessK = 8
	}
	p := &Pool{cfg: cfg}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx)
	}
	return p
}

// Submit enqueues t onto the band matching its priority (spec §4.5
// "producers block when full if the config permits, or reject with
// ServiceUnavailable").
func (p *Pool) Submit(t Task) error {
	band := BandFor(t.Priority)

	p.mu.Lock()
	defer p.mu.Unlock()

	for p.queued >= p.cfg.Capacity && !p.closed {
		if !p.cfg.BlockOnFull {
			return zerrors.New(zerrors.ServiceUnavailable, "scheduler", "submit", errQueueFull{})
		}
		p.cond.Wait()
	}
	if p.closed {
		return zerrors.New(zerrors.ServiceUnavailable, "scheduler", "submit", errClosed{})
	}

	p.queues[band] = append(p.queues[band], t)
	p.queued++
	p.cond.Signal()
	return nil
}

// Requeue re-submits t with EnqueueCount incremented, applying the aging
// rule: after agingThreshold re-queues the task is promoted one band higher
// (a lower priority byte, clamped at 0) by lowering its recorded priority
// into the next band's range (spec §4.5 "advances a context one band
// higher"). It returns the task as actually submitted (incremented count,
// possibly promoted priority) so a caller tracking that state on its own
// context (e.g. the interpreter's ExecContext) can keep it in sync.
func (p *Pool) Requeue(t Task) (Task, error) {
	t.EnqueueCount++
	if t.EnqueueCount%agingThreshold == 0 {
		t.Priority = promote(t.Priority)
	}
	return t, p.Submit(t)
}

func promote(priority byte) byte {
	switch BandFor(priority) {
	case Batch:
		return 5
	case Default:
		return 2
	default:
		return 0
	}
}

// dequeue pops the next task to run, applying band fairness: a band that
// has gone FairnessK dequeues without service is serviced next if
// non-empty, overriding strict priority order.
func (p *Pool) dequeue() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.queued == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.queued == 0 && p.closed {
		return Task{}, false
	}

	band := p.pickBand()
	q := p.queues[band]
	t := q[0]
	p.queues[band] = q[1:]
	p.queued--

	for b := Band(0); b < numBands; b++ {
		if b == band {
			p.sinceServed[b] = 0
		} else if len(p.queues[b]) > 0 {
			p.sinceServed[b]++
		}
	}

	p.cond.Signal()
	return t, true
}

func (p *Pool) pickBand() Band {
	for b := Band(0); b < numBands; b++ {
		if len(p.queues[b]) > 0 && p.sinceServed[b] >= p.cfg.FairnessK {
			return b
		}
	}
	for b := Band(0); b < numBands; b++ {
		if len(p.queues[b]) > 0 {
			return b
		}
	}
	return Interactive
}

func (p *Pool) workerLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		t, ok := p.dequeue()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		t.Run(ctx)
	}
}

// Shutdown stops accepting new work is the caller's responsibility (callers
// should stop calling Submit); Shutdown marks the pool closed, wakes every
// waiting worker/producer so queued work still drains, and blocks until all
// workers have exited (spec §4.5 "producers stop; workers drain queues,
// honor deadlines, then exit").
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

// Len reports the total number of queued tasks across all bands.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued
}

type errQueueFull struct{}

func (errQueueFull) Error() string { return "scheduler queue at capacity" }

type errClosed struct{}

func (errClosed) Error() string { return "scheduler is shutting down" }
