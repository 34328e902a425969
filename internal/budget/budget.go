// Package budget implements the Compute Budget Enforcer from spec §4.7:
// per-request and per-task CPU accounting for compute/accelerator effects,
// with admission decisions (Allow/Park/Reject) and a cooperative yield hint
// for long-running tasks.
package budget

import (
	"sync"
	"time"
)

// Decision is the tagged outcome of registering a task, mirroring
// spec §4.7's BudgetDecision.
type Decision int

const (
	Allow Decision = iota
	Park
	Reject
)

// Config holds the enforcer's tunables (spec §4.7 "Configuration").
type Config struct {
	MaxRequestCPUMs      int64
	MaxTaskCPUMs         int64
	Enforce              bool
	ParkOnExceeded       bool
	DefaultPriority      int
	DefaultYieldInterval time.Duration
}

// DefaultConfig matches the values implied by spec §4.7 when left
// unconfigured: enforcement on, parking on exceeded budgets, a generous
// per-request ceiling, and a 50ms yield interval.
func DefaultConfig() Config {
	return Config{
		MaxRequestCPUMs:      1000,
		MaxTaskCPUMs:         500,
		Enforce:              true,
		ParkOnExceeded:       true,
		DefaultPriority:      1,
		DefaultYieldInterval: 50 * time.Millisecond,
	}
}

// Task describes a compute/accelerator task asking to be admitted.
type Task struct {
	Token                string
	ParkOnBudgetExceeded bool
	Priority             int
	YieldInterval        time.Duration
}

// taskState is the per-task accounting entry (spec §4.7 "map from token ->
// {allocated_ms, used_ms, priority, yield_interval_ms, started_at}").
type taskState struct {
	allocatedMs   int64
	usedMs        int64
	priority      int
	yieldInterval time.Duration
	startedAt     time.Time
	lastYieldAt   time.Time
}

// Enforcer tracks CPU usage for one request's compute tasks.
type Enforcer struct {
	cfg Config

	mu                 sync.Mutex
	totalCPUUsedMs     int64
	taskCount          int
	budgetExceededCount int
	tasks              map[string]*taskState
}

// New constructs an Enforcer for one request.
func New(cfg Config) *Enforcer {
	return &Enforcer{cfg: cfg, tasks: make(map[string]*taskState)}
}

// RegisterTask admits or defers t per spec §4.7.
func (e *Enforcer) RegisterTask(t Task) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.Enforce && e.totalCPUUsedMs >= e.cfg.MaxRequestCPUMs {
		if e.cfg.ParkOnExceeded && t.ParkOnBudgetExceeded {
			return Park
		}
		return Reject
	}

	priority := t.Priority
	if priority == 0 {
		priority = e.cfg.DefaultPriority
	}
	yieldInterval := t.YieldInterval
	if yieldInterval == 0 {
		yieldInterval = e.cfg.DefaultYieldInterval
	}

	e.tasks[t.Token] = &taskState{
		allocatedMs:   e.cfg.MaxTaskCPUMs,
		priority:      priority,
		yieldInterval: yieldInterval,
		startedAt:     time.Now(),
		lastYieldAt:   time.Now(),
	}
	e.taskCount++
	return Allow
}

// RecordCPU attributes ms of CPU time to token's running total and the
// request total, reporting whether that pushed either over budget
// (spec §4.7 "if over budget, emits compute_budget_exceeded").
func (e *Enforcer) RecordCPU(token string, ms int64) (exceeded bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalCPUUsedMs += ms
	if st, ok := e.tasks[token]; ok {
		st.usedMs += ms
		if e.cfg.Enforce && (st.usedMs >= st.allocatedMs || e.totalCPUUsedMs >= e.cfg.MaxRequestCPUMs) {
			e.budgetExceededCount++
			return true
		}
	}
	return false
}

// ShouldYield reports whether token's task has run past its yield interval
// since the last yield check, resetting the interval clock when it has
// (spec §4.7 "cooperative hint to long-running compute tasks").
func (e *Enforcer) ShouldYield(token string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.tasks[token]
	if !ok {
		return false
	}
	if time.Since(st.lastYieldAt) >= st.yieldInterval {
		st.lastYieldAt = time.Now()
		return true
	}
	return false
}

// UnregisterTask clears token's accounting entry.
func (e *Enforcer) UnregisterTask(token string) {
	e.mu.Lock()
	delete(e.tasks, token)
	e.mu.Unlock()
}

// TotalCPUUsedMs reports the request-wide running total, for telemetry.
func (e *Enforcer) TotalCPUUsedMs() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalCPUUsedMs
}

// BudgetExceededCount reports how many RecordCPU calls observed an
// over-budget condition.
func (e *Enforcer) BudgetExceededCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.budgetExceededCount
}
