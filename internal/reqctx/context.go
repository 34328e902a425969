// Package reqctx implements CtxBase, the per-request state container from
// spec §3/§4.1: request metadata, the arena allocator, the slot store, exit
// callbacks, and the handful of accessors steps call through a slot.View.
package reqctx

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zerverhq/zerver/internal/arena"
	"github.com/zerverhq/zerver/internal/slot"
	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

// EventSink is the opaque telemetry handle CtxBase carries (spec §3
// "Telemetry handle (opaque)"). internal/telemetry implements it; reqctx
// does not import telemetry to avoid a cycle (telemetry only needs request
// IDs and plain data, never a *CtxBase).
type EventSink interface {
	Event(name string, fields map[string]any)
}

type noopSink struct{}

func (noopSink) Event(string, map[string]any) {}

// Request carries the parsed, already-routed request metadata the HTTP
// frontend hands to the interpreter (spec §1 step 1: "parsed request
// metadata"). Route matching and wire parsing happen upstream; CtxBase only
// stores the result.
type Request struct {
	Method     string
	Path       string
	Headers    map[string][]string
	PathParams map[string]string
	Query      map[string][]string
	ClientAddr string
	Body       []byte
}

// CtxBase is the owned-by-the-scheduler request context described in
// spec §3. It is constructed once per request by runtime.Handle and
// destroyed after the response is sent and all pending optional effects
// have drained or been cancelled.
type CtxBase struct {
	req       Request
	requestID string
	startedAt time.Time

	arena *arena.Arena
	store *slot.Store

	mu        sync.Mutex
	exitCbs   []func()
	lastError error
	status    int

	sink EventSink

	// headers is req.Headers with lower-cased keys for case-insensitive
	// lookup (spec §3: "mapping from case-insensitive name to value").
	headers map[string][]string
}

// New constructs a CtxBase for one request. requestID must already be
// process-unique (runtime.Handle generates it).
func New(req Request, requestID string, sink EventSink) *CtxBase {
	if sink == nil {
		sink = noopSink{}
	}
	headers := make(map[string][]string, len(req.Headers))
	for k, v := range req.Headers {
		headers[strings.ToLower(k)] = v
	}
	return &CtxBase{
		req:       req,
		requestID: requestID,
		startedAt: time.Now(),
		arena:     arena.New(0),
		store:     slot.NewStore(),
		sink:      sink,
		headers:   headers,
	}
}

// Method returns the HTTP method.
func (c *CtxBase) Method() string { return c.req.Method }

// Path returns the request path.
func (c *CtxBase) Path() string { return c.req.Path }

// Header returns the last value for the case-insensitively matched header
// name, or "" if absent (spec §4.1 "header(name) returns the last one").
func (c *CtxBase) Header(name string) string {
	values := c.headers[strings.ToLower(name)]
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

// HeaderAll returns every value recorded for name (spec §4.1 "an iterator
// variant returns all").
func (c *CtxBase) HeaderAll(name string) []string {
	values := c.headers[strings.ToLower(name)]
	out := make([]string, len(values))
	copy(out, values)
	return out
}

// Param returns a path parameter. Path parameters are case-sensitive (see
// SPEC_FULL.md Open Question #2).
func (c *CtxBase) Param(name string) string {
	return c.req.PathParams[name]
}

// Query returns the first recorded value for a query parameter name.
func (c *CtxBase) Query(name string) string {
	values := c.req.Query[name]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// ClientAddr returns the originating client address.
func (c *CtxBase) ClientAddr() string { return c.req.ClientAddr }

// Body returns the raw request body.
func (c *CtxBase) Body() []byte { return c.req.Body }

// RequestID returns the process-unique request identifier.
func (c *CtxBase) RequestID() string { return c.requestID }

// ElapsedMs reports milliseconds since the request was created.
func (c *CtxBase) ElapsedMs() float64 {
	return float64(time.Since(c.startedAt)) / float64(time.Millisecond)
}

// Status returns the status most recently recorded via SetStatus.
func (c *CtxBase) Status() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetStatus records the response status steps have decided on so far
// (useful for telemetry before the terminal Response exists).
func (c *CtxBase) SetStatus(code int) {
	c.mu.Lock()
	c.status = code
	c.mu.Unlock()
}

// LastError returns the most recently recorded failure, for error
// rendering (spec §3 "last_error").
func (c *CtxBase) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// SetLastError records err as the most recent failure.
func (c *CtxBase) SetLastError(err error) {
	c.mu.Lock()
	c.lastError = err
	c.mu.Unlock()
}

// OnExit registers a scoped acquisition to run on every terminal path; all
// registered callbacks run in reverse registration order (spec §4.1).
func (c *CtxBase) OnExit(cb func()) {
	if cb == nil {
		return
	}
	c.mu.Lock()
	c.exitCbs = append(c.exitCbs, cb)
	c.mu.Unlock()
}

// RunExitCallbacks runs every registered OnExit callback in reverse order.
// The callbacks are cleared as they are taken, so a second call runs
// nothing; the interpreter calls it once, on finalize.
func (c *CtxBase) RunExitCallbacks() {
	c.mu.Lock()
	cbs := c.exitCbs
	c.exitCbs = nil
	c.mu.Unlock()

	for i := len(cbs) - 1; i >= 0; i-- {
		cbs[i]()
	}
}

// LogDebug emits a debug-level telemetry event carrying msg and fields.
func (c *CtxBase) LogDebug(msg string, fields map[string]any) {
	payload := map[string]any{"message": msg, "request_id": c.requestID}
	for k, v := range fields {
		payload[k] = v
	}
	c.sink.Event("log_debug", payload)
}

// BufFmt returns an arena-allocated formatted string valid for the request
// lifetime (spec §4.1 "buf_fmt(fmt, args)"). Allocation failures are
// reported as OutOfMemory, never silently swallowed.
func (c *CtxBase) BufFmt(format string, args ...any) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = zerrors.New(zerrors.OutOfMemory, "arena", "buf_fmt", fmt.Errorf("%v", r))
		}
	}()
	return c.arena.Sprintf(format, args...), nil
}

// ToJSON returns arena-allocated bytes containing the JSON encoding of
// value (spec §4.1 "to_json(value) returns arena-allocated bytes").
func (c *CtxBase) ToJSON(value any) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, zerrors.New(zerrors.OutOfMemory, "arena", "to_json", fmt.Errorf("%v", r))
		}
	}()

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, zerrors.New(zerrors.Internal, "json", "encode", err)
	}
	return c.arena.AllocBytes(raw), nil
}

// Arena exposes the request arena for code that needs raw allocation.
func (c *CtxBase) Arena() *arena.Arena { return c.arena }

// Store exposes the slot store for the interpreter/dispatcher, which build
// slot.View projections and write effect results by token respectively.
func (c *CtxBase) Store() *slot.Store { return c.store }

// View builds a slot.View restricted to reads/writes, as the step
// trampoline does before invoking a step or continuation (spec §3
// "CtxView(reads, writes)").
func (c *CtxBase) View(reads, writes []slot.ID) *slot.View {
	return slot.NewView(c.store, slot.NewDeclared(reads, writes))
}

// Sink returns the opaque telemetry handle, for code that needs to emit
// events scoped to this request.
func (c *CtxBase) Sink() EventSink { return c.sink }
