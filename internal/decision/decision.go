// Package decision defines the Decision/Effect/Response data model from
// spec §3 and §4.2: the tagged outcome every step returns, the declarative
// I/O or compute request an effect represents, and the policy attached to
// each effect (timeout, retry, required, idempotency).
package decision

import (
	"time"

	"github.com/zerverhq/zerver/internal/slot"
)

// Mode controls how the effects inside one Need are submitted.
type Mode string

const (
	// Parallel submits every effect immediately; completions may arrive in
	// any order.
	Parallel Mode = "parallel"
	// Sequential submits effect i+1 only once effect i has completed,
	// preserving program order.
	Sequential Mode = "sequential"
)

// Join selects the policy that decides when a parked context is ready to
// resume (spec §4.4).
type Join string

const (
	// JoinAll resumes once every effect has completed, regardless of
	// success; a required failure still fails the context.
	JoinAll Join = "all"
	// JoinAllRequired resumes once every required effect has completed;
	// optional effects may still be outstanding.
	JoinAllRequired Join = "all_required"
	// JoinAny resumes on the very first completion of any kind.
	JoinAny Join = "any"
	// JoinFirstSuccess resumes on the first success, or fails once every
	// effect has completed without success (if any was required).
	JoinFirstSuccess Join = "first_success"
)

// Kind enumerates the effect kinds spec §3 lists: HTTP verbs, DB operations,
// file JSON I/O, cache ops, TCP ops, gRPC, WebSocket, compute task,
// accelerator task. The dispatcher classifies a Kind as I/O-bound (routed to
// the reactor) or compute-bound (routed to the compute pool) via IsCompute.
type Kind string

const (
	KindHTTPGet     Kind = "http_get"
	KindHTTPPost    Kind = "http_post"
	KindHTTPPut     Kind = "http_put"
	KindHTTPDelete  Kind = "http_delete"
	KindDBGet       Kind = "db_get"
	KindDBPut       Kind = "db_put"
	KindDBDelete    Kind = "db_delete"
	KindDBQuery     Kind = "db_query"
	KindFileRead    Kind = "file_read_json"
	KindFileWrite   Kind = "file_write_json"
	KindCacheGet    Kind = "cache_get"
	KindCacheSet    Kind = "cache_set"
	KindCacheDelete Kind = "cache_delete"
	KindTCP         Kind = "tcp"
	KindGRPC        Kind = "grpc"
	KindWebSocket   Kind = "websocket"
	KindCompute     Kind = "compute"
	KindAccelerator Kind = "accelerator"
)

// IsCompute reports whether k belongs on the compute pool rather than the
// reactor (spec §4.4 "classifies the effect as I/O-bound ... or
// compute-bound").
func (k Kind) IsCompute() bool {
	return k == KindCompute || k == KindAccelerator
}

// Retry describes the retry policy attached to an effect (spec §4.2).
type Retry struct {
	Max int
}

// Effect is the declarative description of one unit of I/O or compute work
// requested by a Need (spec §3).
type Effect struct {
	Kind Kind
	// Target identifies what the effect acts on: a URL, a cache key, a file
	// path, a DB statement key.
	Target string
	// Token names the slot the effect's success payload is written to. It
	// is not checked against the declaring step's write set, neither by
	// internal/pipeline.Compile nor by the dispatcher.
	Token slot.ID
	// Payload is the request body/value for write-shaped effects (HTTP
	// POST/PUT, cache set, db put, file write). Read-shaped effects ignore
	// it.
	Payload any
	// Timeout bounds a single attempt.
	Timeout time.Duration
	Retry   Retry
	// Required marks whether this effect's failure should propagate per the
	// enclosing Need's Join policy.
	Required bool
	// IdempotencyKey, when set, is passed through to the effector; per
	// spec §4.2, repeated attempts under the same key must be semantically
	// equivalent for write effects, which is what makes them retry-eligible.
	IdempotencyKey string
	// Compensation is reserved for saga support (spec §9); never executed.
	Compensation *Effect
	// Parameterize lets a Sequential-mode effect read slots written by
	// earlier effects in the same Need before being submitted (spec.md §9
	// Open Question, resolved in SPEC_FULL.md: value-dependent chaining is
	// allowed). Fixed effects leave it nil.
	Parameterize func(read func(id slot.ID) (any, bool)) Effect
}

// Result is either a successful payload or a failure, as returned by an
// Effector (spec §3 EffectResult).
type Result struct {
	Success bool
	Value   any
	Err     error
}

// Response is the terminal HTTP-shaped response a Decision produces.
type Response struct {
	Status  int
	Headers []Header
	Body    []byte
	// Stream, when non-nil, overrides Body: the interpreter hands the
	// writer to the HTTP frontend instead of buffering (spec §3 "Streaming
	// (writer)").
	Stream func(w ResponseWriter) error
}

// Header is one ordered response header (spec §3 "ordered list of
// {name, value}").
type Header struct {
	Name  string
	Value string
}

// ResponseWriter is the minimal sink a streaming Response writes to; the
// HTTP frontend adapts it from the real http.ResponseWriter.
type ResponseWriter interface {
	Write(p []byte) (int, error)
}

// Kind tags a Decision's variant.
type DecisionKind int

const (
	DContinue DecisionKind = iota
	DDone
	DFail
	DNeed
)

// Continuation is the pure function invoked once a Need's join condition is
// satisfied (spec §3: "a mandatory pure function (also a step trampoline)").
type Continuation func(view *slot.View) (Decision, error)

// Decision is the tagged outcome every step (and every continuation)
// returns (spec §3).
type Decision struct {
	Kind DecisionKind

	// Done
	Response Response

	// Fail
	Err error

	// Need
	Effects      []Effect
	Mode         Mode
	Join         Join
	Continuation Continuation
}

// Continue advances the pipeline to the next step.
func Continue() Decision {
	return Decision{Kind: DContinue}
}

// Done finalizes the request successfully with r.
func Done(r Response) Decision {
	return Decision{Kind: DDone, Response: r}
}

// Fail finalizes the request with err, deferring to the error renderer.
func Fail(err error) Decision {
	return Decision{Kind: DFail, Err: err}
}

// Need parks the context until effects complete per mode/join, then invokes
// continuation.
func Need(effects []Effect, mode Mode, join Join, continuation Continuation) Decision {
	return Decision{
		Kind:         DNeed,
		Effects:      effects,
		Mode:         mode,
		Join:         join,
		Continuation: continuation,
	}
}
