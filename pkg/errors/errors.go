// Package errors defines Zerver's error taxonomy: a fixed set of kinds (not
// types) that every layer of the execution core — steps, effectors, the
// dispatcher, the interpreter — uses to report failure. A Kind maps directly
// to an HTTP status via Status(), so the error renderer never has to guess.
package errors

import "fmt"

// Kind enumerates the taxonomy from spec §7. Kinds are not Go types: a single
// *Error value carries one Kind plus contextual "what"/"key" fields.
type Kind string

const (
	InvalidInput        Kind = "invalid_input"
	Unauthorized         Kind = "unauthorized"
	Forbidden            Kind = "forbidden"
	NotFound             Kind = "not_found"
	Conflict             Kind = "conflict"
	TooManyRequests      Kind = "too_many_requests"
	Timeout              Kind = "timeout"
	UpstreamUnavailable  Kind = "upstream_unavailable"
	ServiceUnavailable   Kind = "service_unavailable"
	Internal             Kind = "internal"
	OutOfMemory          Kind = "out_of_memory"
)

var statusByKind = map[Kind]int{
	InvalidInput:        400,
	Unauthorized:        401,
	Forbidden:            403,
	NotFound:             404,
	Conflict:             409,
	TooManyRequests:      429,
	Timeout:              504,
	UpstreamUnavailable:  502,
	ServiceUnavailable:   503,
	Internal:             500,
	OutOfMemory:          500,
}

// Status returns the HTTP status code documented for k, or 500 for an
// unrecognized kind.
func (k Kind) Status() int {
	if status, ok := statusByKind[k]; ok {
		return status
	}
	return 500
}

// Error is the concrete error value threaded through the runtime. It always
// carries a Kind, a "what" describing the failing subsystem (e.g. "step",
// "effect", "request"), and a "key" identifying the specific instance (a step
// name, an effect target, a slot name).
type Error struct {
	Kind Kind
	What string
	Key  string
	Err  error
}

// New constructs an *Error. err may be nil when the kind alone is sufficient
// context (e.g. a synthesized Timeout).
func New(kind Kind, what, key string, err error) *Error {
	return &Error{Kind: kind, What: what, Key: key, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s[%s]: %v", e.Kind, e.What, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %s[%s]", e.Kind, e.What, e.Key)
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target shares this error's Kind, so callers can write
// errors.Is(err, zerrors.New(zerrors.Timeout, "", "", nil)).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// Status returns the HTTP status to render for this error.
func (e *Error) Status() int {
	if e == nil {
		return 500
	}
	return e.Kind.Status()
}

// transientKinds is the set of failure kinds the dispatcher's retry policy
// (spec §4.4) treats as retryable when paired with a Conflict status in
// {408,425,429,500,502,503,504} or an outright Timeout/UpstreamUnavailable.
var transientKinds = map[Kind]bool{
	Timeout:             true,
	UpstreamUnavailable:  true,
}

var transientConflictStatus = map[int]bool{
	408: true, 425: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

// IsTransient reports whether err is in the retry-eligible set: Timeout,
// UpstreamUnavailable, or a Conflict whose accompanying status (conflictStatus,
// 0 when not applicable) is in {408,425,429,500,502,503,504}.
func IsTransient(err error, conflictStatus int) bool {
	var zerr *Error
	if !As(err, &zerr) {
		return false
	}
	if transientKinds[zerr.Kind] {
		return true
	}
	if zerr.Kind == Conflict && transientConflictStatus[conflictStatus] {
		return true
	}
	return false
}

// As is a small local wrapper so this package does not need to import the
// standard errors package's As into call sites that only deal with *Error.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
