// Package slot implements the named, typed, per-request cell described in
// spec §3: a finite enumeration of slot identifiers, a store that enforces
// single-writer semantics, and a CtxView projection that only lets a step
// touch the slots it declared.
//
// Go has no facility for making undeclared-slot access a genuine compiler
// error the way the source language's comptime views did (spec §9's first
// design note). The idiomatic Go equivalent used here is a call-time
// check: a View is built once per step invocation from that step's declared
// Reads/Writes, and every access is checked against those sets immediately,
// so a mistake surfaces on the very first request rather than silently
// reading zero values.
package slot

import (
	"fmt"
	"sync"

	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

// ID identifies a slot. Applications declare a finite set of IDs (typically
// as package-level constants) and are responsible for using a single Go type
// per ID consistently; the store itself is type-erased and relies on the
// typed Require/Optional/Put helpers below to catch mismatches.
type ID string

// Declared is the read/write projection a step registers at construction
// time (spec §3 "CtxView(reads, writes)").
type Declared struct {
	Reads  map[ID]struct{}
	Writes map[ID]struct{}
}

// NewDeclared builds a Declared set from slices, as step authors write them.
func NewDeclared(reads, writes []ID) Declared {
	d := Declared{
		Reads:  make(map[ID]struct{}, len(reads)),
		Writes: make(map[ID]struct{}, len(writes)),
	}
	for _, r := range reads {
		d.Reads[r] = struct{}{}
	}
	for _, w := range writes {
		d.Writes[w] = struct{}{}
	}
	return d
}

func (d Declared) canRead(id ID) bool {
	_, ok := d.Reads[id]
	if ok {
		return true
	}
	_, ok = d.Writes[id]
	return ok
}

func (d Declared) canWrite(id ID) bool {
	_, ok := d.Writes[id]
	return ok
}

// Store is the per-request slot map. It is owned exclusively by one
// CtxBase; the only cross-goroutine access is effect-result writes arriving
// from reactor callbacks, which is why Store guards itself with a mutex
// rather than assuming single-threaded access (spec §5 shared-resource
// policy).
type Store struct {
	mu      sync.Mutex
	values  map[ID]any
	written map[ID]bool
}

// NewStore creates an empty slot store.
func NewStore() *Store {
	return &Store{
		values:  make(map[ID]any),
		written: make(map[ID]bool),
	}
}

// put stores v under id, failing if id already holds a value (spec §3
// single-writer invariant; spec §4.1 "put on a slot already holding a value
// -> fatal for the request").
func (s *Store) put(id ID, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.written[id] {
		return zerrors.New(zerrors.Internal, "slot", string(id), fmt.Errorf("slot already written"))
	}
	s.values[id] = v
	s.written[id] = true
	return nil
}

// get returns the stored value, if any.
func (s *Store) get(id ID) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[id]
	return v, ok
}

// View projects a Store through one step's declared reads/writes, enforcing
// the access contract in spec §3/§4.1. Views are cheap and are constructed
// fresh for every step invocation by the step trampoline (internal/step).
type View struct {
	store *Store
	decl  Declared
	// open lifts the declaration check entirely. It is only set by
	// NewOpenView, used for a Need's continuation: the continuation's reads
	// are the effect tokens of the Need that produced it, which are only
	// known dynamically once the step runs, so the interpreter cannot build
	// a statically declared view for it the way it can for an ordinary step
	// (spec §3 calls the continuation "also a step trampoline", but its
	// declaration is implicit in the effects it requested rather than
	// pre-registered).
	open bool
}

// NewView constructs a View over store restricted to decl.
func NewView(store *Store, decl Declared) *View {
	return &View{store: store, decl: decl}
}

// NewOpenView constructs a View with no read/write restriction, for
// invoking a Need's continuation.
func NewOpenView(store *Store) *View {
	return &View{store: store, open: true}
}

// Put stores val under id via the generic helper Put, not this method
// directly; View exposes only the declaration checks so the typed
// package-level functions can enforce both the access contract and the Go
// type.
func (v *View) checkRead(id ID) error {
	if v.open || v.decl.canRead(id) {
		return nil
	}
	return zerrors.New(zerrors.Internal, "slot", string(id), fmt.Errorf("slot not declared as read"))
}

func (v *View) checkWrite(id ID) error {
	if v.open || v.decl.canWrite(id) {
		return nil
	}
	return zerrors.New(zerrors.Internal, "slot", string(id), fmt.Errorf("slot not declared as write"))
}

// SlotMissing is the Internal-kind "slot missing" error. Require returns an
// error of the same kind and message that also names the slot; errors.Is
// matches it against SlotMissing because *zerrors.Error compares by Kind.
var SlotMissing = zerrors.New(zerrors.Internal, "slot", "", fmt.Errorf("slot missing"))

// Require returns the value stored at id, typed as T. The read/write
// declaration and the Go type are both checked at call time: an undeclared
// slot, a value of another type, or a slot nothing was ever written to
// each produce an Internal-kind error naming id.
func Require[T any](v *View, id ID) (T, error) {
	var zero T
	if err := v.checkRead(id); err != nil {
		return zero, err
	}
	raw, ok := v.store.get(id)
	if !ok {
		return zero, zerrors.New(zerrors.Internal, "slot", string(id), fmt.Errorf("slot missing"))
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, zerrors.New(zerrors.Internal, "slot", string(id), fmt.Errorf("slot type mismatch: stored %T", raw))
	}
	return typed, nil
}

// Optional returns the stored value and true, or the zero value and false
// when the slot was never written. Unlike Require it never errors on a
// missing value, but still enforces the read/write declaration.
func Optional[T any](v *View, id ID) (T, bool, error) {
	var zero T
	if err := v.checkRead(id); err != nil {
		return zero, false, err
	}
	raw, ok := v.store.get(id)
	if !ok {
		return zero, false, nil
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, false, zerrors.New(zerrors.Internal, "slot", string(id), fmt.Errorf("slot type mismatch: stored %T", raw))
	}
	return typed, true, nil
}

// Put stores val under id, enforcing the write declaration and the
// single-writer invariant.
func Put[T any](v *View, id ID, val T) error {
	if err := v.checkWrite(id); err != nil {
		return err
	}
	return v.store.put(id, val)
}

// PutRaw stores an already type-erased value, used by the effect dispatcher
// when writing an effect's result into its token slot (the dispatcher does
// not know the slot's static Go type, only that the effector produced some
// value — spec §4.4 "store into slot effect.token").
func PutRaw(store *Store, id ID, val any) error {
	return store.put(id, val)
}

// GetRaw returns the type-erased stored value, used by the effect dispatcher
// to let a Parameterize closure read slots without knowing their static type.
func GetRaw(store *Store, id ID) (any, bool) {
	return store.get(id)
}

// IsWritten reports whether id currently holds a value.
func (s *Store) IsWritten(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written[id]
}
