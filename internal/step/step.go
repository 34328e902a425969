// Package step implements the Step trampoline from spec §3: a named,
// statically-declared Reads/Writes pair bound to a typed handler function,
// wrapped so the interpreter can call every step through one uniform
// signature regardless of what slots the handler actually touches.
package step

import (
	"github.com/zerverhq/zerver/internal/decision"
	"github.com/zerverhq/zerver/internal/reqctx"
	"github.com/zerverhq/zerver/internal/slot"
)

// Func is the typed handler an application author writes: a pure function of
// the request context and a view restricted to the slots the step declared.
type Func func(ctx *reqctx.CtxBase, view *slot.View) (decision.Decision, error)

// Step is `{ name, call, reads, writes }` from spec §3. Reads/Writes are
// fixed at construction time; Call builds the correct CtxView on every
// invocation so the handler never sees a slot it did not declare.
type Step struct {
	Name   string
	Reads  []slot.ID
	Writes []slot.ID

	fn Func
}

// New constructs a Step from a typed handler, the trampoline spec §3
// describes ("constructed from a typed function via a trampoline that
// builds the correct CtxView at call time").
func New(name string, reads, writes []slot.ID, fn Func) Step {
	return Step{Name: name, Reads: reads, Writes: writes, fn: fn}
}

// Call invokes the step's handler against a fresh view scoped to its
// declared reads/writes (spec §4.3 step 3: "Call step.call(ctx.base)").
func (s Step) Call(ctx *reqctx.CtxBase) (decision.Decision, error) {
	view := ctx.View(s.Reads, s.Writes)
	return s.fn(ctx, view)
}

// Continuation adapts a Need's continuation into a Step sharing the
// producing step's write set, so a resumed continuation is itself a step
// trampoline (spec §3: "continuation is a mandatory pure function (also a
// step trampoline)"). The view passed to cont is restricted to reads and
// writes like any step's, so the slots it reads (typically the effects'
// tokens) must be listed in reads.
func Continuation(name string, reads, writes []slot.ID, cont decision.Continuation) Step {
	return New(name, reads, writes, func(_ *reqctx.CtxBase, view *slot.View) (decision.Decision, error) {
		return cont(view)
	})
}
