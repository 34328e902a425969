// Package pipeline implements static validation and compilation of an
// ordered step list into the form the interpreter drives (spec §3 Pipeline,
// spec §8 "For all requests R and all slots S written by step k, require(S)
// succeeds in any step j > k that declares S in its reads").
package pipeline

import (
	"fmt"

	"github.com/zerverhq/zerver/internal/step"
	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

// Layer names the three step groups spec §3 StepExecutionContext tracks
// ("layer (global-before / route-before / main)").
type Layer string

const (
	LayerGlobalBefore Layer = "global_before"
	LayerRouteBefore  Layer = "route_before"
	LayerMain         Layer = "main"
)

// Compiled is the validated, flattened step list the interpreter executes.
// Steps from all three layers are concatenated in execution order; Compiled
// retains each step's layer only for telemetry (step_start/step_end carry
// layer per spec §4.3).
type Compiled struct {
	Steps  []step.Step
	Layers []Layer
}

// Compile validates and flattens globalBefore, routeBefore and main into one
// executable step list. It is the static check spec §8 calls out: every
// slot a step reads must already have been written by a step earlier in
// this order, and no slot is written by more than one step. Compile does
// not check that a Need's effect tokens lie within the producing step's
// declared writes, and neither decision.ValidateNeed nor the dispatcher
// checks that at run time.
func Compile(globalBefore, routeBefore, main []step.Step) (*Compiled, error) {
	all := make([]step.Step, 0, len(globalBefore)+len(routeBefore)+len(main))
	layers := make([]Layer, 0, cap(all))
	all = append(all, globalBefore...)
	for range globalBefore {
		layers = append(layers, LayerGlobalBefore)
	}
	all = append(all, routeBefore...)
	for range routeBefore {
		layers = append(layers, LayerRouteBefore)
	}
	all = append(all, main...)
	for range main {
		layers = append(layers, LayerMain)
	}

	if err := validateSingleWriter(all); err != nil {
		return nil, err
	}
	if err := validateWriteBeforeRead(all); err != nil {
		return nil, err
	}

	return &Compiled{Steps: all, Layers: layers}, nil
}

// validateSingleWriter enforces "at most one step in a given pipeline
// writes a given slot" (spec §3).
func validateSingleWriter(steps []step.Step) error {
	writer := make(map[string]string)
	for _, s := range steps {
		for _, w := range s.Writes {
			if prior, ok := writer[string(w)]; ok {
				return zerrors.New(zerrors.Internal, "pipeline", string(w),
					fmt.Errorf("slot %q written by both %q and %q", w, prior, s.Name))
			}
			writer[string(w)] = s.Name
		}
	}
	return nil
}

// validateWriteBeforeRead enforces write-before-read across declared step
// order (spec §3 edge policy, spec §8 quantified invariant).
func validateWriteBeforeRead(steps []step.Step) error {
	written := make(map[string]bool)
	for _, s := range steps {
		for _, r := range s.Reads {
			if !written[string(r)] {
				return zerrors.New(zerrors.Internal, "pipeline", string(r),
					fmt.Errorf("step %q reads slot %q before any earlier step writes it", s.Name, r))
			}
		}
		for _, w := range s.Writes {
			written[string(w)] = true
		}
	}
	return nil
}

// StepNames returns the compiled step names in execution order, used by
// route registration diagnostics and tests.
func (c *Compiled) StepNames() []string {
	names := make([]string, len(c.Steps))
	for i, s := range c.Steps {
		names[i] = s.Name
	}
	return names
}
