// Package effector defines the Effector capability interface from spec
// §4.4 ("the surrounding impl plugs in concrete backends, polymorphic over
// the capability set {execute(effect) -> EffectResult, supports(kind)}")
// and a registry the dispatcher uses to route an effect to the backend that
// declares support for its Kind.
package effector

import (
	"context"

	"github.com/zerverhq/zerver/internal/decision"
	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

// Effector executes effects on behalf of the dispatcher. Implementations
// are free to block the calling goroutine; the dispatcher only ever calls
// Execute from a reactor I/O worker or a compute-pool worker, never from the
// continuation pool (spec §4.4, §4.6).
type Effector interface {
	// Execute performs one attempt at effect e, respecting ctx cancellation
	// as the per-attempt deadline.
	Execute(ctx context.Context, e decision.Effect) decision.Result
	// Supports reports whether this effector handles kind k.
	Supports(k decision.Kind) bool
	// Cancel best-effort cancels an in-flight attempt identified by target,
	// used when a join condition is satisfied while the effect is still
	// outstanding (spec §4.4 "if the effector supports cancellation it is
	// invoked"). Implementations that cannot cancel return nil.
	Cancel(target string) error
}

// Registry resolves a Kind to the Effector registered for it. Registration
// order matters only in that the first Effector whose Supports(kind) is
// true wins; concrete effectors should claim disjoint kind sets.
type Registry struct {
	effectors []Effector
}

// NewRegistry builds a Registry over backends, in lookup-priority order.
func NewRegistry(backends ...Effector) *Registry {
	return &Registry{effectors: backends}
}

// Resolve returns the Effector that supports k.
func (r *Registry) Resolve(k decision.Kind) (Effector, error) {
	for _, e := range r.effectors {
		if e.Supports(k) {
			return e, nil
		}
	}
	return nil, zerrors.New(zerrors.Internal, "effector", string(k), errNoBackend(k))
}

type errNoBackend decision.Kind

func (k errNoBackend) Error() string {
	return "no effector registered for kind " + string(k)
}
