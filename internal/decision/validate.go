package decision

import (
	"fmt"

	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

// ValidateNeed checks two of the invariants spec §8 attaches to every Need
// decision. It does not check that effect tokens lie in the declaring
// step's write set, and internal/pipeline.Compile does not either:
//
//	N.effects.len >= 1
//	N.continuation is not null
func ValidateNeed(d Decision) error {
	if d.Kind != DNeed {
		return nil
	}
	if len(d.Effects) == 0 {
		return zerrors.New(zerrors.Internal, "need", "", fmt.Errorf("need must request at least one effect"))
	}
	if d.Continuation == nil {
		return zerrors.New(zerrors.Internal, "need", "", fmt.Errorf("need must carry a continuation"))
	}
	return nil
}
