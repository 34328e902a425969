package decision

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zerverhq/zerver/internal/slot"
)

func TestIsComputeClassification(t *testing.T) {
	t.Parallel()

	require.True(t, KindCompute.IsCompute())
	require.True(t, KindAccelerator.IsCompute())
	require.False(t, KindHTTPGet.IsCompute())
	require.False(t, KindDBGet.IsCompute())
}

func TestValidateNeedRequiresEffects(t *testing.T) {
	t.Parallel()

	d := Need(nil, Parallel, JoinAll, func(*slot.View) (Decision, error) {
		return Continue(), nil
	})
	require.Error(t, ValidateNeed(d))
}

func TestValidateNeedRequiresContinuation(t *testing.T) {
	t.Parallel()

	d := Decision{
		Kind:    DNeed,
		Effects: []Effect{{Kind: KindHTTPGet, Target: "x", Token: "A"}},
		Mode:    Parallel,
		Join:    JoinAll,
	}
	require.Error(t, ValidateNeed(d))
}

func TestValidateNeedAcceptsWellFormedNeed(t *testing.T) {
	t.Parallel()

	d := Need(
		[]Effect{{Kind: KindHTTPGet, Target: "x", Token: "A"}},
		Parallel,
		JoinAll,
		func(*slot.View) (Decision, error) { return Continue(), nil },
	)
	require.NoError(t, ValidateNeed(d))
}

func TestValidateNeedIgnoresNonNeedDecisions(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateNeed(Continue()))
	require.NoError(t, ValidateNeed(Done(Response{Status: 200})))
	require.NoError(t, ValidateNeed(Fail(nil)))
}
