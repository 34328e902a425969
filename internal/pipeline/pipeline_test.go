package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zerverhq/zerver/internal/decision"
	"github.com/zerverhq/zerver/internal/reqctx"
	"github.com/zerverhq/zerver/internal/slot"
	"github.com/zerverhq/zerver/internal/step"
)

func noop(name string, reads, writes []slot.ID) step.Step {
	return step.New(name, reads, writes, func(*reqctx.CtxBase, *slot.View) (decision.Decision, error) {
		return decision.Continue(), nil
	})
}

func TestCompileAcceptsWriteBeforeRead(t *testing.T) {
	t.Parallel()

	extract := noop("extract_id", nil, []slot.ID{"ID"})
	load := noop("db_load", []slot.ID{"ID"}, []slot.ID{"Item"})
	render := noop("render", []slot.ID{"Item"}, nil)

	compiled, err := Compile(nil, nil, []step.Step{extract, load, render})
	require.NoError(t, err)
	require.Equal(t, []string{"extract_id", "db_load", "render"}, compiled.StepNames())
}

func TestCompileRejectsReadBeforeWrite(t *testing.T) {
	t.Parallel()

	render := noop("render", []slot.ID{"Item"}, nil)
	load := noop("db_load", nil, []slot.ID{"Item"})

	_, err := Compile(nil, nil, []step.Step{render, load})
	require.Error(t, err)
}

func TestCompileRejectsDoubleWriter(t *testing.T) {
	t.Parallel()

	a := noop("a", nil, []slot.ID{"X"})
	b := noop("b", nil, []slot.ID{"X"})

	_, err := Compile(nil, nil, []step.Step{a, b})
	require.Error(t, err)
}

func TestCompileFlattensLayersInOrder(t *testing.T) {
	t.Parallel()

	global := noop("auth", nil, []slot.ID{"UserID"})
	route := noop("rate_limit", []slot.ID{"UserID"}, nil)
	main := noop("handler", []slot.ID{"UserID"}, nil)

	compiled, err := Compile([]step.Step{global}, []step.Step{route}, []step.Step{main})
	require.NoError(t, err)
	require.Equal(t, []Layer{LayerGlobalBefore, LayerRouteBefore, LayerMain}, compiled.Layers)
}

func TestCompileEmptyStepListSucceeds(t *testing.T) {
	t.Parallel()

	compiled, err := Compile(nil, nil, nil)
	require.NoError(t, err)
	require.Empty(t, compiled.Steps)
}
