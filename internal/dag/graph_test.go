package dag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/elt/pkg/models"
)

func noop(context.Context) error { return nil }

func step(name string, deps ...string) Step {
	return Step{Name: name, Depends: deps, Action: ActionFunc(noop)}
}

func TestNewGraph_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
	}{
		{name: "cycle", steps: []Step{step("a", "c"), step("b", "a"), step("c", "b")}},
		{name: "self dependency", steps: []Step{step("a", "a")}},
		{name: "unknown dependency", steps: []Step{step("a"), step("b", "missing")}},
		{name: "duplicate", steps: []Step{step("a"), step("a")}},
		{name: "empty name", steps: []Step{step("")}},
		{name: "no action", steps: []Step{{Name: "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.steps...)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrInvalidGraph)
		})
	}
}

func TestNewGraph_CycleReportsMembers(t *testing.T) {
	_, err := NewGraph(step("seed"), step("a", "seed", "b"), step("b", "a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errCycleDetected)
	assert.Contains(t, err.Error(), "a, b")
	assert.NotContains(t, err.Error(), "seed,")
}

func TestGraph_Relations(t *testing.T) {
	g, err := NewGraph(step("seed"), step("a", "seed"), step("b", "seed"), step("c", "a", "b"), step("d", "c"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d", "seed"}, g.Names())
	assert.Equal(t, []string{"a", "b"}, g.Dependants("seed"))
	assert.ElementsMatch(t, []string{"a", "b"}, g.Dependencies("c"))
	assert.Equal(t, []string{"a", "b", "c", "d"}, g.Descendants("seed"))
	assert.Equal(t, []string{"c", "d"}, g.Descendants("a"))
	assert.Empty(t, g.Descendants("d"))
	assert.Equal(t, []string{"seed", "a", "b", "c", "d"}, g.TopologicalOrder())
}

func TestGraph_DuplicateDependencyCollapsed(t *testing.T) {
	g, err := NewGraph(step("a"), step("b", "a", "a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, g.Dependencies("b"))
}
