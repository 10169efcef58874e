package dag

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/BartekS5/elt/pkg/models"
)

// Action is an opaque, idempotent unit of work run by a step.
type Action interface {
	Run(ctx context.Context) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context) error

func (f ActionFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Step is a named node of the transform graph.
type Step struct {
	Name    string
	Depends []string
	Action  Action
	// Timeout bounds the action; zero falls back to the executor default.
	Timeout time.Duration
}

// Graph is a validated, closed and acyclic set of steps.
type Graph struct {
	steps map[string]Step
	names []string
	from  map[string][]string // step -> dependants
	to    map[string][]string // step -> dependencies
}

var (
	errCycleDetected = errors.New("cycle detected")
	errStepNotFound  = errors.New("step not found")
)

// NewGraph validates steps and builds the graph. It fails with
// models.ErrInvalidGraph when a name is empty or duplicated, a dependency does
// not resolve, or the dependencies form a cycle.
func NewGraph(steps ...Step) (*Graph, error) {
	g := &Graph{
		steps: make(map[string]Step, len(steps)),
		from:  make(map[string][]string),
		to:    make(map[string][]string),
	}
	for _, step := range steps {
		if step.Name == "" {
			return nil, models.Errorf(models.CodeInvalidGraph, "build graph", "step with empty name")
		}
		if _, ok := g.steps[step.Name]; ok {
			return nil, models.Errorf(models.CodeInvalidGraph, "build graph", "duplicate step %q", step.Name)
		}
		if step.Action == nil {
			return nil, models.Errorf(models.CodeInvalidGraph, "build graph", "step %q has no action", step.Name)
		}
		step.Depends = lo.Uniq(step.Depends)
		g.steps[step.Name] = step
		g.names = append(g.names, step.Name)
	}
	slices.Sort(g.names)

	if err := g.buildEdges(); err != nil {
		return nil, models.NewError(models.CodeInvalidGraph, "build graph", err)
	}
	return g, nil
}

func (g *Graph) buildEdges() error {
	for _, name := range g.names {
		for _, dep := range g.steps[name].Depends {
			if _, ok := g.steps[dep]; !ok {
				return fmt.Errorf("%w: %q (required by %q)", errStepNotFound, dep, name)
			}
			g.from[dep] = append(g.from[dep], name)
			g.to[name] = append(g.to[name], dep)
		}
	}
	for name := range g.from {
		slices.Sort(g.from[name])
	}
	if cyclic := g.cyclicSteps(); len(cyclic) > 0 {
		return fmt.Errorf("%w among steps %s", errCycleDetected, strings.Join(cyclic, ", "))
	}
	return nil
}

// cyclicSteps runs Kahn's algorithm and returns the steps left with a
// non-zero in-degree, which are exactly those on or behind a cycle.
func (g *Graph) cyclicSteps() []string {
	inDegrees := make(map[string]int, len(g.names))
	for _, name := range g.names {
		inDegrees[name] = len(g.to[name])
	}

	var q []string
	for _, name := range g.names {
		if inDegrees[name] == 0 {
			q = append(q, name)
		}
	}
	for len(q) > 0 {
		f := q[0]
		q = q[1:]
		for _, to := range g.from[f] {
			inDegrees[to]--
			if inDegrees[to] == 0 {
				q = append(q, to)
			}
		}
	}

	var cyclic []string
	for _, name := range g.names {
		if inDegrees[name] > 0 {
			cyclic = append(cyclic, name)
		}
	}
	return cyclic
}

// Names returns step names in lexical order.
func (g *Graph) Names() []string {
	return slices.Clone(g.names)
}

// Len returns the number of steps.
func (g *Graph) Len() int {
	return len(g.names)
}

// Step returns the step with the given name.
func (g *Graph) Step(name string) (Step, bool) {
	s, ok := g.steps[name]
	return s, ok
}

// Dependencies returns the direct dependencies of name.
func (g *Graph) Dependencies(name string) []string {
	return slices.Clone(g.to[name])
}

// Dependants returns the steps that directly depend on name, sorted.
func (g *Graph) Dependants(name string) []string {
	return slices.Clone(g.from[name])
}

// Descendants returns every step transitively depending on name, sorted.
func (g *Graph) Descendants(name string) []string {
	seen := map[string]bool{}
	frontier := g.from[name]
	for len(frontier) > 0 {
		var next []string
		for _, n := range frontier {
			if seen[n] {
				continue
			}
			seen[n] = true
			next = append(next, g.from[n]...)
		}
		frontier = next
	}
	out := lo.Keys(seen)
	slices.Sort(out)
	return out
}

// TopologicalOrder returns the order a single-worker executor dispatches the
// steps in when every step succeeds: repeatedly the lexically smallest step
// whose dependencies are done.
func (g *Graph) TopologicalOrder() []string {
	remaining := make(map[string]int, len(g.names))
	for _, name := range g.names {
		remaining[name] = len(g.to[name])
	}

	order := make([]string, 0, len(g.names))
	var ready []string
	for _, name := range g.names {
		if remaining[name] == 0 {
			ready = append(ready, name)
		}
	}
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, child := range g.from[next] {
			remaining[child]--
			if remaining[child] == 0 {
				ready = append(ready, child)
				slices.Sort(ready)
			}
		}
	}
	return order
}
