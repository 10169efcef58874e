package transform

import (
	"github.com/samber/lo"

	"github.com/BartekS5/elt/internal/dag"
	"github.com/BartekS5/elt/pkg/models"
)

// Env is what step actions run against.
type Env struct {
	Warehouse Querier
	// Workdir and Vars apply to command steps.
	Workdir string
	Vars    []string
}

// BuildGraph validates defs and assembles the transform graph. Invalid
// definitions fail with models.ErrInvalidGraph before anything runs.
func BuildGraph(defs []models.StepDefinition, env Env) (*dag.Graph, error) {
	steps := make([]dag.Step, 0, len(defs))
	for _, def := range defs {
		action, err := newAction(def, env)
		if err != nil {
			return nil, err
		}
		steps = append(steps, dag.Step{
			Name:    def.Name,
			Depends: def.Depends,
			Action:  action,
			Timeout: def.Timeout,
		})
	}
	return dag.NewGraph(steps...)
}

func newAction(def models.StepDefinition, env Env) (dag.Action, error) {
	const op = "build graph"

	kind := def.Kind
	if kind == "" {
		kind = models.StepCommand
	}
	switch kind {
	case models.StepCommand:
		commands := lo.Compact(def.Commands)
		if len(commands) == 0 {
			return nil, models.Errorf(models.CodeInvalidGraph, op, "step %q has no commands", def.Name)
		}
		action := &CommandAction{Step: def.Name, Commands: commands, Dir: env.Workdir, Env: env.Vars}
		for _, c := range commands {
			if _, err := action.Argv(c); err != nil {
				return nil, models.NewError(models.CodeInvalidGraph, op, err)
			}
		}
		return action, nil

	case models.StepSQL:
		statements := lo.Compact(def.SQL)
		if len(statements) == 0 {
			return nil, models.Errorf(models.CodeInvalidGraph, op, "step %q has no sql", def.Name)
		}
		if env.Warehouse == nil {
			return nil, models.Errorf(models.CodeInvalidGraph, op, "step %q needs a warehouse", def.Name)
		}
		return &SQLAction{Step: def.Name, Warehouse: env.Warehouse, Statements: statements}, nil

	default:
		return nil, models.Errorf(models.CodeInvalidGraph, op, "step %q has unknown kind %q", def.Name, def.Kind)
	}
}
