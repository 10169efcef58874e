package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/BartekS5/elt/internal/dag"
	"github.com/BartekS5/elt/pkg/models"
	"github.com/BartekS5/elt/pkg/utils"
)

var runHeader = table.Row{
	"Run ID",
	"Pipeline",
	"Run Date",
	"Window",
	"Status",
	"Advanced",
	"Failed Steps",
	"Error Code",
	"Duration",
}

func runRow(r models.RunResult) table.Row {
	window := ""
	if !r.WindowStart.IsZero() {
		window = utils.FormatDate(r.WindowStart) + " .. " + utils.FormatDate(r.WindowEnd)
	}
	return table.Row{
		r.RunID,
		r.PipelineID,
		utils.FormatDate(r.RunDate),
		window,
		r.Status,
		r.Advanced,
		strings.Join(r.FailedSteps, ", "),
		r.ErrorCode,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
	}
}

func renderRunSummary(r *models.RunResult) string {
	t := table.NewWriter()
	t.AppendHeader(runHeader)
	t.AppendRow(runRow(*r))
	return t.Render()
}

var batchHeader = table.Row{
	"Entity",
	"Rows",
	"Object",
}

func renderBatches(batches []models.Batch) string {
	t := table.NewWriter()
	t.AppendHeader(batchHeader)
	for _, b := range batches {
		t.AppendRow(table.Row{b.Entity, b.RowCount, b.StoragePath})
	}
	return t.Render()
}

var stepHeader = table.Row{
	"#",
	"Step",
	"Status",
	"Duration",
	"Error",
}

func renderStepSummary(steps []models.StepOutcome) string {
	t := table.NewWriter()
	t.AppendHeader(stepHeader)
	for i, s := range steps {
		t.AppendRow(table.Row{
			fmt.Sprintf("%d", i+1),
			s.Name,
			s.Status,
			s.Duration.Round(time.Millisecond),
			s.Error,
		})
	}
	return t.Render()
}

func renderHistory(runs []models.RunResult) string {
	t := table.NewWriter()
	t.AppendHeader(runHeader)
	for _, r := range runs {
		t.AppendRow(runRow(r))
	}
	return t.Render()
}

var graphHeader = table.Row{
	"#",
	"Step",
	"Depends On",
	"Action",
	"Timeout",
}

// renderGraph lists steps in the order a single worker would dispatch them.
func renderGraph(g *dag.Graph, defs []models.StepDefinition) string {
	byName := make(map[string]models.StepDefinition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}

	t := table.NewWriter()
	t.AppendHeader(graphHeader)
	for i, name := range g.TopologicalOrder() {
		def := byName[name]
		action := strings.Join(def.Commands, " && ")
		if def.Kind == models.StepSQL {
			action = fmt.Sprintf("sql (%d statements)", len(def.SQL))
		}
		timeout := ""
		if def.Timeout > 0 {
			timeout = def.Timeout.String()
		}
		t.AppendRow(table.Row{
			fmt.Sprintf("%d", i+1),
			name,
			strings.Join(g.Dependencies(name), ", "),
			action,
			timeout,
		})
	}
	return t.Render()
}
