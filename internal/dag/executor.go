package dag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BartekS5/elt/pkg/logger"
	"github.com/BartekS5/elt/pkg/models"
)

// Status is the state of a step within one execution.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSuccess
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusPending:
		fallthrough
	default:
		return "pending"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

// ErrUpstreamFailed is the cause recorded on steps skipped because an
// ancestor failed.
var ErrUpstreamFailed = errors.New("upstream step failed")

// StepResult is the outcome of one step.
type StepResult struct {
	Name       string
	Status     Status
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is zero for steps that never ran.
func (r *StepResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Result is the outcome of one graph execution.
type Result struct {
	Status models.RunStatus
	Steps  map[string]*StepResult
	// DispatchOrder lists steps in the order they were started.
	DispatchOrder []string
	// Failed lists failed steps in completion order.
	Failed    []string
	Cancelled bool
}

// StatusOf returns the terminal status of a step.
func (r *Result) StatusOf(name string) Status {
	if s, ok := r.Steps[name]; ok {
		return s.Status
	}
	return StatusPending
}

// Executor runs a Graph. A step is dispatched once all of its dependencies
// succeeded; a failure skips every descendant and leaves unrelated branches
// running. The zero value runs with unbounded concurrency and no timeout.
//
// With Concurrency == 1 the dispatch order is deterministic: among ready
// steps the lexically smallest name is started first.
type Executor struct {
	// Concurrency bounds in-flight steps; <= 0 means unbounded.
	Concurrency int
	// DefaultTimeout applies to steps without their own timeout.
	DefaultTimeout time.Duration

	OnStepStart  func(name string)
	OnStepFinish func(result StepResult)

	Logger *slog.Logger
}

type completion struct {
	name       string
	err        error
	finishedAt time.Time
}

// Run validates steps into a graph and executes it. It returns an error only
// when the graph is invalid, in which case nothing is dispatched.
func (e *Executor) Run(ctx context.Context, steps ...Step) (*Result, error) {
	g, err := NewGraph(steps...)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, g), nil
}

// Execute runs g to completion. Cancelling ctx stops further dispatching;
// steps already running are left to finish since actions are not resumable.
// Undispatched steps then end skipped with ctx's error as their cause.
func (e *Executor) Execute(ctx context.Context, g *Graph) *Result {
	log := e.Logger
	if log == nil {
		log = logger.L()
	}

	res := &Result{Steps: make(map[string]*StepResult, g.Len())}
	for _, name := range g.names {
		res.Steps[name] = &StepResult{Name: name, Status: StatusPending}
	}

	done := make(chan completion)
	ctxDone := ctx.Done()
	running := 0

	for {
		if !res.Cancelled && ctx.Err() != nil {
			ctxDone = nil
			res.Cancelled = true
		}
		if !res.Cancelled {
			for _, name := range e.ready(g, res) {
				if e.Concurrency > 0 && running >= e.Concurrency {
					break
				}
				e.dispatch(ctx, g.steps[name], res, done, log)
				running++
			}
		}
		if running == 0 {
			break
		}

		select {
		case c := <-done:
			running--
			e.complete(g, res, c, log)
		case <-ctxDone:
			ctxDone = nil
			res.Cancelled = true
			log.Warn("execution cancelled, waiting for running steps", "running", running)
		}
	}

	for _, name := range g.names {
		sr := res.Steps[name]
		if sr.Status == StatusPending {
			sr.Status = StatusSkipped
			sr.Err = context.Cause(ctx)
		}
	}

	res.Status = models.RunSuccess
	for _, sr := range res.Steps {
		if sr.Status != StatusSuccess {
			res.Status = models.RunFailed
			break
		}
	}
	return res
}

// ready returns pending steps whose dependencies all succeeded, in lexical order.
func (e *Executor) ready(g *Graph, res *Result) []string {
	var out []string
	for _, name := range g.names {
		if res.Steps[name].Status != StatusPending {
			continue
		}
		ok := true
		for _, dep := range g.to[name] {
			if res.Steps[dep].Status != StatusSuccess {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, name)
		}
	}
	return out
}

func (e *Executor) dispatch(ctx context.Context, step Step, res *Result, done chan<- completion, log *slog.Logger) {
	sr := res.Steps[step.Name]
	sr.Status = StatusRunning
	sr.StartedAt = time.Now()
	res.DispatchOrder = append(res.DispatchOrder, step.Name)

	log.Info("step started", "step", step.Name)
	if e.OnStepStart != nil {
		e.OnStepStart(step.Name)
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.DefaultTimeout
	}
	go func() {
		err := runAction(ctx, step, timeout)
		done <- completion{name: step.Name, err: err, finishedAt: time.Now()}
	}()
}

func (e *Executor) complete(g *Graph, res *Result, c completion, log *slog.Logger) {
	sr := res.Steps[c.name]
	sr.FinishedAt = c.finishedAt

	if c.err == nil {
		sr.Status = StatusSuccess
		log.Info("step finished", "step", c.name, "status", sr.Status, "duration", sr.Duration())
	} else {
		sr.Status = StatusFailed
		sr.Err = c.err
		res.Failed = append(res.Failed, c.name)
		log.Error("step failed", "step", c.name, "duration", sr.Duration(), "err", c.err)

		for _, d := range g.Descendants(c.name) {
			ds := res.Steps[d]
			if ds.Status != StatusPending {
				continue
			}
			ds.Status = StatusSkipped
			ds.Err = fmt.Errorf("%w: %s", ErrUpstreamFailed, c.name)
			log.Warn("step skipped", "step", d, "failed_ancestor", c.name)
		}
	}

	if e.OnStepFinish != nil {
		e.OnStepFinish(*sr)
	}
}

// runAction runs the step detached from run cancellation, bounded by timeout.
// A timed-out action is reported at the deadline even if it keeps running.
func runAction(ctx context.Context, step Step, timeout time.Duration) error {
	actx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, timeout)
		defer cancel()
	}

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("panic: %v", r)
			}
		}()
		result <- step.Action.Run(actx)
	}()

	select {
	case err := <-result:
		if err == nil {
			return nil
		}
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return models.Errorf(models.CodeStepTimeout, step.Name, "exceeded %s: %v", timeout, err)
		}
		return models.NewError(models.CodeStepFailed, step.Name, err)
	case <-actx.Done():
		return models.Errorf(models.CodeStepTimeout, step.Name, "exceeded %s", timeout)
	}
}
