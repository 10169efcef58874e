package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/BartekS5/elt/internal/dag"
	"github.com/BartekS5/elt/pkg/logger"
	"github.com/BartekS5/elt/pkg/models"
	"github.com/BartekS5/elt/pkg/utils"
)

// Pipeline runs one incremental cycle: extract and stage every entity, load
// the batches, execute the transform graph and, only if everything
// succeeded, advance the watermark to the run date.
//
// Concurrent runs of the same pipeline id are not supported; the caller
// must serialise them.
type Pipeline struct {
	ID       string
	Entities []models.EntityMapping
	Location *time.Location
	// StartDate is the window start used until a watermark is stored.
	StartDate time.Time

	Source     Source
	Stager     *Stager
	Loader     *Loader
	Cleanup    *Cleanup
	Watermarks WatermarkStore
	Graph      *dag.Graph
	Executor   *dag.Executor

	// Retries is how often a SourceUnavailable extraction is retried.
	Retries       int
	RetryInterval time.Duration

	History  RunRecorder
	Observer RunObserver

	Now func() time.Time
}

// phaseError names the prerequisite step that failed.
type phaseError struct {
	step string
	err  error
}

func (e *phaseError) Error() string { return e.step + ": " + e.err.Error() }
func (e *phaseError) Unwrap() error { return e.err }

func (p *Pipeline) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Run executes the cycle for runDate, or for today when runDate is zero.
// The returned result is never nil; the error is non-nil iff the result
// status is failed.
func (p *Pipeline) Run(ctx context.Context, runDate time.Time) (*models.RunResult, error) {
	if runDate.IsZero() {
		runDate = p.now()
	}
	runDate = utils.Midnight(runDate, p.location())

	res := &models.RunResult{
		RunID:      uuid.NewString(),
		PipelineID: p.ID,
		RunDate:    runDate,
		StartedAt:  time.Now(),
	}
	log := logger.With("pipeline", p.ID, "run_id", res.RunID, "run_date", utils.FormatDate(runDate))
	log.Info("run started")

	err := p.run(ctx, res, log)

	status := models.RunSuccess
	if err != nil {
		status = models.RunFailed
	}
	advancer := &Advancer{Store: p.Watermarks, PipelineID: p.ID}
	advanced, aerr := advancer.Advance(ctx, status, res.RunDate)
	if aerr != nil {
		err = &phaseError{step: "watermark", err: aerr}
	}
	res.Advanced = advanced

	res.FinishedAt = time.Now()
	if err != nil {
		res.Status = models.RunFailed
		res.Error = err.Error()
		res.ErrorCode = models.CodeOf(err)
		var pe *phaseError
		if errors.As(err, &pe) {
			res.FailedSteps = []string{pe.step}
		}
		log.Error("run failed", "failed_steps", res.FailedSteps, "code", res.ErrorCode, "err", err, "duration", res.FinishedAt.Sub(res.StartedAt))
	} else {
		res.Status = models.RunSuccess
		log.Info("run finished", "advanced", res.Advanced, "duration", res.FinishedAt.Sub(res.StartedAt))
	}

	if p.Observer != nil {
		p.Observer.ObserveRun(res)
	}
	if p.History != nil {
		if herr := p.History.Record(context.WithoutCancel(ctx), res); herr != nil {
			log.Warn("failed to record run history", "err", herr)
		}
	}
	return res, err
}

func (p *Pipeline) run(ctx context.Context, res *models.RunResult, log *slog.Logger) error {
	start, err := p.windowStart(ctx, log)
	if err != nil {
		return &phaseError{step: "watermark", err: err}
	}
	end := res.RunDate
	if start.After(end) {
		log.Warn("watermark is past run date, window is empty",
			"watermark", utils.FormatDate(start), "run_date", utils.FormatDate(end))
		start = end
	}
	res.WindowStart, res.WindowEnd = start, end
	log.Info("extraction window", "start", utils.FormatDate(start), "end", utils.FormatDate(end))

	batches, err := p.extractAndStage(ctx, start, end, res.RunDate, log)

	// Cleanup only touches scratch files, so it runs alongside loading.
	if p.Cleanup != nil {
		cleaned := make(chan struct{})
		go func() {
			defer close(cleaned)
			p.Cleanup.Run()
		}()
		defer func() { <-cleaned }()
	}
	if err != nil {
		return err
	}
	for _, b := range batches {
		res.Batches = append(res.Batches, *b)
	}

	if err := p.load(ctx, batches); err != nil {
		return err
	}

	if p.Graph != nil {
		return p.transform(ctx, res, log)
	}
	return nil
}

func (p *Pipeline) windowStart(ctx context.Context, log *slog.Logger) (time.Time, error) {
	wm, err := p.Watermarks.Get(ctx, p.ID)
	if err == nil {
		return wm, nil
	}
	if !errors.Is(err, models.ErrNotInitialized) {
		return time.Time{}, err
	}
	if p.StartDate.IsZero() {
		return time.Time{}, fmt.Errorf("%w and no start date is configured", err)
	}
	log.Info("watermark not initialized, using configured start date", "start_date", utils.FormatDate(p.StartDate))
	return utils.Midnight(p.StartDate, p.location()), nil
}

func (p *Pipeline) extractAndStage(ctx context.Context, start, end, runDate time.Time, log *slog.Logger) ([]*models.Batch, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(len(p.Entities), 1))

	batches := make([]*models.Batch, len(p.Entities))
	for i, entity := range p.Entities {
		g.Go(func() error {
			ds, err := p.extract(gctx, entity, start, end, log)
			if err != nil {
				return &phaseError{step: "extract:" + entity.Name, err: err}
			}
			log.Info("entity extracted", "entity", entity.Name, "rows", ds.Len())

			b, err := p.Stager.Stage(gctx, ds, start, end, runDate)
			if err != nil {
				return &phaseError{step: "stage:" + entity.Name, err: err}
			}
			batches[i] = b
			if p.Observer != nil {
				p.Observer.ObserveBatch(entity.Name, b.RowCount)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}

// extract retries the source while it is unavailable; every other error
// aborts immediately.
func (p *Pipeline) extract(ctx context.Context, entity models.EntityMapping, start, end time.Time, log *slog.Logger) (*models.Dataset, error) {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.RetryInterval)
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.Retries, 0))), ctx)

	op := func() (*models.Dataset, error) {
		ds, err := p.Source.Extract(ctx, entity, start, end)
		if err != nil && !errors.Is(err, models.ErrSourceUnavailable) {
			return nil, backoff.Permanent(err)
		}
		return ds, err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("source unavailable, retrying", "entity", entity.Name, "wait", wait, "err", err)
	}
	return backoff.RetryNotifyWithData(op, b, notify)
}

func (p *Pipeline) load(ctx context.Context, batches []*models.Batch) error {
	if err := p.Loader.Bootstrap(ctx); err != nil {
		return &phaseError{step: "create_dataset", err: err}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, entity := range p.Entities {
		batch := batches[i]
		g.Go(func() error {
			if err := p.Loader.Load(gctx, entity, batch); err != nil {
				return &phaseError{step: "load:" + entity.Name, err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) transform(ctx context.Context, res *models.RunResult, log *slog.Logger) error {
	exec := p.Executor
	if exec == nil {
		exec = &dag.Executor{}
	}
	if exec.Logger == nil {
		e := *exec
		e.Logger = log
		exec = &e
	}

	result := exec.Execute(ctx, p.Graph)

	for _, name := range p.Graph.TopologicalOrder() {
		sr := result.Steps[name]
		out := models.StepOutcome{
			Name:       name,
			Status:     sr.Status.String(),
			StartedAt:  sr.StartedAt,
			FinishedAt: sr.FinishedAt,
			Duration:   sr.Duration(),
		}
		if sr.Err != nil {
			out.Error = sr.Err.Error()
		}
		res.Steps = append(res.Steps, out)
		if p.Observer != nil {
			p.Observer.ObserveStep(name, out.Status, out.Duration)
		}
	}

	if result.Status == models.RunSuccess {
		return nil
	}
	res.FailedSteps = append(res.FailedSteps, result.Failed...)
	if len(result.Failed) > 0 {
		return fmt.Errorf("transform step(s) %s failed: %w",
			strings.Join(result.Failed, ", "), result.Steps[result.Failed[0]].Err)
	}
	return fmt.Errorf("transform graph interrupted: %w", context.Cause(ctx))
}
