package etl

import (
	"context"
	"errors"
	"time"

	"github.com/BartekS5/elt/pkg/logger"
	"github.com/BartekS5/elt/pkg/models"
	"github.com/BartekS5/elt/pkg/utils"
)

// Advancer commits the watermark at the end of a run.
type Advancer struct {
	Store      WatermarkStore
	PipelineID string
}

// Advance sets the watermark to runDate when status is success. It never
// moves the watermark backwards; re-advancing to the same date is a no-op.
// It reports whether the stored value changed.
func (a *Advancer) Advance(ctx context.Context, status models.RunStatus, runDate time.Time) (bool, error) {
	if status != models.RunSuccess {
		logger.Info("watermark not advanced", "pipeline", a.PipelineID, "status", status)
		return false, nil
	}

	current, err := a.Store.Get(ctx, a.PipelineID)
	switch {
	case errors.Is(err, models.ErrNotInitialized):
	case err != nil:
		return false, err
	case !runDate.After(current):
		logger.Info("watermark already at or past run date",
			"pipeline", a.PipelineID, "watermark", utils.FormatDate(current), "run_date", utils.FormatDate(runDate))
		return false, nil
	}

	if err := a.Store.Set(ctx, a.PipelineID, runDate); err != nil {
		return false, err
	}
	logger.Info("watermark advanced", "pipeline", a.PipelineID, "watermark", utils.FormatDate(runDate))
	return true, nil
}
