package etl

import (
	"errors"
	"os"

	"github.com/BartekS5/elt/pkg/logger"
)

// Cleanup removes the scratch directory. It never fails the run: an absent
// directory is a logged no-op and removal errors are only logged.
type Cleanup struct {
	Dir string
}

// Run reports whether anything was removed.
func (c *Cleanup) Run() bool {
	if c.Dir == "" {
		return false
	}
	if _, err := os.Stat(c.Dir); errors.Is(err, os.ErrNotExist) {
		logger.Info("scratch directory already absent", "dir", c.Dir)
		return false
	}
	if err := os.RemoveAll(c.Dir); err != nil {
		logger.Warn("failed to remove scratch directory", "dir", c.Dir, "err", err)
		return false
	}
	logger.Info("scratch directory removed", "dir", c.Dir)
	return true
}
