// Package watermark persists the per-pipeline cutoff date that bounds the
// extraction window. Every store keeps one value per pipeline id, writes it
// atomically, and reports models.ErrNotInitialized for unknown pipelines.
//
// Stores assume a single writer per pipeline id; concurrent runs of the same
// pipeline must be prevented by the caller.
package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/BartekS5/elt/pkg/models"
	"github.com/BartekS5/elt/pkg/utils"
)

const stateVersion = 1

type entry struct {
	CutoffDate string    `json:"cutoffDate"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type state struct {
	Version   int              `json:"version"`
	Pipelines map[string]entry `json:"pipelines"`
}

// FileStore keeps watermarks in a JSON file. Writes go through a temp file
// and a rename so readers never see a partial document; an advisory lock
// file serialises writers across processes.
type FileStore struct {
	path string
	loc  *time.Location
}

// NewFileStore returns a store backed by the file at path. Dates are
// interpreted in loc (UTC when nil).
func NewFileStore(path string, loc *time.Location) *FileStore {
	if loc == nil {
		loc = time.UTC
	}
	return &FileStore{path: path, loc: loc}
}

// Path returns the state file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context, pipelineID string) (time.Time, error) {
	st, err := s.load()
	if err != nil {
		return time.Time{}, err
	}
	e, ok := st.Pipelines[pipelineID]
	if !ok {
		return time.Time{}, models.NewError(models.CodeNotInitialized, "get watermark", fmt.Errorf("pipeline %q", pipelineID))
	}
	t, err := utils.ParseDate(e.CutoffDate, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt watermark for %q: %w", pipelineID, err)
	}
	return t, nil
}

func (s *FileStore) Set(ctx context.Context, pipelineID string, cutoff time.Time) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("failed to create watermark directory: %w", err)
	}

	lock := flock.New(s.path + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to lock watermark file: %w", err)
	}
	if !locked {
		return fmt.Errorf("watermark file %s is locked", s.path)
	}
	defer func() { _ = lock.Unlock() }()

	st, err := s.load()
	if err != nil {
		return err
	}
	st.Pipelines[pipelineID] = entry{
		CutoffDate: utils.FormatDate(cutoff.In(s.loc)),
		UpdatedAt:  time.Now().UTC(),
	}
	return s.save(st)
}

func (s *FileStore) load() (*state, error) {
	st := &state{Version: stateVersion, Pipelines: map[string]entry{}}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark file: %w", err)
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to parse watermark file %s: %w", s.path, err)
	}
	if st.Pipelines == nil {
		st.Pipelines = map[string]entry{}
	}
	return st, nil
}

func (s *FileStore) save(st *state) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode watermark state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write watermark file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace watermark file: %w", err)
	}
	return nil
}
