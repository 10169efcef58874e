// Package storage implements the object stores staged batches are uploaded
// to. All stores overwrite on Put, so re-uploading a batch for the same run
// date replaces the previous object instead of adding a new one.
package storage

import (
	"errors"
	"path"
	"strings"
	"time"

	"github.com/BartekS5/elt/pkg/utils"
)

// ErrNotFound is returned by Get when no object exists at the path.
var ErrNotFound = errors.New("object not found")

// Store drivers accepted by configuration.
const (
	DriverLocal = "local"
	DriverS3    = "s3"
	DriverMinio = "minio"
)

// BatchPath returns the deterministic object path of an entity batch:
// {prefix}/{entity}_{YYYY-MM-DD}.{format}.
func BatchPath(prefix, entity string, runDate time.Time, format string) string {
	name := entity + "_" + utils.FormatDate(runDate) + "." + format
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func cleanKey(p string) (string, error) {
	key := strings.TrimPrefix(path.Clean("/"+p), "/")
	if key == "" || key == "." {
		return "", errors.New("empty object path")
	}
	return key, nil
}
