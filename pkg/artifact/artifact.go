// Package artifact implements the produce-or-reuse pattern used by every
// pipeline stage: check an existence predicate, skip the producer when the
// artifact is already materialized, and log the decision either way.
package artifact

import (
	"context"
	"log/slog"
	"os"
)

// Producer materializes an artifact.
type Producer func(ctx context.Context) error

// ExistsFunc reports whether an artifact is already materialized.
type ExistsFunc func() (bool, error)

// Materialize runs produce unless exists reports the artifact is present.
// Returns reused=true when the producer was skipped. A skip is never an
// error.
func Materialize(ctx context.Context, name string, exists ExistsFunc, produce Producer) (reused bool, err error) {
	ok, err := exists()
	if err != nil {
		return false, err
	}
	if ok {
		slog.Info("artifact already exists, skipping", "artifact", name)
		return true, nil
	}

	if err := produce(ctx); err != nil {
		return false, err
	}
	slog.Info("artifact produced", "artifact", name)
	return false, nil
}

// FileExists adapts a filesystem path to an existence predicate.
func FileExists(path string) ExistsFunc {
	return func() (bool, error) {
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return !info.IsDir(), nil
	}
}
