// Package startup provides utilities for application startup tasks.
package startup

import (
	"errors"
	"log/slog"

	"github.com/jmylchreest/vertd/internal/storage"
)

// CleanupJobFiles removes every file left in the input and output
// directories by a previous process. Jobs live only in memory, so nothing
// found there at startup can be claimed again. The permanent directory is
// never touched.
//
// Returns the number of files removed and the joined errors of any directory
// that could not be read.
func CleanupJobFiles(logger *slog.Logger, layout *storage.Layout) (int, error) {
	var (
		removed int
		errs    []error
	)

	for _, dir := range []string{storage.InputDir, storage.OutputDir} {
		n, err := storage.RemoveOrphans(logger, layout.Dir(dir), 0, nil)
		if err != nil {
			logger.Error("failed to clean job directory",
				"dir", dir,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		removed += n
	}

	if removed > 0 {
		logger.Info("removed files from previous run", "count", removed)
	}
	return removed, errors.Join(errs...)
}
