package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/vertd/pkg/format"
)

// JobIDFromFilename extracts the job id from names such as "{id}.mp4",
// "{id}-0.log" and "{id}-0.log.mbtree".
func JobIDFromFilename(name string) string {
	if i := strings.IndexAny(name, ".-"); i >= 0 {
		return name[:i]
	}
	return name
}

// RemoveOrphans deletes regular files in dir last modified more than maxAge
// ago whose job id is not reported live by isLive. A nil isLive treats every
// file as orphaned. Hidden temporary files are included. It returns the
// number of files removed.
func RemoveOrphans(logger *slog.Logger, dir string, maxAge time.Duration, isLive func(id string) bool) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		logger.Debug("directory does not exist, skipping cleanup", slog.String("path", dir))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", dir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		id := JobIDFromFilename(strings.TrimPrefix(entry.Name(), "."))
		if isLive != nil && isLive(id) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get file info", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if maxAge > 0 && info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove orphaned file", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}

		logger.Info("removed orphaned file",
			slog.String("path", path),
			slog.Duration("age", time.Since(info.ModTime()).Round(time.Second)),
		)
		removed++
	}

	return removed, nil
}

// Sweeper periodically removes input and output files that no registered
// job owns.
type Sweeper struct {
	layout   *Layout
	schedule string
	maxAge   time.Duration
	isLive   func(id string) bool
	onSwept  func(removed int)
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a sweeper running on a six-field cron schedule (with
// seconds). Files younger than maxAge are always kept.
func NewSweeper(layout *Layout, schedule string, maxAge time.Duration, isLive func(id string) bool) *Sweeper {
	return &Sweeper{
		layout:   layout,
		schedule: schedule,
		maxAge:   maxAge,
		isLive:   isLive,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger.
func (s *Sweeper) WithLogger(logger *slog.Logger) *Sweeper {
	s.logger = logger
	return s
}

// OnSwept registers a callback run after every sweep with the number of
// files removed.
func (s *Sweeper) OnSwept(fn func(removed int)) *Sweeper {
	s.onSwept = fn
	return s
}

// Start registers the sweep with a cron runner and starts it.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("orphan sweeper started",
		slog.String("schedule", s.schedule),
		slog.String("runs", format.CronDescription(s.schedule)),
		slog.Duration("max_age", s.maxAge),
	)
	return nil
}

// Stop stops the cron runner and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("orphan sweeper stopped")
}

// Sweep runs one pass over the input and output directories.
func (s *Sweeper) Sweep() int {
	var total int
	for _, dir := range []string{InputDir, OutputDir} {
		n, err := RemoveOrphans(s.logger, s.layout.Dir(dir), s.maxAge, s.isLive)
		if err != nil {
			s.logger.Error("orphan sweep failed", slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		total += n
	}
	if total > 0 {
		s.logger.Info("orphan sweep complete", slog.Int("removed", total))
	}
	if s.onSwept != nil {
		s.onSwept(total)
	}
	return total
}

// ValidateSchedule reports whether schedule is a valid six-field cron schedule.
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}
