package storage

import (
	"log/slog"
	"sync"
	"time"
)

// Retention removes finished jobs and their outputs once the output lifetime
// has elapsed.
type Retention struct {
	lifetime time.Duration
	forget   func(id string)
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewRetention creates a retention scheduler. forget is called with the job
// id when its window expires, before the output file is removed.
func NewRetention(lifetime time.Duration, forget func(id string)) *Retention {
	return &Retention{
		lifetime: lifetime,
		forget:   forget,
		logger:   slog.Default(),
		timers:   make(map[string]*time.Timer),
	}
}

// WithLogger sets the logger.
func (r *Retention) WithLogger(logger *slog.Logger) *Retention {
	r.logger = logger
	return r
}

// Schedule arranges for id to be forgotten and outputPath removed after the
// retention window. Scheduling an id again restarts its window.
func (r *Retention) Schedule(id, outputPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[id]; ok {
		t.Stop()
	}
	r.timers[id] = time.AfterFunc(r.lifetime, func() { r.expire(id, outputPath) })

	r.logger.Debug("output retention scheduled",
		slog.String("job_id", id),
		slog.Duration("lifetime", r.lifetime),
	)
}

// Pending returns the number of scheduled expiries.
func (r *Retention) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop cancels every pending expiry. Files are left for the startup cleanup
// of the next process.
func (r *Retention) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

func (r *Retention) expire(id, outputPath string) {
	r.mu.Lock()
	delete(r.timers, id)
	r.mu.Unlock()

	if r.forget != nil {
		r.forget(id)
	}
	if err := RemoveFile(outputPath); err != nil {
		r.logger.Error("failed to remove output file",
			slog.String("job_id", id),
			slog.String("path", outputPath),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.Info("output retention expired", slog.String("job_id", id))
}
