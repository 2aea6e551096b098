package job

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/vertd/internal/models"
)

// Download claim errors, in the order they are checked.
var (
	ErrJobNotFound         = errors.New("job not found")
	ErrInvalidToken        = errors.New("invalid token")
	ErrIncompleteHandshake = errors.New("incomplete websocket handshake")
	ErrJobNotReady         = errors.New("job has no output yet")
)

// Registry is the process-wide set of live jobs. Every read returns a clone
// so callers never share state with the registry; the lock is never held
// while a caller performs I/O.
type Registry struct {
	logger *slog.Logger

	mu    sync.Mutex
	jobs  map[models.ULID]Job
	bound map[models.ULID]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		jobs:   make(map[models.ULID]Job),
		bound:  make(map[models.ULID]struct{}),
	}
}

// Insert adds a new job.
func (r *Registry) Insert(j Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[j.ID()]; ok {
		return fmt.Errorf("job %s already registered", j.ID())
	}
	r.jobs[j.ID()] = j.Clone()

	r.logger.Debug("job registered",
		slog.String("job_id", j.ID().String()),
		slog.String("kind", string(j.Kind())),
		slog.String("from", j.From()),
	)
	return nil
}

// Get returns a clone of the job with the given id.
func (r *Registry) Get(id models.ULID) (Job, bool) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// Has reports whether a job id string belongs to a registered job.
func (r *Registry) Has(id string) bool {
	parsed, err := models.ParseULID(id)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[parsed]
	return ok
}

// Remove deletes a job and returns it.
func (r *Registry) Remove(id models.ULID) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	return j, ok
}

// Forget removes a job by id string, ignoring unknown or malformed ids.
func (r *Registry) Forget(id string) {
	parsed, err := models.ParseULID(id)
	if err != nil {
		return
	}
	if _, ok := r.Remove(parsed); ok {
		r.logger.Debug("job forgotten", slog.String("job_id", id))
	}
}

// Replace stores j in place of any job with the same id, removing the old
// entry first.
func (r *Registry) Replace(j Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.jobs, j.ID())
	r.jobs[j.ID()] = j.Clone()
}

// FindByToken returns a clone of the job whose auth token matches.
func (r *Registry) FindByToken(token string) (Job, bool) {
	r.mu.Lock()
	var found Job
	for _, j := range r.jobs {
		if j.Auth().Equal(token) {
			found = j
			break
		}
	}
	r.mu.Unlock()

	if found == nil {
		return nil, false
	}
	return found.Clone(), true
}

// Bind marks a registered job as driven by one websocket session. It
// reports false when the job is unknown or another session holds it.
func (r *Registry) Bind(id models.ULID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return false
	}
	if _, held := r.bound[id]; held {
		return false
	}
	r.bound[id] = struct{}{}
	return true
}

// Bound reports whether a session currently holds the job.
func (r *Registry) Bound(id models.ULID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.bound[id]
	return held
}

// Release undoes Bind.
func (r *Registry) Release(id models.ULID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bound, id)
}

// Claim validates a download request and, on success, removes the job from
// the registry and returns it. Only completed jobs can be claimed.
func (r *Registry) Claim(id, token string) (Job, error) {
	parsed, err := models.ParseULID(id)
	if err != nil {
		return nil, ErrJobNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[parsed]
	switch {
	case !ok:
		return nil, ErrJobNotFound
	case !j.Auth().Equal(token):
		return nil, ErrInvalidToken
	case j.To() == "":
		return nil, ErrIncompleteHandshake
	case !j.Completed():
		return nil, ErrJobNotReady
	}

	delete(r.jobs, parsed)
	return j, nil
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Stats summarises the registered jobs.
type Stats struct {
	Total   int            `json:"total"`
	ByKind  map[Kind]int   `json:"by_kind"`
	ByState map[State]int  `json:"by_state"`
	ByTo    map[string]int `json:"by_target,omitempty"`
}

// Stats counts jobs by kind, state and target format.
func (r *Registry) Stats() Stats {
	s := Stats{
		ByKind:  map[Kind]int{KindConversion: 0, KindCompression: 0},
		ByState: map[State]int{StateProcessing: 0, StateCompleted: 0, StateFailed: 0},
		ByTo:    make(map[string]int),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s.Total = len(r.jobs)
	for _, j := range r.jobs {
		s.ByKind[j.Kind()]++
		s.ByState[j.State()]++
		if to := j.To(); to != "" {
			s.ByTo[to]++
		}
	}
	return s
}
