package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vertd/internal/job"
)

// PendingCounter reports outputs awaiting expiry.
type PendingCounter interface {
	Pending() int
}

// JobsHandler exposes aggregate job information. It never returns tokens.
type JobsHandler struct {
	registry  *job.Registry
	retention PendingCounter
}

// NewJobsHandler creates a jobs handler. retention may be nil.
func NewJobsHandler(registry *job.Registry, retention PendingCounter) *JobsHandler {
	return &JobsHandler{registry: registry, retention: retention}
}

// JobStatsInput is the input for the job stats endpoint.
type JobStatsInput struct{}

// JobStatsResponse is the job stats body.
type JobStatsResponse struct {
	job.Stats
	PendingExpiry int `json:"pending_expiry" doc:"Finished outputs waiting for their lifetime to elapse"`
}

// JobStatsOutput is the output for the job stats endpoint.
type JobStatsOutput struct {
	Body JobStatsResponse
}

// Register registers the jobs routes with the API.
func (h *JobsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getJobStats",
		Method:      "GET",
		Path:        "/api/v1/jobs/stats",
		Summary:     "Job statistics",
		Description: "Returns counts of registered jobs by kind, state and target format",
		Tags:        []string{"Jobs"},
	}, h.GetStats)
}

// GetStats returns the current job counts.
func (h *JobsHandler) GetStats(_ context.Context, _ *JobStatsInput) (*JobStatsOutput, error) {
	body := JobStatsResponse{Stats: h.registry.Stats()}
	if h.retention != nil {
		body.PendingExpiry = h.retention.Pending()
	}
	return &JobStatsOutput{Body: body}, nil
}
