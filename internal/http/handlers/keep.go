package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vertd/internal/http/response"
	"github.com/jmylchreest/vertd/internal/job"
	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/observability"
	"github.com/jmylchreest/vertd/internal/storage"
)

// KeepHandler copies finished outputs into the permanent directory.
type KeepHandler struct {
	layout   *storage.Layout
	registry *job.Registry
}

// NewKeepHandler creates a keep handler.
func NewKeepHandler(layout *storage.Layout, registry *job.Registry) *KeepHandler {
	return &KeepHandler{layout: layout, registry: registry}
}

// KeepInput identifies the job to keep.
type KeepInput struct {
	ID    string `path:"id" doc:"Job ID"`
	Token string `path:"token" doc:"Job auth token"`
}

// KeptFile describes a file copied to the permanent directory.
type KeptFile struct {
	Name  string `json:"name" doc:"File name under permanent/, usable with the admin download"`
	Bytes int64  `json:"bytes" doc:"Size of the kept file"`
}

// KeepOutput is the output for the keep endpoint.
type KeepOutput struct {
	Body response.Envelope[KeptFile]
}

// Register registers the keep route with the API.
func (h *KeepHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "keepOutput",
		Method:      "POST",
		Path:        "/api/keep/{id}/{token}",
		Summary:     "Keep job output",
		Description: "Copies a completed job's output to permanent storage for later operator download",
		Tags:        []string{"Jobs"},
	}, h.Keep)
}

// Keep copies output/{id}.{ext} to permanent/{id}.{ext}.
func (h *KeepHandler) Keep(ctx context.Context, input *KeepInput) (*KeepOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound(job.ErrJobNotFound.Error())
	}
	j, ok := h.registry.Get(id)
	if !ok {
		return nil, huma.Error404NotFound(job.ErrJobNotFound.Error())
	}
	if !j.Auth().Equal(input.Token) {
		return nil, huma.Error401Unauthorized(job.ErrInvalidToken.Error())
	}
	if !j.Completed() {
		return nil, huma.Error400BadRequest(job.ErrJobNotReady.Error())
	}

	n, err := h.layout.Keep(id.String(), j.To())
	if err != nil {
		observability.LoggerFromContext(ctx).Error("failed to keep output",
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()),
		)
		return nil, huma.Error500InternalServerError("failed to keep output")
	}

	observability.LoggerFromContext(ctx).Info("output kept",
		slog.String("job_id", id.String()),
		slog.Int64("bytes", n),
	)
	return &KeepOutput{Body: response.Success(KeptFile{Name: id.String() + "." + j.To(), Bytes: n})}, nil
}
