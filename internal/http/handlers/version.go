package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vertd/internal/http/response"
	"github.com/jmylchreest/vertd/internal/version"
)

// VersionHandler reports the running build.
type VersionHandler struct{}

// NewVersionHandler creates a version handler.
func NewVersionHandler() *VersionHandler {
	return &VersionHandler{}
}

// VersionInput is the input for the version endpoint.
type VersionInput struct{}

// VersionOutput is the output for the version endpoint.
type VersionOutput struct {
	Body response.Envelope[string]
}

// Register registers the version route with the API.
func (h *VersionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getVersion",
		Method:      "GET",
		Path:        "/api/version",
		Summary:     "Get version",
		Description: "Returns the server version string",
		Tags:        []string{"System"},
	}, h.GetVersion)
}

// GetVersion returns the version wrapped in a success envelope.
func (h *VersionHandler) GetVersion(_ context.Context, _ *VersionInput) (*VersionOutput, error) {
	return &VersionOutput{Body: response.Success(version.Version)}, nil
}
