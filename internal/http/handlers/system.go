package handlers

import (
	"context"
	"slices"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vertd/internal/ffmpeg"
)

// EncoderSnapshotter reports the hardware encoders negotiated so far.
type EncoderSnapshotter interface {
	Snapshot() map[string]ffmpeg.Encoder
}

// SystemHandler handles system information endpoints.
type SystemHandler struct {
	ffmpegProvider FFmpegInfoProvider
	negotiator     EncoderSnapshotter
}

// NewSystemHandler creates a new system handler. negotiator may be nil when
// hardware acceleration is disabled.
func NewSystemHandler(ffmpegProvider FFmpegInfoProvider, negotiator EncoderSnapshotter) *SystemHandler {
	return &SystemHandler{
		ffmpegProvider: ffmpegProvider,
		negotiator:     negotiator,
	}
}

// FFmpegInfoInput is the input for the FFmpeg info endpoint.
type FFmpegInfoInput struct{}

// FFmpegInfoOutput is the output for the FFmpeg info endpoint.
type FFmpegInfoOutput struct {
	Body FFmpegInfoResponse
}

// FFmpegInfoResponse represents the FFmpeg capabilities response.
type FFmpegInfoResponse struct {
	Available    bool                    `json:"available" doc:"Whether FFmpeg is available"`
	FFmpegPath   string                  `json:"ffmpeg_path,omitempty" doc:"Path to FFmpeg binary"`
	FFprobePath  string                  `json:"ffprobe_path,omitempty" doc:"Path to FFprobe binary"`
	Version      string                  `json:"version,omitempty" doc:"FFmpeg version string"`
	MajorVersion int                     `json:"major_version,omitempty" doc:"Major version number"`
	MinorVersion int                     `json:"minor_version,omitempty" doc:"Minor version number"`
	Encoders     []string                `json:"encoders,omitempty" doc:"Available encoders"`
	Negotiated   []NegotiatedEncoderInfo `json:"negotiated,omitempty" doc:"Hardware encoders selected per codec family"`
}

// NegotiatedEncoderInfo is the outcome for one codec family.
type NegotiatedEncoderInfo struct {
	Family  string `json:"family" doc:"Codec family, e.g. h264"`
	Encoder string `json:"encoder,omitempty" doc:"Selected hardware encoder; empty means software"`
	Accel   string `json:"accel,omitempty" doc:"Hardware acceleration backend"`
	Device  string `json:"device,omitempty" doc:"VA-API render node"`
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getFFmpegInfo",
		Method:      "GET",
		Path:        "/api/v1/system/ffmpeg",
		Summary:     "Get FFmpeg capabilities",
		Description: "Returns the detected FFmpeg installation and the hardware encoders negotiated so far",
		Tags:        []string{"System"},
	}, h.GetFFmpegInfo)
}

// GetFFmpegInfo returns FFmpeg capabilities and negotiated encoders.
func (h *SystemHandler) GetFFmpegInfo(ctx context.Context, _ *FFmpegInfoInput) (*FFmpegInfoOutput, error) {
	info, err := h.ffmpegProvider.Detect(ctx)
	if err != nil {
		return &FFmpegInfoOutput{Body: FFmpegInfoResponse{Available: false}}, nil
	}

	body := FFmpegInfoResponse{
		Available:    true,
		FFmpegPath:   info.FFmpegPath,
		FFprobePath:  info.FFprobePath,
		Version:      info.Version,
		MajorVersion: info.MajorVersion,
		MinorVersion: info.MinorVersion,
		Encoders:     info.Encoders,
		Negotiated:   negotiatedEncoders(h.negotiator),
	}
	return &FFmpegInfoOutput{Body: body}, nil
}

func negotiatedEncoders(n EncoderSnapshotter) []NegotiatedEncoderInfo {
	if n == nil {
		return nil
	}
	snap := n.Snapshot()
	out := make([]NegotiatedEncoderInfo, 0, len(snap))
	for family, enc := range snap {
		e := NegotiatedEncoderInfo{Family: family, Encoder: enc.Name, Device: enc.Device}
		if enc.Accelerated() {
			e.Accel = string(enc.Accel)
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b NegotiatedEncoderInfo) int {
		if a.Family < b.Family {
			return -1
		}
		if a.Family > b.Family {
			return 1
		}
		return 0
	})
	return out
}
