package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vertd/internal/ffmpeg"
	"github.com/jmylchreest/vertd/internal/job"
	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/storage"
	"github.com/jmylchreest/vertd/internal/version"
)

func TestVersion(t *testing.T) {
	_, api := humatest.New(t)
	NewVersionHandler().Register(api)

	resp := api.Get("/api/version")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Type)
	assert.Equal(t, version.Version, body.Data)
}

func TestKeep(t *testing.T) {
	f := newFixture(t)
	done := f.completed(t, "keeper")
	running := f.running(t)

	_, api := humatest.New(t)
	NewKeepHandler(f.layout, f.registry).Register(api)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"unknown id", "/api/keep/" + models.NewULID().String() + "/token", http.StatusNotFound},
		{"malformed id", "/api/keep/bogus/token", http.StatusNotFound},
		{"wrong token", "/api/keep/" + done.ID().String() + "/nope", http.StatusUnauthorized},
		{"not finished", "/api/keep/" + running.ID().String() + "/" + string(running.Auth()), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.Post(tt.path)
			assert.Equal(t, tt.status, resp.Code, resp.Body.String())
		})
	}

	resp := api.Post("/api/keep/" + done.ID().String() + "/" + string(done.Auth()))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body struct {
		Type string   `json:"type"`
		Data KeptFile `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Type)
	assert.Equal(t, done.ID().String()+".webm", body.Data.Name)
	assert.Equal(t, int64(6), body.Data.Bytes)

	kept, err := os.ReadFile(filepath.Join(f.layout.Dir(storage.PermanentDir), body.Data.Name))
	require.NoError(t, err)
	assert.Equal(t, "keeper", string(kept))

	assert.True(t, f.registry.Has(done.ID().String()), "keeping does not claim the job")
}

type stubFFmpeg struct {
	info *ffmpeg.BinaryInfo
	err  error
}

func (s stubFFmpeg) Detect(context.Context) (*ffmpeg.BinaryInfo, error) { return s.info, s.err }

type stubSnapshot map[string]ffmpeg.Encoder

func (s stubSnapshot) Snapshot() map[string]ffmpeg.Encoder { return s }

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.pending(t)
	f.completed(t, "x")

	_, api := humatest.New(t)
	NewHealthHandler("1.2.3", f.registry).
		WithFFmpeg(stubFFmpeg{info: &ffmpeg.BinaryInfo{FFmpegPath: "/usr/bin/ffmpeg", FFprobePath: "/usr/bin/ffprobe", Version: "7.1"}}).
		Register(api)

	resp := api.Get("/api/v1/health")
	require.Equal(t, http.StatusOK, resp.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, "ok", body.FFmpeg.Status)
	assert.Equal(t, "/usr/bin/ffmpeg", body.FFmpeg.FFmpegPath)
	assert.Equal(t, 2, body.Jobs.Total)
	assert.Equal(t, 1, body.Jobs.ByState[job.StateCompleted])
	assert.Positive(t, body.CPUInfo.Cores)
}

func TestHealth_DegradedWithoutFFmpeg(t *testing.T) {
	_, api := humatest.New(t)
	NewHealthHandler("dev", job.NewRegistry(quietLogger())).
		WithFFmpeg(stubFFmpeg{err: errors.New("ffmpeg not found")}).
		Register(api)

	resp := api.Get("/api/v1/health")
	require.Equal(t, http.StatusOK, resp.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "error", body.Checks["ffmpeg"])
	assert.Equal(t, "ffmpeg not found", body.FFmpeg.Error)
}

type fixedPending int

func (p fixedPending) Pending() int { return int(p) }

func TestJobStats(t *testing.T) {
	f := newFixture(t)
	f.pending(t)
	f.running(t)
	f.completed(t, "x")

	_, api := humatest.New(t)
	NewJobsHandler(f.registry, fixedPending(1)).Register(api)

	resp := api.Get("/api/v1/jobs/stats")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.NotContains(t, resp.Body.String(), "auth")

	var body JobStatsResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, 3, body.ByKind[job.KindConversion])
	assert.Equal(t, 2, body.ByState[job.StateProcessing])
	assert.Equal(t, 2, body.ByTo["webm"])
	assert.Equal(t, 1, body.PendingExpiry)
}

func TestSystemFFmpegInfo(t *testing.T) {
	_, api := humatest.New(t)
	NewSystemHandler(
		stubFFmpeg{info: &ffmpeg.BinaryInfo{Version: "7.1", MajorVersion: 7, MinorVersion: 1, Encoders: []string{"libx264", "h264_vaapi"}}},
		stubSnapshot{
			"hevc": {},
			"h264": {Name: "h264_vaapi", Accel: ffmpeg.HWAccelVAAPI, Device: "/dev/dri/renderD128"},
		},
	).Register(api)

	resp := api.Get("/api/v1/system/ffmpeg")
	require.Equal(t, http.StatusOK, resp.Code)

	var body FFmpegInfoResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.True(t, body.Available)
	assert.Equal(t, 7, body.MajorVersion)
	require.Len(t, body.Negotiated, 2)
	assert.Equal(t, "h264", body.Negotiated[0].Family)
	assert.Equal(t, "vaapi", body.Negotiated[0].Accel)
	assert.Equal(t, "hevc", body.Negotiated[1].Family)
	assert.Empty(t, body.Negotiated[1].Encoder)
}

func TestSystemFFmpegInfo_Unavailable(t *testing.T) {
	_, api := humatest.New(t)
	NewSystemHandler(stubFFmpeg{err: errors.New("not found")}, nil).Register(api)

	resp := api.Get("/api/v1/system/ffmpeg")
	require.Equal(t, http.StatusOK, resp.Code)

	var body FFmpegInfoResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.False(t, body.Available)
	assert.Empty(t, body.Version)
	assert.Nil(t, body.Negotiated)
}
