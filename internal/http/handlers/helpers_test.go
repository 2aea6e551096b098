package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vertd/internal/compress"
	"github.com/jmylchreest/vertd/internal/ffmpeg"
	"github.com/jmylchreest/vertd/internal/job"
	"github.com/jmylchreest/vertd/internal/storage"
	"github.com/jmylchreest/vertd/internal/transcode"
)

type stubProber struct {
	err error
}

func (p stubProber) TotalFrames(context.Context, string) (uint64, error) { return 240, p.err }
func (p stubProber) FrameRate(context.Context, string) (uint32, error)   { return 24, p.err }
func (p stubProber) StreamBitrate(context.Context, string) (uint64, bool, error) {
	return 4_000_000, true, p.err
}
func (p stubProber) PixelFormat(context.Context, string) (string, error) { return "yuv420p", p.err }
func (p stubProber) Resolution(context.Context, string) (ffmpeg.Resolution, error) {
	return ffmpeg.Resolution{Width: 1280, Height: 720}, p.err
}

var errUnreadable = errors.New("moov atom not found")

// instantRunner finishes immediately without producing progress.
type instantRunner struct{}

func (instantRunner) Run(context.Context, []string) (<-chan ffmpeg.ProgressUpdate, error) {
	ch := make(chan ffmpeg.ProgressUpdate)
	close(ch)
	return ch, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	layout   *storage.Layout
	registry *job.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	return &fixture{layout: layout, registry: job.NewRegistry(quietLogger())}
}

// pending registers a conversion job that has not been started.
func (f *fixture) pending(t *testing.T) job.Job {
	t.Helper()
	j, err := job.New(job.KindConversion, f.layout, "mp4", stubProber{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(j.InputPath(), []byte("source"), 0o644))
	require.NoError(t, f.registry.Insert(j))
	return j
}

// running registers a conversion job whose target is webm but which has
// not finished.
func (f *fixture) running(t *testing.T) job.Job {
	t.Helper()
	j := f.pending(t)
	rt := &job.Runtime{
		Policy:     transcode.NewPolicy(nil).WithLogger(quietLogger()),
		Compressor: compress.NewController(instantRunner{}).WithLogger(quietLogger()),
		Runner:     instantRunner{},
	}
	ch, err := j.Start(context.Background(), rt, job.Params{To: transcode.FormatWebM, Speed: transcode.SpeedFast})
	require.NoError(t, err)
	for range ch {
	}
	f.registry.Replace(j)
	return j
}

// completed registers a finished job with output content on disk.
func (f *fixture) completed(t *testing.T, content string) job.Job {
	t.Helper()
	j := f.running(t)
	require.NoError(t, os.WriteFile(j.OutputPath(), []byte(content), 0o644))
	require.NoError(t, j.Finish(true))
	f.registry.Replace(j)
	return j
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (string, json.RawMessage) {
	t.Helper()
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Type, env.Data
}

func envelopeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	typ, data := decodeEnvelope(t, rec)
	require.Equal(t, "error", typ)
	var msg string
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}
