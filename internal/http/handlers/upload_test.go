package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vertd/internal/job"
	"github.com/jmylchreest/vertd/internal/transcode"
)

func multipartUpload(t *testing.T, filename, content, metadata string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if metadata != "" {
		require.NoError(t, w.WriteField("json", metadata))
	}
	if filename != "-" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUpload_Conversion(t *testing.T) {
	f := newFixture(t)
	h := NewUploadHandler(f.layout, f.registry, stubProber{}, 1<<20).WithLogger(quietLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartUpload(t, "holiday clip.MP4", "frames", `{"jobType":"conversion"}`))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	typ, data := decodeEnvelope(t, rec)
	assert.Equal(t, "success", typ)

	var info job.Info
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, job.KindConversion, info.Type)
	assert.Equal(t, "mp4", info.From)
	assert.Len(t, string(info.Auth), 128)
	assert.Equal(t, uint64(240), info.TotalFrames)

	assert.Equal(t, 1, f.registry.Len())
	stored, err := os.ReadFile(f.layout.InputPath(info.ID.String(), "mp4"))
	require.NoError(t, err)
	assert.Equal(t, "frames", string(stored))
}

func TestUpload_MetadataAsFilePart(t *testing.T) {
	f := newFixture(t)
	h := NewUploadHandler(f.layout, f.registry, stubProber{}, 1<<20).WithLogger(quietLogger())

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	meta, err := w.CreateFormFile("json", "blob")
	require.NoError(t, err)
	_, _ = meta.Write([]byte(`{"jobType":"compression"}`))
	part, err := w.CreateFormFile("file", "clip.mp4")
	require.NoError(t, err)
	_, _ = part.Write([]byte("frames"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, data := decodeEnvelope(t, rec)
	var info job.Info
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, job.KindCompression, info.Type)
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		metadata string
		status   int
		message  string
	}{
		{"no file", "-", `{"jobType":"conversion"}`, http.StatusBadRequest, ErrNoFile.Error()},
		{"no extension", "clip", `{"jobType":"conversion"}`, http.StatusBadRequest, ErrNoExtension.Error()},
		{"unknown extension", "clip.xyz", `{"jobType":"conversion"}`, http.StatusBadRequest, "invalid file extension: xyz"},
		{"no metadata", "clip.mp4", "", http.StatusBadRequest, ErrInvalidMetadata.Error()},
		{"bad job type", "clip.mp4", `{"jobType":"upscale"}`, http.StatusBadRequest, ErrInvalidMetadata.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			h := NewUploadHandler(f.layout, f.registry, stubProber{}, 1<<20).WithLogger(quietLogger())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, multipartUpload(t, tt.filename, "frames", tt.metadata))

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, envelopeMessage(t, rec), tt.message)
			assert.Zero(t, f.registry.Len())
		})
	}
}

func TestUpload_UnreadableMedia(t *testing.T) {
	f := newFixture(t)
	h := NewUploadHandler(f.layout, f.registry, stubProber{err: errUnreadable}, 1<<20).WithLogger(quietLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartUpload(t, "clip.mp4", "garbage", `{"jobType":"conversion"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrUnreadableMedia.Error(), envelopeMessage(t, rec))
	assert.Zero(t, f.registry.Len())

	entries, err := os.ReadDir(f.layout.Dir("input"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpload_TooLarge(t *testing.T) {
	f := newFixture(t)
	h := NewUploadHandler(f.layout, f.registry, stubProber{}, 4).WithLogger(quietLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartUpload(t, "clip.mp4", "more than four bytes", `{"jobType":"conversion"}`))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, envelopeMessage(t, rec), ErrUploadTooLarge.Error())
	assert.Zero(t, f.registry.Len())
}

func TestUploadFormat(t *testing.T) {
	tests := []struct {
		kind     job.Kind
		filename string
		want     transcode.Format
		wantErr  error
	}{
		{job.KindConversion, "a.mkv", transcode.FormatMKV, nil},
		{job.KindConversion, "a.b.WebM", transcode.FormatWebM, nil},
		{job.KindConversion, "weird.m p4!", transcode.FormatMP4, nil},
		{job.KindConversion, "", "", ErrNoFilename},
		{job.KindConversion, "noext", "", ErrNoExtension},
		{job.KindConversion, "trailing.", "", ErrNoExtension},
		{job.KindConversion, "a.exe", "", ErrInvalidExtension},
		{job.KindCompression, "a.mkv", "", ErrInvalidExtension},
		{job.KindCompression, "a.mp4", transcode.FormatMP4, nil},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, err := uploadFormat(tt.kind, tt.filename)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
