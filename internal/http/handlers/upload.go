// Package handlers provides the HTTP handlers for vertd's API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/jmylchreest/vertd/internal/http/response"
	"github.com/jmylchreest/vertd/internal/job"
	"github.com/jmylchreest/vertd/internal/metrics"
	"github.com/jmylchreest/vertd/internal/observability"
	"github.com/jmylchreest/vertd/internal/storage"
	"github.com/jmylchreest/vertd/internal/transcode"
	"github.com/jmylchreest/vertd/pkg/format"
)

const (
	// multipartMemory is how much of a multipart body is held in memory
	// before parts spill to temporary files.
	multipartMemory = 32 << 20
	// multipartOverhead allows for part headers and the metadata part on top
	// of the configured maximum file size.
	multipartOverhead = 1 << 20
)

// Upload errors returned to the client.
var (
	ErrNoFile           = errors.New("no file provided")
	ErrNoFilename       = errors.New("no filename provided")
	ErrNoExtension      = errors.New("missing file extension")
	ErrInvalidMetadata  = errors.New("invalid job metadata")
	ErrUploadTooLarge   = errors.New("upload exceeds the maximum size")
	ErrUnreadableMedia  = errors.New("could not read media file")
	ErrStoreUpload      = errors.New("internal server error while writing file")
	ErrInvalidExtension = errors.New("invalid file extension")
)

// uploadMetadata is the "json" part of an upload.
type uploadMetadata struct {
	JobType string `json:"jobType"`
}

// UploadHandler accepts media for a new job.
type UploadHandler struct {
	layout       *storage.Layout
	registry     *job.Registry
	prober       job.MediaProber
	maxSize      int64
	probeTimeout time.Duration
	logger       *slog.Logger
}

// NewUploadHandler creates an upload handler accepting files up to maxSize
// bytes.
func NewUploadHandler(layout *storage.Layout, registry *job.Registry, prober job.MediaProber, maxSize int64) *UploadHandler {
	return &UploadHandler{
		layout:       layout,
		registry:     registry,
		prober:       prober,
		maxSize:      maxSize,
		probeTimeout: 30 * time.Second,
		logger:       slog.Default(),
	}
}

// WithLogger sets the logger.
func (h *UploadHandler) WithLogger(logger *slog.Logger) *UploadHandler {
	h.logger = logger
	return h
}

// WithProbeTimeout bounds the frame count probe run on every upload.
func (h *UploadHandler) WithProbeTimeout(d time.Duration) *UploadHandler {
	h.probeTimeout = d
	return h
}

// ServeHTTP handles POST /api/upload. The body is multipart with a "file"
// part and a "json" part carrying {"jobType":"conversion"|"compression"}.
func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("%s (%s)", ErrUploadTooLarge, format.Bytes(h.maxSize)))
			return
		}
		response.Error(w, http.StatusBadRequest, "failed to read multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	kind, err := parseMetadata(r.MultipartForm)
	if err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		response.Error(w, http.StatusBadRequest, ErrNoFile.Error())
		return
	}
	header := files[0]
	if header.Size > h.maxSize {
		response.Error(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("%s (%s)", ErrUploadTooLarge, format.Bytes(h.maxSize)))
		return
	}

	ext, err := uploadFormat(kind, header.Filename)
	if err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	j, err := job.New(kind, h.layout, ext.String(), h.prober)
	if err != nil {
		logger.Error("failed to create job", slog.String("error", err.Error()))
		response.Error(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	id := j.ID().String()
	logger = observability.WithJob(logger, id)

	written, err := h.store(j, header)
	if err != nil {
		logger.Error("failed to store upload", slog.String("error", err.Error()))
		response.Error(w, http.StatusInternalServerError, ErrStoreUpload.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.probeTimeout)
	frames, err := j.Media().TotalFrames(ctx)
	cancel()
	if err != nil {
		logger.Warn("rejecting unreadable upload", slog.String("error", err.Error()))
		if rmErr := storage.RemoveFile(j.InputPath()); rmErr != nil {
			logger.Error("failed to remove rejected upload", slog.String("error", rmErr.Error()))
		}
		response.Error(w, http.StatusBadRequest, ErrUnreadableMedia.Error())
		return
	}

	if err := h.registry.Insert(j); err != nil {
		logger.Error("failed to register job", slog.String("error", err.Error()))
		_ = storage.RemoveFile(j.InputPath())
		response.Error(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	metrics.JobsCreatedTotal.WithLabelValues(string(kind)).Inc()
	metrics.UploadBytesTotal.Add(float64(written))
	metrics.RegisteredJobs.Set(float64(h.registry.Len()))

	logger.Info("uploaded job",
		slog.String("kind", string(kind)),
		slog.String("from", ext.String()),
		slog.String("size", format.Bytes(written)),
		slog.String("total_frames", format.Number(int64(frames))), //nolint:gosec // G115: frame counts fit int64
	)

	response.OK(w, j.Info())
}

func (h *UploadHandler) store(j job.Job, header *multipart.FileHeader) (int64, error) {
	f, err := header.Open()
	if err != nil {
		return 0, fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()
	return h.layout.SaveInput(j.ID().String(), j.From(), f)
}

func parseMetadata(form *multipart.Form) (job.Kind, error) {
	raw := form.Value["json"]
	if len(raw) == 0 {
		// Some clients send the metadata as a file part.
		if parts := form.File["json"]; len(parts) > 0 {
			f, err := parts[0].Open()
			if err != nil {
				return "", ErrInvalidMetadata
			}
			defer f.Close()
			var meta uploadMetadata
			if err := json.NewDecoder(f).Decode(&meta); err != nil {
				return "", ErrInvalidMetadata
			}
			return parseKind(meta.JobType)
		}
		return "", ErrInvalidMetadata
	}

	var meta uploadMetadata
	if err := json.Unmarshal([]byte(raw[0]), &meta); err != nil {
		return "", ErrInvalidMetadata
	}
	return parseKind(meta.JobType)
}

func parseKind(s string) (job.Kind, error) {
	kind, err := job.ParseKind(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	return kind, nil
}

// uploadFormat extracts the extension from filename, keeps only letters and
// digits, and checks it against the formats the job kind accepts.
func uploadFormat(kind job.Kind, filename string) (transcode.Format, error) {
	if filename == "" {
		return "", ErrNoFilename
	}
	dot := strings.LastIndexByte(filename, '.')
	if dot < 0 {
		return "", ErrNoExtension
	}
	ext := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, filename[dot+1:])
	if ext == "" {
		return "", ErrNoExtension
	}

	parse := transcode.ParseFormat
	if kind == job.KindCompression {
		parse = transcode.ParseCompressionFormat
	}
	f, err := parse(ext)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidExtension, ext)
	}
	return f, nil
}
