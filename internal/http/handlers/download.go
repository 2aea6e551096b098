package handlers

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/vertd/internal/http/response"
	"github.com/jmylchreest/vertd/internal/job"
	"github.com/jmylchreest/vertd/internal/metrics"
	"github.com/jmylchreest/vertd/internal/models"
	"github.com/jmylchreest/vertd/internal/observability"
	"github.com/jmylchreest/vertd/internal/storage"
)

// ErrFilesystem is reported when an output exists but cannot be read.
var ErrFilesystem = errors.New("filesystem error")

// DownloadHandler streams finished outputs to their owners, and kept outputs
// to operators holding the admin password.
type DownloadHandler struct {
	layout        *storage.Layout
	registry      *job.Registry
	grace         time.Duration
	adminPassword string
	logger        *slog.Logger
}

// NewDownloadHandler creates a download handler. Fully transmitted outputs
// are removed grace after the transfer ends.
func NewDownloadHandler(layout *storage.Layout, registry *job.Registry, grace time.Duration) *DownloadHandler {
	return &DownloadHandler{
		layout:   layout,
		registry: registry,
		grace:    grace,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger.
func (h *DownloadHandler) WithLogger(logger *slog.Logger) *DownloadHandler {
	h.logger = logger
	return h
}

// WithAdminPassword enables the operator override. An empty password keeps
// it disabled.
func (h *DownloadHandler) WithAdminPassword(password string) *DownloadHandler {
	h.adminPassword = password
	return h
}

func (h *DownloadHandler) isAdmin(token string) bool {
	return h.adminPassword != "" &&
		subtle.ConstantTimeCompare([]byte(h.adminPassword), []byte(token)) == 1
}

// downloadStatus maps claim errors to HTTP status codes.
func downloadStatus(err error) int {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, job.ErrIncompleteHandshake), errors.Is(err, job.ErrJobNotReady):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ServeHTTP handles GET /api/download/{id}/{token}.
func (h *DownloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	token := chi.URLParam(r, "token")
	logger := observability.LoggerFromContext(r.Context())

	var (
		path    string
		guarded bool
	)
	if h.isAdmin(token) {
		p, err := h.permanentPath(id)
		if err != nil {
			logger.Warn("invalid admin download id", slog.String("id", id))
			metrics.DownloadsTotal.WithLabelValues("rejected").Inc()
			response.Error(w, http.StatusNotFound, job.ErrJobNotFound.Error())
			return
		}
		logger.Warn("admin download used", slog.String("id", id))
		path = p
	} else {
		j, err := h.registry.Claim(id, token)
		if err != nil {
			metrics.DownloadsTotal.WithLabelValues("rejected").Inc()
			response.Error(w, downloadStatus(err), err.Error())
			return
		}
		metrics.RegisteredJobs.Set(float64(h.registry.Len()))
		logger = observability.WithJob(logger, j.ID().String())
		path = j.OutputPath()
		guarded = true
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			response.Error(w, http.StatusNotFound, job.ErrJobNotFound.Error())
			return
		}
		logger.Error("failed to open output", slog.String("error", err.Error()))
		response.Error(w, http.StatusInternalServerError, fmt.Sprintf("%s: %s", ErrFilesystem, err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		logger.Error("failed to stat output", slog.String("error", err.Error()))
		response.Error(w, http.StatusInternalServerError, fmt.Sprintf("%s: %s", ErrFilesystem, err))
		return
	}
	size := info.Size()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	guard := storage.NewStreamGuard(path, size, h.grace).WithLogger(logger)
	sent, copyErr := io.Copy(guard.Writer(w), f)
	metrics.DownloadBytesTotal.Add(float64(sent))

	if copyErr != nil {
		logger.Info("download interrupted", slog.String("error", copyErr.Error()))
	}
	if !guarded {
		return
	}
	if guard.Finalize() {
		metrics.DownloadsTotal.WithLabelValues("complete").Inc()
	} else {
		metrics.DownloadsTotal.WithLabelValues("partial").Inc()
	}
}

// permanentPath resolves a kept output name. The part before the first dot
// must be a job identifier.
func (h *DownloadHandler) permanentPath(name string) (string, error) {
	base, _, _ := strings.Cut(name, ".")
	if _, err := models.ParseULID(base); err != nil {
		return "", err
	}
	return h.layout.PermanentPath(name)
}
