package job

import (
	"context"
	"sync"

	"github.com/jmylchreest/vertd/internal/ffmpeg"
	"github.com/jmylchreest/vertd/internal/transcode"
)

// MediaProber reads stream properties of a media file. ffmpeg.Prober
// implements it.
type MediaProber interface {
	TotalFrames(ctx context.Context, path string) (uint64, error)
	FrameRate(ctx context.Context, path string) (uint32, error)
	StreamBitrate(ctx context.Context, path string) (bitrate uint64, ok bool, err error)
	PixelFormat(ctx context.Context, path string) (string, error)
	Resolution(ctx context.Context, path string) (ffmpeg.Resolution, error)
}

// memo caches one probed value. Failed probes are not cached.
type memo[T any] struct {
	value T
	ok    bool
}

func (m *memo[T]) get(compute func() (T, error)) (T, error) {
	if m.ok {
		return m.value, nil
	}
	v, err := compute()
	if err != nil {
		return v, err
	}
	m.value, m.ok = v, true
	return v, nil
}

// Media probes a job's input once per property and remembers the answers.
type Media struct {
	prober MediaProber
	path   string

	mu          sync.Mutex
	totalFrames memo[uint64]
	fps         memo[uint32]
	bitrate     memo[uint64]
	pixelFormat memo[string]
	resolution  memo[ffmpeg.Resolution]
}

// NewMedia creates a memo for the file at path.
func NewMedia(prober MediaProber, path string) *Media {
	return &Media{prober: prober, path: path}
}

// TotalFrames returns the number of video frames in the input.
func (m *Media) TotalFrames(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalFrames.get(func() (uint64, error) { return m.prober.TotalFrames(ctx, m.path) })
}

// CachedTotalFrames returns the frame count if it has been probed.
func (m *Media) CachedTotalFrames() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalFrames.value, m.totalFrames.ok
}

// FPS returns the rounded frame rate.
func (m *Media) FPS(ctx context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps.get(func() (uint32, error) { return m.prober.FrameRate(ctx, m.path) })
}

// Resolution returns the video dimensions.
func (m *Media) Resolution(ctx context.Context) (ffmpeg.Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolution.get(func() (ffmpeg.Resolution, error) { return m.prober.Resolution(ctx, m.path) })
}

// PixelFormat returns the video pixel format.
func (m *Media) PixelFormat(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pixelFormat.get(func() (string, error) { return m.prober.PixelFormat(ctx, m.path) })
}

// Bitrate returns the stream bitrate, or the tiered fallback for the
// resolution when the container does not report one.
func (m *Media) Bitrate(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bitrate.get(func() (uint64, error) {
		rate, ok, err := m.prober.StreamBitrate(ctx, m.path)
		if err != nil {
			return 0, err
		}
		if ok {
			return rate, nil
		}
		res, err := m.resolution.get(func() (ffmpeg.Resolution, error) { return m.prober.Resolution(ctx, m.path) })
		if err != nil {
			return 0, err
		}
		return ffmpeg.FallbackBitrate(res), nil
	})
}

// Source gathers everything the conversion policy needs.
func (m *Media) Source(ctx context.Context) (transcode.Source, error) {
	res, err := m.Resolution(ctx)
	if err != nil {
		return transcode.Source{}, err
	}
	pixFmt, err := m.PixelFormat(ctx)
	if err != nil {
		return transcode.Source{}, err
	}
	fps, err := m.FPS(ctx)
	if err != nil {
		return transcode.Source{}, err
	}
	bitrate, err := m.Bitrate(ctx)
	if err != nil {
		return transcode.Source{}, err
	}
	return transcode.Source{
		Width:       res.Width,
		Height:      res.Height,
		PixelFormat: pixFmt,
		FPS:         fps,
		Bitrate:     bitrate,
	}, nil
}

func (m *Media) clone() *Media {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Media{
		prober:      m.prober,
		path:        m.path,
		totalFrames: m.totalFrames,
		fps:         m.fps,
		bitrate:     m.bitrate,
		pixelFormat: m.pixelFormat,
		resolution:  m.resolution,
	}
}
