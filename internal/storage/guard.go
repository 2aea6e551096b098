package storage

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// StreamGuard tracks how many bytes of a file reached the client. Finalize
// must be called when the stream ends, whatever the reason: if the full file
// was sent it is deleted after the grace period, otherwise it is left for a
// retry.
type StreamGuard struct {
	path   string
	size   int64
	grace  time.Duration
	logger *slog.Logger

	sent      atomic.Int64
	finalized sync.Once
	complete  bool
	onRemoved func(path string)
}

// NewStreamGuard creates a guard for a file of the given size.
func NewStreamGuard(path string, size int64, grace time.Duration) *StreamGuard {
	return &StreamGuard{path: path, size: size, grace: grace, logger: slog.Default()}
}

// WithLogger sets the logger.
func (g *StreamGuard) WithLogger(logger *slog.Logger) *StreamGuard {
	g.logger = logger
	return g
}

// OnRemoved registers a callback run after the file has been deleted.
func (g *StreamGuard) OnRemoved(fn func(path string)) *StreamGuard {
	g.onRemoved = fn
	return g
}

// Writer wraps w so every successfully written byte is counted.
func (g *StreamGuard) Writer(w io.Writer) io.Writer {
	return &countingWriter{w: w, n: &g.sent}
}

// Sent returns the number of bytes written so far.
func (g *StreamGuard) Sent() int64 {
	return g.sent.Load()
}

// Finalize compares the bytes sent with the file size and, when equal,
// schedules deletion after the grace period. Only the first call has any
// effect; it reports whether the transfer was complete.
func (g *StreamGuard) Finalize() bool {
	g.finalized.Do(func() {
		sent := g.sent.Load()
		g.complete = sent == g.size
		if !g.complete {
			g.logger.Info("partial download, keeping file",
				slog.String("path", g.path),
				slog.Int64("sent", sent),
				slog.Int64("size", g.size),
			)
			return
		}

		g.logger.Info("all bytes sent, scheduling removal",
			slog.String("path", g.path),
			slog.Duration("grace", g.grace),
		)
		time.AfterFunc(g.grace, g.remove)
	})
	return g.complete
}

func (g *StreamGuard) remove() {
	if err := RemoveFile(g.path); err != nil {
		g.logger.Error("failed to remove downloaded file",
			slog.String("path", g.path),
			slog.String("error", err.Error()),
		)
		return
	}
	g.logger.Info("removed file after successful download", slog.String("path", g.path))
	if g.onRemoved != nil {
		g.onRemoved(g.path)
	}
}

type countingWriter struct {
	w io.Writer
	n *atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}
