package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/jmylchreest/vertd/pkg/format"
)

// progressBuffer bounds the update channel. Encoders emit a progress block
// roughly twice a second, so this absorbs short consumer stalls.
const progressBuffer = 64

// maxLineBytes caps a single output line.
const maxLineBytes = 1 << 20

// Runner starts one encoder pass and streams its progress. The channel is
// closed once the pass has ended; there is no separate completion event.
type Runner interface {
	Run(ctx context.Context, args []string) (<-chan ProgressUpdate, error)
}

// RunResult describes a finished encoder pass.
type RunResult struct {
	Args     []string
	Err      error
	Stats    ProcessStats
	Duration time.Duration
}

// Supervisor spawns ffmpeg processes and converts their output into
// ProgressUpdate events.
type Supervisor struct {
	binary          string
	logger          *slog.Logger
	monitorInterval time.Duration
	onExit          func(RunResult)
}

// NewSupervisor creates a supervisor for the given ffmpeg binary.
func NewSupervisor(binary string) *Supervisor {
	return &Supervisor{
		binary:          binary,
		logger:          slog.Default(),
		monitorInterval: time.Second,
	}
}

// WithLogger sets the logger.
func (s *Supervisor) WithLogger(logger *slog.Logger) *Supervisor {
	s.logger = logger
	return s
}

// WithMonitorInterval sets how often process resources are sampled.
func (s *Supervisor) WithMonitorInterval(d time.Duration) *Supervisor {
	s.monitorInterval = d
	return s
}

// OnExit registers a callback invoked after each process has been reaped.
func (s *Supervisor) OnExit(fn func(RunResult)) *Supervisor {
	s.onExit = fn
	return s
}

// Binary returns the ffmpeg path in use.
func (s *Supervisor) Binary() string {
	return s.binary
}

// Run starts ffmpeg with args. Every `frame` and `fps` key on stdout becomes a
// Frame or FPS update and every stderr line becomes an Error update. Updates
// from one stream keep their read order. The returned channel is closed after
// both streams are drained and the process has exited.
func (s *Supervisor) Run(ctx context.Context, args []string) (<-chan ProgressUpdate, error) {
	cmd := exec.CommandContext(ctx, s.binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stderr pipe: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	monitor := NewProcessMonitor(cmd.Process.Pid, s.monitorInterval)
	monitor.Start()

	s.logger.DebugContext(ctx, "ffmpeg started",
		slog.Int("pid", cmd.Process.Pid),
		slog.Any("args", args),
	)

	updates := make(chan ProgressUpdate, progressBuffer)

	var producers sync.WaitGroup
	producers.Add(2)
	go func() {
		defer producers.Done()
		scanLines(stdout, func(line string) {
			for _, u := range parseProgressLine(line) {
				updates <- u
			}
		})
	}()
	go func() {
		defer producers.Done()
		scanLines(stderr, func(line string) {
			updates <- Error(line)
		})
	}()

	go func() {
		producers.Wait()
		waitErr := cmd.Wait()
		stats := monitor.Stop()

		result := RunResult{Args: args, Err: waitErr, Stats: stats, Duration: time.Since(started)}
		s.logExit(ctx, result)
		if s.onExit != nil {
			s.onExit(result)
		}
		close(updates)
	}()

	return updates, nil
}

func (s *Supervisor) logExit(ctx context.Context, r RunResult) {
	attrs := []any{
		slog.String("duration", format.Duration(r.Duration)),
		slog.String("peak_cpu", format.Percentage(r.Stats.PeakCPUPercent, 1)),
		slog.String("peak_rss", format.Bytes(int64(r.Stats.PeakRSSBytes))), //nolint:gosec // G115: RSS fits int64
	}
	if r.Err != nil {
		s.logger.WarnContext(ctx, "ffmpeg exited with error", append(attrs, slog.String("error", r.Err.Error()))...)
		return
	}
	s.logger.DebugContext(ctx, "ffmpeg exited", attrs...)
}

func scanLines(r io.Reader, emit func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		emit(scanner.Text())
	}
	// Drain whatever is left so the process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}
