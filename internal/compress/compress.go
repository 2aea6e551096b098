// Package compress runs two-pass encodes that aim an output at a size
// budget.
package compress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/jmylchreest/vertd/internal/ffmpeg"
	"github.com/jmylchreest/vertd/pkg/format"
)

// AudioReserveKB is taken out of every size budget for the audio track.
const AudioReserveKB = 128

// ErrSizeTooSmall is returned when a size budget does not exceed the audio
// reservation.
var ErrSizeTooSmall = errors.New("target size too small")

// Pass log suffixes written by the x264 family in two-pass mode.
var passLogSuffixes = []string{"-0.log", "-0.log.mbtree"}

// TargetBitrateKB returns the video bitrate, in kbit/s, for a size budget.
func TargetBitrateKB(sizeKB uint64) (uint64, error) {
	if sizeKB <= AudioReserveKB {
		return 0, fmt.Errorf("%w: %dkb must exceed the %dkb audio reservation", ErrSizeTooSmall, sizeKB, AudioReserveKB)
	}
	return sizeKB - AudioReserveKB, nil
}

// Params describes one compression.
type Params struct {
	Input       string
	Output      string
	PassLog     string // pass log prefix, without extension
	SizeKB      uint64
	TotalFrames uint64 // offset applied to second-pass frame counters
	Encoder     ffmpeg.Encoder
}

// Controller sequences the analysis and encode passes.
type Controller struct {
	runner ffmpeg.Runner
	logger *slog.Logger
}

// NewController creates a controller that starts passes through runner.
func NewController(runner ffmpeg.Runner) *Controller {
	return &Controller{runner: runner, logger: slog.Default()}
}

// WithLogger sets the logger.
func (c *Controller) WithLogger(logger *slog.Logger) *Controller {
	c.logger = logger
	return c
}

// Run starts pass one and returns a channel carrying the updates of both
// passes. First-pass frames are relayed as-is; second-pass frames are offset
// by p.TotalFrames so the counter keeps rising across the boundary. The
// channel is closed after pass two ends and the pass log has been removed.
func (c *Controller) Run(ctx context.Context, p Params) (<-chan ffmpeg.ProgressUpdate, error) {
	bitrate, err := TargetBitrateKB(p.SizeKB)
	if err != nil {
		return nil, err
	}

	first, err := c.runner.Run(ctx, FirstPassArgs(p, bitrate))
	if err != nil {
		return nil, fmt.Errorf("starting first pass: %w", err)
	}

	out := make(chan ffmpeg.ProgressUpdate, cap(first))
	go func() {
		defer close(out)
		defer c.removePassLog(ctx, p.PassLog)

		for u := range first {
			out <- u
		}

		c.logger.DebugContext(ctx, "first pass finished, starting second pass",
			slog.String("output", p.Output),
			slog.String("target_size", format.Kilobytes(p.SizeKB)),
			slog.Uint64("bitrate_kb", bitrate),
		)

		second, err := c.runner.Run(ctx, SecondPassArgs(p, bitrate))
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to start second pass", slog.String("error", err.Error()))
			out <- ffmpeg.Error(err.Error())
			return
		}
		for u := range second {
			out <- u.Offset(p.TotalFrames)
		}
	}()

	return out, nil
}

// FirstPassArgs builds the analysis pass: no audio, output discarded.
func FirstPassArgs(p Params, bitrateKB uint64) []string {
	b := baseCommand(p, bitrateKB, 1)
	return b.OutputArgs("-an").NullOutput().Build()
}

// SecondPassArgs builds the encode pass writing p.Output.
func SecondPassArgs(p Params, bitrateKB uint64) []string {
	b := baseCommand(p, bitrateKB, 2)
	return b.OutputArgs("-c:a", "aac", "-b:a", strconv.Itoa(AudioReserveKB)+"k").Output(p.Output).Build()
}

func baseCommand(p Params, bitrateKB uint64, pass int) *ffmpeg.CommandBuilder {
	b := ffmpeg.NewCommandBuilder().Overwrite().Progress()

	var filter string
	if p.Encoder.Accel == ffmpeg.HWAccelVAAPI {
		var global []string
		global, filter = ffmpeg.VAAPIArgs(p.Encoder.Device)
		b.GlobalArgs(global...)
	}

	b.Input(p.Input).OutputArgs(
		"-c:v", p.Encoder.Name,
		"-b:v", strconv.FormatUint(bitrateKB, 10)+"k",
		"-pass", strconv.Itoa(pass),
		"-passlogfile", p.PassLog,
	)
	if filter != "" {
		b.OutputArgs("-vf", filter)
	}
	return b
}

func (c *Controller) removePassLog(ctx context.Context, prefix string) {
	for _, suffix := range passLogSuffixes {
		path := prefix + suffix
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.WarnContext(ctx, "failed to remove pass log",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
}
