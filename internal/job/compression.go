package job

import (
	"context"
	"fmt"

	"github.com/jmylchreest/vertd/internal/compress"
	"github.com/jmylchreest/vertd/internal/ffmpeg"
	"github.com/jmylchreest/vertd/internal/storage"
	"github.com/jmylchreest/vertd/internal/transcode"
)

// Compression re-encodes the input as mp4 under a size budget.
type Compression struct {
	base
	targetSizeKB uint64
}

// NewCompression creates a compression job for an upload with extension from.
func NewCompression(layout *storage.Layout, from string, prober MediaProber) (*Compression, error) {
	b, err := newBase(layout, from, prober)
	if err != nil {
		return nil, err
	}
	return &Compression{base: b}, nil
}

func (c *Compression) Kind() Kind { return KindCompression }

// TargetSizeKB returns the size budget, zero until the job has started.
func (c *Compression) TargetSizeKB() uint64 { return c.targetSizeKB }

func (c *Compression) Info() Info {
	info := c.info(KindCompression)
	info.TargetSizeKB = c.targetSizeKB
	return info
}

func (c *Compression) Clone() Job {
	return &Compression{base: c.base.clone(), targetSizeKB: c.targetSizeKB}
}

// Start runs the two-pass controller towards p.SizeKB.
func (c *Compression) Start(ctx context.Context, rt *Runtime, p Params) (<-chan ffmpeg.ProgressUpdate, error) {
	if c.to != "" {
		return nil, ErrAlreadyStarted
	}
	if _, err := compress.TargetBitrateKB(p.SizeKB); err != nil {
		return nil, invalid(err)
	}

	frames, err := c.media.TotalFrames(ctx)
	if err != nil {
		return nil, fmt.Errorf("probing input: %w", err)
	}

	encoder := ffmpeg.Encoder{Name: "libx264", Accel: ffmpeg.HWAccelNone}
	if rt.Negotiator != nil {
		encoder = rt.Negotiator.Select(ctx, []string{ffmpeg.FamilyH264}, "libx264")
	}

	if err := c.setTarget(transcode.FormatMP4.String()); err != nil {
		return nil, err
	}
	c.targetSizeKB = p.SizeKB

	updates, err := rt.Compressor.Run(ctx, compress.Params{
		Input:       c.InputPath(),
		Output:      c.OutputPath(),
		PassLog:     c.layout.PassLogPrefix(c.id.String()),
		SizeKB:      p.SizeKB,
		TotalFrames: frames,
		Encoder:     encoder,
	})
	if err != nil {
		return nil, fmt.Errorf("starting compression: %w", err)
	}
	return updates, nil
}
