package job

import (
	"context"
	"fmt"

	"github.com/jmylchreest/vertd/internal/ffmpeg"
	"github.com/jmylchreest/vertd/internal/storage"
)

// Conversion re-encodes the input into a client chosen format.
type Conversion struct {
	base
}

// NewConversion creates a conversion job for an upload with extension from.
func NewConversion(layout *storage.Layout, from string, prober MediaProber) (*Conversion, error) {
	b, err := newBase(layout, from, prober)
	if err != nil {
		return nil, err
	}
	return &Conversion{base: b}, nil
}

func (c *Conversion) Kind() Kind { return KindConversion }

func (c *Conversion) Info() Info { return c.info(KindConversion) }

func (c *Conversion) Clone() Job {
	return &Conversion{base: c.base.clone()}
}

// Start probes the input, asks the policy for encoder arguments and runs a
// single ffmpeg pass writing output/{id}.{to}.
func (c *Conversion) Start(ctx context.Context, rt *Runtime, p Params) (<-chan ffmpeg.ProgressUpdate, error) {
	if c.to != "" {
		return nil, ErrAlreadyStarted
	}

	src, err := c.media.Source(ctx)
	if err != nil {
		return nil, fmt.Errorf("probing input: %w", err)
	}

	plan, err := rt.Policy.Build(ctx, p.To, p.Speed, src)
	if err != nil {
		return nil, invalid(err)
	}

	if err := c.setTarget(p.To.String()); err != nil {
		return nil, err
	}

	args := ffmpeg.NewCommandBuilder().
		Overwrite().
		Progress().
		GlobalArgs(plan.GlobalArgs...).
		Input(c.InputPath()).
		OutputArgs(plan.OutputArgs...).
		Output(c.OutputPath()).
		Build()

	updates, err := rt.Runner.Run(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("starting conversion: %w", err)
	}
	return updates, nil
}
