package ffmpeg

import (
	"context"
	"log/slog"
	"sync"
)

// Encoder is the outcome of negotiating a codec family.
type Encoder struct {
	Name   string      `json:"name"`
	Accel  HWAccelType `json:"accel"`
	Device string      `json:"device,omitempty"` // VA-API render node
}

// Accelerated reports whether the encoder uses a hardware backend.
func (e Encoder) Accelerated() bool {
	return e.Accel != HWAccelNone && e.Accel != ""
}

type negotiation struct {
	encoder Encoder
	ok      bool
}

// Negotiator resolves codec families to the first working accelerated encoder
// and remembers the answer, including "none", for the process lifetime.
// Concurrent first lookups of the same family may both probe; the first
// stored result wins.
type Negotiator struct {
	probe   EncoderProbe
	enabled bool
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]negotiation
}

// NewNegotiator creates a negotiator backed by probe.
func NewNegotiator(probe EncoderProbe) *Negotiator {
	return &Negotiator{
		probe:   probe,
		enabled: true,
		logger:  slog.Default(),
		cache:   make(map[string]negotiation),
	}
}

// WithLogger sets the logger.
func (n *Negotiator) WithLogger(logger *slog.Logger) *Negotiator {
	n.logger = logger
	return n
}

// WithEnabled turns hardware acceleration on or off. When disabled every
// lookup reports no accelerated encoder without probing.
func (n *Negotiator) WithEnabled(enabled bool) *Negotiator {
	n.enabled = enabled
	return n
}

// Resolve returns the accelerated encoder for family, if any.
func (n *Negotiator) Resolve(ctx context.Context, family string) (string, bool) {
	enc, ok := n.lookup(ctx, family)
	return enc.Name, ok
}

// Select returns the first accelerated encoder found across families, in
// order, or a software encoder named fallback.
func (n *Negotiator) Select(ctx context.Context, families []string, fallback string) Encoder {
	for _, family := range families {
		if enc, ok := n.lookup(ctx, family); ok {
			return enc
		}
	}
	return Encoder{Name: fallback, Accel: HWAccelNone}
}

// AcceleratedOr is Select returning only the encoder name.
func (n *Negotiator) AcceleratedOr(ctx context.Context, families []string, fallback string) string {
	return n.Select(ctx, families, fallback).Name
}

// Snapshot returns the negotiated encoder per family probed so far. Families
// with no accelerated encoder map to an empty Encoder.
func (n *Negotiator) Snapshot() map[string]Encoder {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make(map[string]Encoder, len(n.cache))
	for family, res := range n.cache {
		out[family] = res.encoder
	}
	return out
}

// Warm probes every known family so later lookups are served from cache.
func (n *Negotiator) Warm(ctx context.Context) map[string]Encoder {
	for _, family := range Families() {
		n.lookup(ctx, family)
	}
	return n.Snapshot()
}

func (n *Negotiator) lookup(ctx context.Context, family string) (Encoder, bool) {
	if !n.enabled {
		return Encoder{}, false
	}

	n.mu.RLock()
	res, cached := n.cache[family]
	n.mu.RUnlock()
	if cached {
		return res.encoder, res.ok
	}

	// A cancelled caller must not poison the cache with a negative result.
	res = n.negotiate(context.WithoutCancel(ctx), family)

	n.mu.Lock()
	if existing, raced := n.cache[family]; raced {
		res = existing
	} else {
		n.cache[family] = res
	}
	n.mu.Unlock()

	return res.encoder, res.ok
}

func (n *Negotiator) negotiate(ctx context.Context, family string) negotiation {
	for _, candidate := range Candidates(family) {
		device, err := n.probe.Probe(ctx, candidate)
		if err != nil {
			n.logger.DebugContext(ctx, "encoder probe failed",
				slog.String("family", family),
				slog.String("encoder", candidate),
				slog.String("error", err.Error()),
			)
			continue
		}

		enc := Encoder{Name: candidate, Accel: AccelOf(candidate), Device: device}
		n.logger.InfoContext(ctx, "accelerated encoder selected",
			slog.String("family", family),
			slog.String("encoder", candidate),
			slog.String("device", device),
		)
		return negotiation{encoder: enc, ok: true}
	}

	n.logger.DebugContext(ctx, "no accelerated encoder available", slog.String("family", family))
	return negotiation{}
}
