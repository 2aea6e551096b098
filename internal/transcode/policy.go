package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jmylchreest/vertd/internal/ffmpeg"
)

// ErrUnsupportedTarget is returned for formats that can be read but not
// written.
var ErrUnsupportedTarget = errors.New("unsupported target format")

// Thresholds applied to H.264 family targets.
const (
	minEncodeWidth = 160
	maxFrameRate4K = 120
	gifMaxFPS      = 24
)

const gifFilter = "fps=%d,scale=800:-1:flags=lanczos,split[s0][s1];[s0]palettegen=max_colors=64[p];[s1][p]paletteuse=dither=bayer"

// Source describes the probed input a plan is built for.
type Source struct {
	Width       int
	Height      int
	PixelFormat string
	FPS         uint32
	Bitrate     uint64
}

// HighBitDepth reports whether the pixel format carries 10 or 12 bits per
// component.
func (s Source) HighBitDepth() bool {
	for _, suffix := range []string{"10le", "10be", "12le", "12be"} {
		if strings.Contains(s.PixelFormat, suffix) {
			return true
		}
	}
	return false
}

// Is4K reports whether the source is at or above 3840x2160 on either axis.
func (s Source) Is4K() bool {
	return ffmpeg.Resolution{Width: s.Width, Height: s.Height}.Is4K()
}

// Negotiator picks an encoder for a list of codec families.
type Negotiator interface {
	Select(ctx context.Context, families []string, fallback string) ffmpeg.Encoder
}

// rule is one row of the per-format policy table.
type rule struct {
	container   []string // forced muxer, placed first
	families    []string // accelerated candidates, in priority order
	video       string   // software encoder used when no candidate is available
	audio       string
	extra       []string
	h264        bool
	gif         bool
	noBitrate   bool
	unsupported bool
}

var h264Rule = rule{
	families: []string{ffmpeg.FamilyH264},
	video:    "libx264",
	audio:    "aac",
	extra:    []string{"-strict", "experimental"},
	h264:     true,
}

var rules = map[Format]rule{
	FormatMP4:  h264Rule,
	FormatMKV:  h264Rule,
	FormatMOV:  h264Rule,
	FormatMTS:  h264Rule,
	FormatTS:   h264Rule,
	FormatM2TS: h264Rule,
	FormatFLV:  h264Rule,
	FormatF4V:  h264Rule,
	FormatM4V:  h264Rule,
	Format3GP:  h264Rule,
	Format3G2:  h264Rule,
	FormatH264: h264Rule,

	FormatGIF: {gif: true, noBitrate: true},

	FormatWMV: {
		families: []string{ffmpeg.FamilyWMV2, ffmpeg.FamilyWMV3},
		video:    "wmv2",
		audio:    "wmav2",
	},
	FormatWebM: {
		families: []string{ffmpeg.FamilyAV1, ffmpeg.FamilyVP9, ffmpeg.FamilyVP8},
		video:    "libvpx",
		audio:    "libvorbis",
	},
	FormatNUT: {video: "mpeg4", audio: "libmp3lame"},
	FormatAVI: {video: "mpeg4", audio: "libmp3lame"},
	FormatMPEG: {
		families: []string{ffmpeg.FamilyMPEG2},
		video:    "mpeg2video",
		audio:    "mp2",
	},
	FormatMPG: {
		families: []string{ffmpeg.FamilyMPEG2},
		video:    "mpeg2video",
		audio:    "mp2",
	},
	FormatVOB: {
		families: []string{ffmpeg.FamilyMPEG2},
		video:    "mpeg2video",
		audio:    "mp2",
	},
	FormatMXF: {
		families: []string{ffmpeg.FamilyMPEG2},
		video:    "mpeg2video",
		audio:    "pcm_s16le",
		extra:    []string{"-strict", "unofficial"},
	},
	FormatOGV:  {video: "libtheora", audio: "libvorbis"},
	FormatDIVX: {container: []string{"-f", "avi"}, video: "mpeg4", audio: "libmp3lame"},
	FormatSWF: {
		container: []string{"-f", "swf"},
		video:     "flv",
		audio:     "libmp3lame",
		extra:     []string{"-b:a", "192k"},
	},
	FormatASF: {video: "msmpeg4v3", audio: "wmav2"},
	FormatAMV: {
		video:     "amv",
		audio:     "adpcm_ima_amv",
		extra:     []string{"-ac", "1", "-ar", "22050", "-r", "25", "-block_size", "882", "-strict", "-1"},
		noBitrate: true,
	},

	FormatRM:   {unsupported: true},
	FormatRMVB: {unsupported: true},
}

// Plan is the full set of arguments for one conversion. GlobalArgs go before
// the input, OutputArgs after it.
type Plan struct {
	Encoder    ffmpeg.Encoder
	GlobalArgs []string
	OutputArgs []string
}

// Policy turns conversion requests into ffmpeg arguments.
type Policy struct {
	negotiator Negotiator
	logger     *slog.Logger
}

// NewPolicy creates a policy that asks negotiator for accelerated encoders.
func NewPolicy(negotiator Negotiator) *Policy {
	return &Policy{negotiator: negotiator, logger: slog.Default()}
}

// WithLogger sets the logger.
func (p *Policy) WithLogger(logger *slog.Logger) *Policy {
	p.logger = logger
	return p
}

// Args returns the output arguments for converting src to target.
func (p *Policy) Args(ctx context.Context, target Format, speed Speed, src Source) ([]string, error) {
	plan, err := p.Build(ctx, target, speed, src)
	if err != nil {
		return nil, err
	}
	return plan.OutputArgs, nil
}

// Build returns the plan for converting src to target. Format arguments come
// first, followed by the bitrate and encoder preset for speed.
func (p *Policy) Build(ctx context.Context, target Format, speed Speed, src Source) (Plan, error) {
	r, ok := rules[target]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownFormat, target)
	}
	if r.unsupported {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnsupportedTarget, target)
	}

	if r.gif {
		fps := src.FPS
		if fps == 0 || fps > gifMaxFPS {
			fps = gifMaxFPS
		}
		return Plan{
			Encoder:    ffmpeg.Encoder{Name: "gif", Accel: ffmpeg.HWAccelNone},
			OutputArgs: []string{"-filter_complex", fmt.Sprintf(gifFilter, fps)},
		}, nil
	}

	enc := ffmpeg.Encoder{Name: r.video, Accel: ffmpeg.HWAccelNone}
	if len(r.families) > 0 && p.negotiator != nil {
		enc = p.negotiator.Select(ctx, r.families, r.video)
	}

	plan := Plan{Encoder: enc}
	args := append([]string{}, r.container...)
	args = append(args, "-c:v", enc.Name)

	var filters []string
	if r.h264 {
		// The VA-API upload filter already converts to 8-bit nv12.
		if src.HighBitDepth() && enc.Accel != ffmpeg.HWAccelVAAPI {
			args = append(args, "-pix_fmt", "yuv420p")
		}
		if src.Is4K() {
			args = append(args, "-level:v", "5.2")
			if src.FPS > maxFrameRate4K {
				args = append(args, "-r", strconv.Itoa(maxFrameRate4K))
			}
		}
		if src.Width < minEncodeWidth {
			filters = append(filters, fmt.Sprintf("scale=%d:-1", minEncodeWidth))
		}
	}

	if enc.Accel == ffmpeg.HWAccelVAAPI {
		global, upload := ffmpeg.VAAPIArgs(enc.Device)
		plan.GlobalArgs = global
		filters = append(filters, upload)
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	args = append(args, "-c:a", r.audio)
	args = append(args, r.extra...)

	var bitrate uint64
	if !r.noBitrate {
		bitrate = src.Bitrate
		if bitrate == 0 {
			bitrate = ffmpeg.FallbackBitrate(ffmpeg.Resolution{Width: src.Width, Height: src.Height})
		}
	}
	args = append(args, speedArgs(enc.Name, speed, bitrate)...)

	plan.OutputArgs = args

	p.logger.DebugContext(ctx, "conversion plan built",
		slog.String("target", string(target)),
		slog.String("speed", string(speed)),
		slog.String("encoder", enc.Name),
		slog.Any("args", args),
	)
	return plan, nil
}
