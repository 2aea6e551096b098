package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultFrameRate is used when ffprobe reports no usable frame rate.
const DefaultFrameRate = 30

// ErrNoVideoStream is returned when the input has no video stream to probe.
var ErrNoVideoStream = errors.New("no video stream")

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String renders the resolution as WxH.
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Is4K reports whether the frame is at or above 3840x2160 on either axis.
func (r Resolution) Is4K() bool {
	return r.Width >= 3840 || r.Height >= 2160
}

// execOutput runs a binary and returns its stdout.
type execOutput func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Prober extracts media properties from the first video stream of a file
// using ffprobe.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
	logger      *slog.Logger
	run         execOutput
}

// NewProber creates a new prober for the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
		logger:      slog.Default(),
		run:         runCommand,
	}
}

// WithTimeout sets the per-invocation timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// WithLogger sets the logger.
func (p *Prober) WithLogger(logger *slog.Logger) *Prober {
	p.logger = logger
	return p
}

func (p *Prober) query(ctx context.Context, path string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	full := append([]string{"-v", "error", "-select_streams", "v:0"}, args...)
	full = append(full, path)

	out, err := p.run(ctx, p.ffprobePath, full...)
	if err != nil {
		return "", fmt.Errorf("running ffprobe: %w", err)
	}
	return string(out), nil
}

// Resolution returns the frame size of the first video stream.
func (p *Prober) Resolution(ctx context.Context, path string) (Resolution, error) {
	out, err := p.query(ctx, path, "-show_entries", "stream=width,height", "-of", "csv=s=x:p=0")
	if err != nil {
		return Resolution{}, err
	}
	return parseResolution(out)
}

// PixelFormat returns the pixel format of the first video stream.
func (p *Prober) PixelFormat(ctx context.Context, path string) (string, error) {
	out, err := p.query(ctx, path, "-show_entries", "stream=pix_fmt", "-of", "default=nokey=1:noprint_wrappers=1")
	if err != nil {
		return "", err
	}
	line := firstLine(out)
	if line == "" {
		return "", ErrNoVideoStream
	}
	return line, nil
}

// StreamBitrate returns the bitrate reported for the first video stream.
// ok is false when the container does not expose one.
func (p *Prober) StreamBitrate(ctx context.Context, path string) (bitrate uint64, ok bool, err error) {
	out, err := p.query(ctx, path, "-show_entries", "stream=bit_rate", "-of", "default=nokey=1:noprint_wrappers=1")
	if err != nil {
		return 0, false, err
	}
	n, perr := strconv.ParseUint(firstLine(out), 10, 64)
	if perr != nil || n == 0 {
		return 0, false, nil
	}
	return n, true, nil
}

// FrameRate returns the real frame rate rounded to whole frames per second.
// Unparseable output falls back to DefaultFrameRate with a warning.
func (p *Prober) FrameRate(ctx context.Context, path string) (uint32, error) {
	out, err := p.query(ctx, path, "-show_entries", "stream=r_frame_rate", "-of", "default=nokey=1:noprint_wrappers=1")
	if err != nil {
		return 0, err
	}
	raw := firstLine(out)
	fps, ok := ParseFrameRate(raw)
	if !ok {
		p.logger.WarnContext(ctx, "unusable frame rate from ffprobe, using default",
			slog.String("path", path),
			slog.String("raw", raw),
			slog.Int("default", DefaultFrameRate),
		)
	}
	return fps, nil
}

// TotalFrames counts the packets of the first video stream. When the count is
// unavailable it falls back to ceil(avg_frame_rate * duration).
func (p *Prober) TotalFrames(ctx context.Context, path string) (uint64, error) {
	out, err := p.query(ctx, path, "-count_packets", "-show_entries", "stream=nb_read_packets", "-of", "csv=p=0")
	if err == nil {
		if n, ok := parsePacketCount(out); ok {
			return n, nil
		}
	}

	out, err = p.query(ctx, path, "-show_entries", "stream=avg_frame_rate,duration:format=duration", "-of", "default=nokey=1:noprint_wrappers=1")
	if err != nil {
		return 0, err
	}
	return estimateFrames(out)
}

// ParseFrameRate parses ffprobe frame rates: "30", "29.97", "30000/1001" and
// the three-field "num/x/den" form, where the middle field is ignored.
// The result is rounded to the nearest integer. ok is false, and the result is
// DefaultFrameRate, when the text is empty or unusable.
func ParseFrameRate(s string) (fps uint32, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultFrameRate, false
	}

	parts := strings.Split(s, "/")
	var rate float64
	switch len(parts) {
	case 1:
		v, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return DefaultFrameRate, false
		}
		rate = v
	case 2, 3:
		num, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		den, err2 := strconv.ParseFloat(strings.TrimSpace(parts[len(parts)-1]), 64)
		if err1 != nil || err2 != nil || den == 0 {
			return DefaultFrameRate, false
		}
		rate = num / den
	default:
		return DefaultFrameRate, false
	}

	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return DefaultFrameRate, false
	}
	return uint32(math.Round(rate)), true
}

// FallbackBitrate returns a resolution-tiered bitrate in bits per second for
// sources that report none.
func FallbackBitrate(r Resolution) uint64 {
	switch {
	case r.Width >= 3840 || r.Height >= 2160:
		return 30_000_000
	case r.Width >= 2560 || r.Height >= 1440:
		return 14_000_000
	case r.Width >= 1920 || r.Height >= 1080:
		return 7_000_000
	case r.Width >= 1280 || r.Height >= 720:
		return 4_000_000
	default:
		return 1_500_000
	}
}

func parseResolution(out string) (Resolution, error) {
	line := firstLine(out)
	if line == "" {
		return Resolution{}, ErrNoVideoStream
	}

	w, h, ok := strings.Cut(line, "x")
	if !ok {
		return Resolution{}, fmt.Errorf("malformed resolution %q", line)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return Resolution{}, fmt.Errorf("malformed width in %q: %w", line, err)
	}
	// Some containers append a trailing separator.
	height, err := strconv.Atoi(strings.TrimRight(strings.TrimSpace(h), "x"))
	if err != nil {
		return Resolution{}, fmt.Errorf("malformed height in %q: %w", line, err)
	}
	return Resolution{Width: width, Height: height}, nil
}

func parsePacketCount(out string) (uint64, bool) {
	for _, line := range strings.Split(out, "\n") {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, line)
		if digits == "" {
			continue
		}
		if n, err := strconv.ParseUint(digits, 10, 64); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// estimateFrames reads avg_frame_rate and duration lines. The stream duration
// is preferred; the container duration follows it when the stream has none.
func estimateFrames(out string) (uint64, error) {
	var values []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			values = append(values, line)
		}
	}
	if len(values) < 2 {
		return 0, fmt.Errorf("missing frame rate or duration in ffprobe output")
	}

	num, den, ok := strings.Cut(values[0], "/")
	if !ok {
		den = "1"
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 || n == 0 {
		return 0, fmt.Errorf("invalid frame rate %q", values[0])
	}
	rate := n / d

	for _, v := range values[1:] {
		duration, err := strconv.ParseFloat(v, 64)
		if err != nil || duration <= 0 {
			continue
		}
		return uint64(math.Ceil(rate * duration)), nil
	}
	return 0, fmt.Errorf("invalid duration in ffprobe output")
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
