package transcode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmylchreest/vertd/internal/ffmpeg"
)

// Speed trades encode time for compression efficiency.
type Speed string

// Speed presets, slowest first.
const (
	SpeedUltraSlow Speed = "ultraslow"
	SpeedSlower    Speed = "slower"
	SpeedSlow      Speed = "slow"
	SpeedMedium    Speed = "medium"
	SpeedFast      Speed = "fast"
	SpeedUltraFast Speed = "ultrafast"
)

// Speeds lists every preset, slowest first.
var Speeds = []Speed{SpeedUltraSlow, SpeedSlower, SpeedSlow, SpeedMedium, SpeedFast, SpeedUltraFast}

// ErrUnknownSpeed is returned for an unrecognised speed preset.
var ErrUnknownSpeed = errors.New("unknown speed")

// ParseSpeed parses a preset name, case insensitive.
func ParseSpeed(s string) (Speed, error) {
	sp := Speed(strings.ToLower(strings.TrimSpace(s)))
	if sp.index() < 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownSpeed, s)
	}
	return sp, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Speed) UnmarshalText(b []byte) error {
	sp, err := ParseSpeed(string(b))
	if err != nil {
		return err
	}
	*s = sp
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Speed) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

func (s Speed) index() int {
	for i, known := range Speeds {
		if s == known {
			return i
		}
	}
	return -1
}

// Encoder preset ladders, indexed like Speeds.
var (
	x264Presets   = [...]string{"veryslow", "slower", "slow", "medium", "fast", "ultrafast"}
	nvencPresets  = [...]string{"p7", "p6", "p5", "p4", "p3", "p1"}
	qsvPresets    = [...]string{"veryslow", "slower", "slow", "medium", "fast", "veryfast"}
	amfQuality    = [...]string{"quality", "quality", "balanced", "balanced", "speed", "speed"}
	vpxDeadline   = [...]string{"good", "good", "good", "good", "realtime", "realtime"}
	vpxCPUUsed    = [...]int{0, 1, 2, 3, 5, 8}
	aomCPUUsed    = [...]int{1, 2, 4, 5, 6, 8}
	svtav1Presets = [...]int{2, 4, 6, 8, 10, 12}
)

// speedArgs returns the bitrate and encoder preset options for encoder.
// A zero bitrate omits -b:v. Encoders without a preset ladder only get the
// bitrate.
func speedArgs(encoder string, speed Speed, bitrate uint64) []string {
	var args []string
	if bitrate > 0 {
		args = append(args, "-b:v", strconv.FormatUint(bitrate, 10))
	}

	i := speed.index()
	if i < 0 {
		i = SpeedMedium.index()
	}

	switch {
	case encoder == "libx264":
		args = append(args, "-preset", x264Presets[i])
	case encoder == "libvpx" || encoder == "libvpx-vp9":
		args = append(args, "-deadline", vpxDeadline[i], "-cpu-used", strconv.Itoa(vpxCPUUsed[i]))
	case encoder == "libaom-av1":
		args = append(args, "-cpu-used", strconv.Itoa(aomCPUUsed[i]))
	case encoder == "libsvtav1":
		args = append(args, "-preset", strconv.Itoa(svtav1Presets[i]))
	default:
		switch ffmpeg.AccelOf(encoder) {
		case ffmpeg.HWAccelNVENC:
			args = append(args, "-preset", nvencPresets[i])
		case ffmpeg.HWAccelQSV:
			args = append(args, "-preset", qsvPresets[i])
		case ffmpeg.HWAccelAMF:
			args = append(args, "-quality", amfQuality[i])
		}
	}
	return args
}
