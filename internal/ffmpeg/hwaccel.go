package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"slices"
	"strings"
	"time"
)

// HWAccelType represents a hardware acceleration backend.
type HWAccelType string

const (
	HWAccelNone         HWAccelType = "none"
	HWAccelNVENC        HWAccelType = "nvenc"        // NVIDIA
	HWAccelQSV          HWAccelType = "qsv"          // Intel Quick Sync
	HWAccelVAAPI        HWAccelType = "vaapi"        // VA-API (Linux)
	HWAccelVideoToolbox HWAccelType = "videotoolbox" // macOS
	HWAccelAMF          HWAccelType = "amf"          // AMD
)

// Codec families the negotiator knows how to accelerate.
const (
	FamilyH264  = "h264"
	FamilyAV1   = "av1"
	FamilyVP9   = "vp9"
	FamilyVP8   = "vp8"
	FamilyMPEG2 = "mpeg2"
	FamilyWMV2  = "wmv2"
	FamilyWMV3  = "wmv3"
)

// encoderCandidates lists accelerated encoders per codec family in priority
// order. Families with an empty list have no hardware encoder in ffmpeg.
var encoderCandidates = map[string][]string{
	FamilyH264:  {"h264_nvenc", "h264_qsv", "h264_vaapi", "h264_videotoolbox", "h264_amf"},
	FamilyAV1:   {"av1_nvenc", "av1_qsv", "av1_vaapi", "av1_amf"},
	FamilyVP9:   {"vp9_qsv", "vp9_vaapi"},
	FamilyVP8:   {"vp8_vaapi"},
	FamilyMPEG2: {"mpeg2_qsv", "mpeg2_vaapi"},
	FamilyWMV2:  {},
	FamilyWMV3:  {},
}

// DefaultVAAPIDevices are the render nodes tried when none is configured.
var DefaultVAAPIDevices = []string{"/dev/dri/renderD128", "/dev/dri/renderD129"}

// Candidates returns the accelerated encoders tried for family.
func Candidates(family string) []string {
	return slices.Clone(encoderCandidates[family])
}

// Families returns every known codec family in sorted order.
func Families() []string {
	families := make([]string, 0, len(encoderCandidates))
	for f := range encoderCandidates {
		families = append(families, f)
	}
	slices.Sort(families)
	return families
}

// AccelOf returns the acceleration backend an encoder belongs to.
func AccelOf(encoder string) HWAccelType {
	for _, t := range []HWAccelType{HWAccelNVENC, HWAccelQSV, HWAccelVAAPI, HWAccelVideoToolbox, HWAccelAMF} {
		if strings.HasSuffix(encoder, "_"+string(t)) {
			return t
		}
	}
	return HWAccelNone
}

// ErrEncoderUnavailable is returned by a probe when the encoder cannot run.
var ErrEncoderUnavailable = errors.New("encoder unavailable")

// EncoderProbe checks whether a single accelerated encoder works on this host.
// For VA-API encoders it returns the render device that succeeded.
type EncoderProbe interface {
	Probe(ctx context.Context, encoder string) (device string, err error)
}

// TestEncodeProbe probes an encoder with a tiny synthetic test encode.
type TestEncodeProbe struct {
	ffmpegPath   string
	vaapiDevices []string
	timeout      time.Duration
	run          func(ctx context.Context, name string, args ...string) error
}

// NewTestEncodeProbe creates a probe that runs the given ffmpeg binary.
func NewTestEncodeProbe(ffmpegPath string) *TestEncodeProbe {
	return &TestEncodeProbe{
		ffmpegPath:   ffmpegPath,
		vaapiDevices: DefaultVAAPIDevices,
		timeout:      10 * time.Second,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

// WithVAAPIDevices sets the render nodes tried for VA-API encoders, in order.
func (p *TestEncodeProbe) WithVAAPIDevices(devices ...string) *TestEncodeProbe {
	p.vaapiDevices = devices
	return p
}

// WithTimeout bounds each test encode.
func (p *TestEncodeProbe) WithTimeout(d time.Duration) *TestEncodeProbe {
	p.timeout = d
	return p
}

// Probe implements EncoderProbe.
func (p *TestEncodeProbe) Probe(ctx context.Context, encoder string) (string, error) {
	accel := AccelOf(encoder)

	switch accel {
	case HWAccelVAAPI:
		if runtime.GOOS != "linux" {
			return "", ErrEncoderUnavailable
		}
		for _, device := range p.vaapiDevices {
			if err := p.try(ctx, testEncodeArgs(encoder, device)); err == nil {
				return device, nil
			}
		}
		return "", ErrEncoderUnavailable
	case HWAccelVideoToolbox:
		if runtime.GOOS != "darwin" {
			return "", ErrEncoderUnavailable
		}
	}

	if err := p.try(ctx, testEncodeArgs(encoder, "")); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrEncoderUnavailable, encoder, err)
	}
	return "", nil
}

func (p *TestEncodeProbe) try(ctx context.Context, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.run(ctx, p.ffmpegPath, args...)
}

// testEncodeArgs builds a one-frame nullsrc encode for the encoder.
func testEncodeArgs(encoder, device string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}

	switch AccelOf(encoder) {
	case HWAccelNVENC:
		args = append(args, "-hwaccel", "cuda")
	case HWAccelQSV:
		args = append(args, "-init_hw_device", "qsv=hw")
	case HWAccelVAAPI:
		args = append(args, "-vaapi_device", device)
	}

	args = append(args, "-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1")

	switch AccelOf(encoder) {
	case HWAccelQSV:
		args = append(args, "-vf", "hwupload=extra_hw_frames=64,format=qsv")
	case HWAccelVAAPI:
		args = append(args, "-vf", "format=nv12,hwupload")
	}

	return append(args, "-c:v", encoder, "-frames:v", "1", "-f", "null", "-")
}

// VAAPIArgs returns the global options and upload filter a VA-API encoder
// needs for the given render device.
func VAAPIArgs(device string) (global []string, filter string) {
	return []string{"-init_hw_device", "vaapi=va:" + device, "-filter_hw_device", "va"}, "format=nv12,hwupload"
}
