// Package ffmpeg locates the ffmpeg toolchain, negotiates encoders, probes
// media and supervises encoder processes.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/jmylchreest/vertd/internal/util"
)

// Environment variables consulted when no path is configured.
const (
	FFmpegBinaryEnv  = "VERTD_FFMPEG_BINARY"
	FFprobeBinaryEnv = "VERTD_FFPROBE_BINARY"
)

// BinaryInfo describes the detected ffmpeg installation.
type BinaryInfo struct {
	FFmpegPath   string   `json:"ffmpeg_path"`
	FFprobePath  string   `json:"ffprobe_path"`
	Version      string   `json:"version"`
	MajorVersion int      `json:"major_version"`
	MinorVersion int      `json:"minor_version"`
	Encoders     []string `json:"encoders,omitempty"`
}

// HasEncoder returns true if ffmpeg lists the encoder.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// BinaryDetector resolves the ffmpeg and ffprobe binaries once and caches
// the result.
type BinaryDetector struct {
	ffmpegPath  string
	ffprobePath string

	mu   sync.Mutex
	info *BinaryInfo
}

// NewBinaryDetector creates a detector. Empty paths are auto-detected.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Detect locates both binaries and reads the ffmpeg version and encoders.
// Both binaries are required.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil {
		return d.info, nil
	}

	ffmpegPath, err := util.FindBinary("ffmpeg", d.ffmpegPath, FFmpegBinaryEnv)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	ffprobePath, err := util.FindBinary("ffprobe", d.ffprobePath, FFprobeBinaryEnv)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}

	info := &BinaryInfo{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}

	out, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info.Version, info.MajorVersion, info.MinorVersion = parseVersion(string(out))
	if info.Version == "" {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}

	if out, err := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner").Output(); err == nil {
		info.Encoders = parseEncoders(string(out))
	}

	d.info = info
	return info, nil
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// parseVersion reads "ffmpeg version 7.1 Copyright ..." style output.
func parseVersion(output string) (full string, major, minor int) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			return "", 0, 0
		}
		full = parts[2]
		if m := versionRegex.FindStringSubmatch(full); len(m) >= 3 {
			major, _ = strconv.Atoi(m[1])
			minor, _ = strconv.Atoi(m[2])
		}
		return full, major, minor
	}
	return "", 0, 0
}

// parseEncoders reads `ffmpeg -encoders` output, whose rows look like
// " V....D libx264   libx264 H.264 ...".
func parseEncoders(output string) []string {
	var encoders []string
	inList := false

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		if c := fields[0][0]; c != 'V' && c != 'A' && c != 'S' {
			continue
		}
		encoders = append(encoders, fields[1])
	}
	return encoders
}
