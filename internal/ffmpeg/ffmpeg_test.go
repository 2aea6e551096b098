package ffmpeg

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

// skipIfNoFFprobe skips the test if ffprobe is not installed.
func skipIfNoFFprobe(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}
	return path
}

func TestBinaryDetector_Detect(t *testing.T) {
	skipIfNoFFmpeg(t)
	skipIfNoFFprobe(t)

	detector := NewBinaryDetector("", "")
	info, err := detector.Detect(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, info.FFmpegPath)
	assert.NotEmpty(t, info.FFprobePath)
	assert.NotEmpty(t, info.Version)
	assert.True(t, info.HasEncoder("mpeg4") || len(info.Encoders) > 0)

	again, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.Same(t, info, again)
}

func TestBinaryDetector_MissingConfiguredPath(t *testing.T) {
	detector := NewBinaryDetector("/nonexistent/ffmpeg", "")
	_, err := detector.Detect(context.Background())
	assert.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		line  string
		full  string
		major int
		minor int
	}{
		{"ffmpeg version 7.1 Copyright (c) 2000-2024", "7.1", 7, 1},
		{"ffmpeg version n6.0-2-gabc Copyright", "n6.0-2-gabc", 6, 0},
		{"ffmpeg version N-112345-g0123 Copyright", "N-112345-g0123", 0, 0},
	}
	for _, tt := range tests {
		full, major, minor := parseVersion("garbage\n" + tt.line + "\nbuilt with gcc")
		assert.Equal(t, tt.full, full)
		assert.Equal(t, tt.major, major)
		assert.Equal(t, tt.minor, minor)
	}

	full, _, _ := parseVersion("not ffmpeg")
	assert.Empty(t, full)
}

func TestParseEncoders(t *testing.T) {
	output := strings.Join([]string{
		"Encoders:",
		" V..... = Video",
		" A..... = Audio",
		" ------",
		" V....D libx264              libx264 H.264 / AVC",
		" V....D h264_nvenc           NVIDIA NVENC H.264 encoder",
		" A....D aac                  AAC (Advanced Audio Coding)",
		"",
	}, "\n")

	assert.Equal(t, []string{"libx264", "h264_nvenc", "aac"}, parseEncoders(output))
}

func TestCommandBuilder(t *testing.T) {
	args := NewCommandBuilder().
		Overwrite().
		Progress().
		GlobalArgs("-init_hw_device", "vaapi=va:/dev/dri/renderD128").
		Input("input/abc.mkv").
		OutputArgs("-c:v", "libx264").
		Output("output/abc.mp4").
		Build()

	assert.Equal(t, "-y", args[0])
	assert.Contains(t, strings.Join(args, " "), "-progress pipe:1")
	assert.Contains(t, strings.Join(args, " "), "-loglevel error")

	initIdx := indexOf(args, "-init_hw_device")
	inputIdx := indexOf(args, "-i")
	codecIdx := indexOf(args, "-c:v")
	require.NotEqual(t, -1, initIdx)
	assert.Less(t, initIdx, inputIdx)
	assert.Less(t, inputIdx, codecIdx)
	assert.Equal(t, "output/abc.mp4", args[len(args)-1])
}

func TestCommandBuilder_NullOutput(t *testing.T) {
	args := NewCommandBuilder().Input("in.mp4").OutputArgs("-an").NullOutput().Build()

	assert.Equal(t, NullDevice(), args[len(args)-1])
	assert.Equal(t, "null", args[len(args)-2])
	assert.Equal(t, "-f", args[len(args)-3])
}

func indexOf(args []string, s string) int {
	for i, a := range args {
		if a == s {
			return i
		}
	}
	return -1
}
