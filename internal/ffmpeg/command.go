package ffmpeg

import (
	"runtime"
	"strings"
)

// CommandBuilder assembles an ffmpeg argument list with a fluent API.
// The binary itself is not part of the result; the Supervisor supplies it.
type CommandBuilder struct {
	globalArgs []string
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
	progress   bool
}

// NewCommandBuilder creates a builder that hides the banner and logs errors only.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{logLevel: "error"}
}

// LogLevel sets the ffmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// Overwrite enables output file overwriting (-y).
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Progress requests machine-readable progress on stdout.
func (b *CommandBuilder) Progress() *CommandBuilder {
	b.progress = true
	return b
}

// GlobalArgs adds options that must precede the input, such as hardware
// device initialisation.
func (b *CommandBuilder) GlobalArgs(args ...string) *CommandBuilder {
	b.globalArgs = append(b.globalArgs, args...)
	return b
}

// InputArgs adds options applied to the input file.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Input sets the input path.
func (b *CommandBuilder) Input(path string) *CommandBuilder {
	b.input = path
	return b
}

// OutputArgs adds encoding options.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output path.
func (b *CommandBuilder) Output(path string) *CommandBuilder {
	b.output = path
	return b
}

// NullOutput discards encoded output, as used by analysis passes.
func (b *CommandBuilder) NullOutput() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-f", "null")
	b.output = NullDevice()
	return b
}

// Build returns the assembled argument list.
func (b *CommandBuilder) Build() []string {
	args := make([]string, 0, 16+len(b.globalArgs)+len(b.inputArgs)+len(b.outputArgs))

	if b.overwrite {
		args = append(args, "-y")
	}
	args = append(args, "-hide_banner")
	if b.logLevel != "" {
		args = append(args, "-loglevel", b.logLevel)
	}
	if b.progress {
		args = append(args, "-progress", "pipe:1", "-nostats")
	}
	args = append(args, b.globalArgs...)
	args = append(args, b.inputArgs...)
	if b.input != "" {
		args = append(args, "-i", b.input)
	}
	args = append(args, b.outputArgs...)
	if b.output != "" {
		args = append(args, b.output)
	}
	return args
}

// String renders the arguments for logging.
func (b *CommandBuilder) String() string {
	return "ffmpeg " + strings.Join(b.Build(), " ")
}

// NullDevice returns the platform's null sink path.
func NullDevice() string {
	if runtime.GOOS == "windows" {
		return "nul"
	}
	return "/dev/null"
}
