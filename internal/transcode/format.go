// Package transcode maps a target format, a speed preset and the probed
// properties of a source file to the ffmpeg arguments that produce it.
package transcode

import (
	"errors"
	"fmt"
	"strings"
)

// Format is a container or stream format, named by its file extension.
type Format string

// Supported formats.
const (
	FormatMP4   Format = "mp4"
	FormatWebM  Format = "webm"
	FormatGIF   Format = "gif"
	FormatAVI   Format = "avi"
	FormatMKV   Format = "mkv"
	FormatWMV   Format = "wmv"
	FormatMOV   Format = "mov"
	FormatMTS   Format = "mts"
	FormatTS    Format = "ts"
	FormatM2TS  Format = "m2ts"
	FormatMPEG  Format = "mpeg"
	FormatMPG   Format = "mpg"
	FormatFLV   Format = "flv"
	FormatF4V   Format = "f4v"
	FormatVOB   Format = "vob"
	FormatM4V   Format = "m4v"
	Format3GP   Format = "3gp"
	Format3G2   Format = "3g2"
	FormatMXF   Format = "mxf"
	FormatOGV   Format = "ogv"
	FormatRM    Format = "rm"   // input only
	FormatRMVB  Format = "rmvb" // input only
	FormatH264  Format = "h264"
	FormatDIVX  Format = "divx"
	FormatSWF   Format = "swf"
	FormatAMV   Format = "amv"
	FormatASF   Format = "asf"
	FormatNUT   Format = "nut"
)

// Formats lists every format accepted for conversion uploads, in a stable
// order.
var Formats = []Format{
	FormatMP4, FormatWebM, FormatGIF, FormatAVI, FormatMKV, FormatWMV, FormatMOV,
	FormatMTS, FormatTS, FormatM2TS, FormatMPEG, FormatMPG, FormatFLV, FormatF4V,
	FormatVOB, FormatM4V, Format3GP, Format3G2, FormatMXF, FormatOGV, FormatRM,
	FormatRMVB, FormatH264, FormatDIVX, FormatSWF, FormatAMV, FormatASF, FormatNUT,
}

// CompressionFormats lists the formats a compression job accepts.
var CompressionFormats = []Format{FormatMP4}

// ErrUnknownFormat is returned when an extension is not a supported format.
var ErrUnknownFormat = errors.New("unknown format")

// ParseFormat parses a file extension (with or without the leading dot,
// case insensitive).
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ParseCompressionFormat parses an extension accepted for compression jobs.
func ParseCompressionFormat(s string) (Format, error) {
	f, err := ParseFormat(s)
	if err != nil {
		return "", err
	}
	for _, known := range CompressionFormats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q cannot be compressed", ErrUnknownFormat, s)
}

// IsConvertible reports whether f can be produced as a conversion target.
// RealMedia can be read but not written.
func (f Format) IsConvertible() bool {
	r, ok := rules[f]
	return ok && !r.unsupported
}

// String returns the extension.
func (f Format) String() string {
	return string(f)
}
