package ffmpeg

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProgressKind identifies the variant held by a ProgressUpdate.
type ProgressKind string

// Progress update variants.
const (
	ProgressFrame ProgressKind = "frame"
	ProgressFPS   ProgressKind = "fps"
	ProgressError ProgressKind = "error"
)

// ProgressUpdate is a single event derived from encoder output. Exactly one
// of Frame, FPS or Message is meaningful, selected by Kind.
type ProgressUpdate struct {
	Kind    ProgressKind
	Frame   uint64
	FPS     float64
	Message string
}

// Frame returns a frame counter update.
func Frame(n uint64) ProgressUpdate {
	return ProgressUpdate{Kind: ProgressFrame, Frame: n}
}

// FPS returns an encoding rate update.
func FPS(f float64) ProgressUpdate {
	return ProgressUpdate{Kind: ProgressFPS, FPS: f}
}

// Error returns a diagnostic line update.
func Error(line string) ProgressUpdate {
	return ProgressUpdate{Kind: ProgressError, Message: line}
}

// IsError reports whether the update carries a diagnostic line.
func (u ProgressUpdate) IsError() bool {
	return u.Kind == ProgressError
}

// Offset returns a copy with frame counters shifted by n. Other variants are
// returned unchanged.
func (u ProgressUpdate) Offset(n uint64) ProgressUpdate {
	if u.Kind == ProgressFrame {
		u.Frame += n
	}
	return u
}

type progressWire struct {
	Type ProgressKind    `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes the update as {"type":"frame","data":N}.
func (u ProgressUpdate) MarshalJSON() ([]byte, error) {
	var data any
	switch u.Kind {
	case ProgressFrame:
		data = u.Frame
	case ProgressFPS:
		data = u.FPS
	case ProgressError:
		data = u.Message
	default:
		return nil, fmt.Errorf("unknown progress kind %q", u.Kind)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(progressWire{Type: u.Kind, Data: raw})
}

// UnmarshalJSON decodes the tagged representation produced by MarshalJSON.
func (u *ProgressUpdate) UnmarshalJSON(b []byte) error {
	var w progressWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	out := ProgressUpdate{Kind: w.Type}
	var err error
	switch w.Type {
	case ProgressFrame:
		err = json.Unmarshal(w.Data, &out.Frame)
	case ProgressFPS:
		err = json.Unmarshal(w.Data, &out.FPS)
	case ProgressError:
		err = json.Unmarshal(w.Data, &out.Message)
	default:
		return fmt.Errorf("unknown progress kind %q", w.Type)
	}
	if err != nil {
		return fmt.Errorf("decoding %s progress: %w", w.Type, err)
	}
	*u = out
	return nil
}

// parseProgressLine turns one `key=value` line from -progress output into
// zero or more updates.
func parseProgressLine(line string) []ProgressUpdate {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return nil
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	switch key {
	case "frame":
		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			return []ProgressUpdate{Frame(n)}
		}
	case "fps":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return []ProgressUpdate{FPS(f)}
		}
	}
	return nil
}
