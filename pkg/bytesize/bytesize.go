// Package bytesize parses and formats human-readable byte sizes.
//
// Units are binary (1024) and case-insensitive: B, K/KB/KiB, M/MB/MiB,
// G/GB/GiB, T/TB/TiB. A bare number is a byte count.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Size is a byte count.
type Size int64

// Binary size units.
const (
	B  Size = 1
	KB Size = 1 << 10
	MB Size = 1 << 20
	GB Size = 1 << 30
	TB Size = 1 << 40
)

// Parse parses strings such as "8GB", "1.5 MiB" or "4096".
func Parse(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	split := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	})
	number, unit := s, ""
	if split >= 0 {
		number, unit = s[:split], strings.TrimSpace(s[split:])
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", number, err)
	}

	multiplier, err := unitMultiplier(unit)
	if err != nil {
		return 0, err
	}
	return Size(value * float64(multiplier)), nil
}

func unitMultiplier(unit string) (Size, error) {
	switch strings.ToLower(unit) {
	case "", "b", "byte", "bytes":
		return B, nil
	case "k", "kb", "kib":
		return KB, nil
	case "m", "mb", "mib":
		return MB, nil
	case "g", "gb", "gib":
		return GB, nil
	case "t", "tb", "tib":
		return TB, nil
	default:
		return 0, fmt.Errorf("bytesize: unknown unit %q", unit)
	}
}

// Format renders s using the largest unit that keeps the value >= 1.
func Format(s Size) string {
	sign := ""
	if s < 0 {
		sign, s = "-", -s
	}

	for _, u := range []struct {
		size Size
		name string
	}{{TB, "TB"}, {GB, "GB"}, {MB, "MB"}, {KB, "KB"}} {
		if s >= u.size {
			value := strconv.FormatFloat(float64(s)/float64(u.size), 'f', 2, 64)
			value = strings.TrimRight(strings.TrimRight(value, "0"), ".")
			return sign + value + u.name
		}
	}
	return fmt.Sprintf("%s%dB", sign, s)
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return Format(s)
}
