// Package format provides human-readable formatting utilities.
package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Bytes formats a byte count into human-readable format.
// Example: Bytes(1536) => "1.5 KB"
func Bytes(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}

	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	sizes := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), sizes[exp]) //nolint:gosec // G602: exp max is 4 (1024^6 > int64 max)
}

// Kilobytes formats a size given in KiB, as clients send compression targets.
func Kilobytes(kb uint64) string {
	return Bytes(int64(kb) * 1024) //nolint:gosec // G115: targets are far below 2^53
}

var printer = message.NewPrinter(language.English)

// Number formats a number with thousand separators.
// Example: Number(1234567) => "1,234,567"
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Percentage formats a percentage value.
// Example: Percentage(45.678, 1) => "45.7%"
func Percentage(value float64, decimals int) string {
	return fmt.Sprintf("%.*f%%", decimals, value)
}

// Duration rounds d for display: whole seconds above a minute, milliseconds
// below.
func Duration(d time.Duration) string {
	if d >= time.Minute {
		return d.Round(time.Second).String()
	}
	return d.Round(time.Millisecond).String()
}

// CronDescription returns a human-readable description of a 6-field cron
// expression (seconds minutes hours day-of-month month day-of-week). Only
// interval and daily schedules are described; anything else is returned
// unchanged.
// Example: CronDescription("0 */15 * * * *") => "Every 15 minutes"
func CronDescription(cronExpr string) string {
	if strings.HasPrefix(cronExpr, "@") {
		return describeDescriptor(cronExpr)
	}

	fields := strings.Fields(strings.TrimSpace(cronExpr))
	if len(fields) != 6 {
		return cronExpr
	}
	sec, minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5]
	if dom != "*" || month != "*" || dow != "*" {
		return cronExpr
	}

	switch {
	case strings.HasPrefix(sec, "*/") && minute == "*" && hour == "*":
		return every(sec[2:], "second")
	case sec == "0" && strings.HasPrefix(minute, "*/") && hour == "*":
		return every(minute[2:], "minute")
	case sec == "0" && minute == "*" && hour == "*":
		return "Every minute"
	case sec == "0" && minute == "0" && strings.HasPrefix(hour, "*/"):
		return every(hour[2:], "hour")
	case sec == "0" && minute == "0" && hour == "*":
		return "Every hour"
	case sec == "0" && isNumber(minute) && isNumber(hour):
		h, _ := strconv.Atoi(hour)
		m, _ := strconv.Atoi(minute)
		return fmt.Sprintf("Daily at %d:%02d", h, m)
	}
	return cronExpr
}

func describeDescriptor(d string) string {
	switch d {
	case "@hourly":
		return "Every hour"
	case "@daily", "@midnight":
		return "Daily at 0:00"
	}
	if rest, ok := strings.CutPrefix(d, "@every "); ok {
		if dur, err := time.ParseDuration(rest); err == nil {
			return "Every " + dur.String()
		}
	}
	return d
}

func every(n, unit string) string {
	if !isNumber(n) {
		return "Every " + n + " " + unit + "s"
	}
	if n == "1" {
		return "Every " + unit
	}
	return "Every " + n + " " + unit + "s"
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
