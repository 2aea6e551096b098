package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	assert.Equal(t, "0 B", Bytes(0))
	assert.Equal(t, "512 B", Bytes(512))
	assert.Equal(t, "1.5 KB", Bytes(1536))
	assert.Equal(t, "8.0 GB", Bytes(8<<30))
	assert.Equal(t, "10.0 MB", Kilobytes(10240))
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "1,234,567", Number(1234567))
	assert.Equal(t, "42", Number(42))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, "45.7%", Percentage(45.678, 1))
	assert.Equal(t, "100%", Percentage(100, 0))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "1.235s", Duration(1234567*time.Microsecond))
	assert.Equal(t, "2m5s", Duration(125400*time.Millisecond))
}

func TestCronDescription(t *testing.T) {
	tests := map[string]string{
		"0 */15 * * * *": "Every 15 minutes",
		"0 */1 * * * *":  "Every minute",
		"*/30 * * * * *": "Every 30 seconds",
		"0 * * * * *":    "Every minute",
		"0 0 */6 * * *":  "Every 6 hours",
		"0 0 * * * *":    "Every hour",
		"0 5 3 * * *":    "Daily at 3:05",
		"@hourly":        "Every hour",
		"@every 90s":     "Every 1m30s",
		"0 0 0 1 * *":    "0 0 0 1 * *",
		"garbage":        "garbage",
	}
	for expr, want := range tests {
		t.Run(expr, func(t *testing.T) {
			assert.Equal(t, want, CronDescription(expr))
		})
	}
}
