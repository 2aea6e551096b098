package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected ByteSize
		wantErr  bool
	}{
		{"bytes", "1024", 1024, false},
		{"megabytes", "10MB", 10 * 1024 * 1024, false},
		{"gigabytes", "8GB", 8 * 1024 * 1024 * 1024, false},
		{"with space", "5 MB", 5 * 1024 * 1024, false},
		{"zero", "0", 0, false},
		{"invalid", "invalid", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, size)
		})
	}
}

func TestByteSize_UnmarshalJSON(t *testing.T) {
	var fromString ByteSize
	require.NoError(t, json.Unmarshal([]byte(`"5MB"`), &fromString))
	assert.Equal(t, ByteSize(5*1024*1024), fromString)

	var fromNumber ByteSize
	require.NoError(t, json.Unmarshal([]byte(`5242880`), &fromNumber))
	assert.Equal(t, ByteSize(5242880), fromNumber)

	var bad ByteSize
	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &bad))
}

func TestByteSize_MarshalText(t *testing.T) {
	text, err := ByteSize(8 * 1024 * 1024 * 1024).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "8GB", string(text))
}
