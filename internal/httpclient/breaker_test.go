package httpclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker(t *testing.T) {
	t.Run("opens at threshold", func(t *testing.T) {
		cb := NewCircuitBreaker(3, time.Hour, 1)
		for range 2 {
			cb.RecordFailure()
			assert.True(t, cb.Allow())
		}
		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.State())
		assert.False(t, cb.Allow())
		assert.Equal(t, 3, cb.Failures())
	})

	t.Run("success resets the count", func(t *testing.T) {
		cb := NewCircuitBreaker(2, time.Hour, 1)
		cb.RecordFailure()
		cb.RecordSuccess()
		cb.RecordFailure()
		assert.Equal(t, CircuitClosed, cb.State())
		assert.Equal(t, 1, cb.Failures())
	})

	t.Run("half-open after timeout", func(t *testing.T) {
		cb := NewCircuitBreaker(1, 10*time.Millisecond, 1)
		cb.RecordFailure()
		assert.False(t, cb.Allow())

		time.Sleep(20 * time.Millisecond)
		assert.True(t, cb.Allow())
		assert.Equal(t, CircuitHalfOpen, cb.State())
		assert.False(t, cb.Allow(), "only one trial request")

		cb.RecordSuccess()
		assert.Equal(t, CircuitClosed, cb.State())
	})

	t.Run("failure while half-open reopens", func(t *testing.T) {
		cb := NewCircuitBreaker(1, 10*time.Millisecond, 1)
		cb.RecordFailure()
		time.Sleep(20 * time.Millisecond)
		assert.True(t, cb.Allow())
		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.State())
	})

	t.Run("zero threshold never trips", func(t *testing.T) {
		cb := NewCircuitBreaker(0, time.Hour, 1)
		for range 10 {
			cb.RecordFailure()
		}
		assert.True(t, cb.Allow())
	})
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}
