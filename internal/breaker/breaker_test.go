package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartsClosedAndAllowsCalls(t *testing.T) {
	b := New(3, time.Minute)
	assert.True(t, b.CanCall())
	assert.Equal(t, StateClosed, b.CurrentState())
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	b := New(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.CurrentState())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.CurrentState())
	assert.False(t, b.CanCall())
}

func TestHalfOpenAfterCooldown(t *testing.T) {
	b := New(1, 20*time.Millisecond)
	b.RecordFailure()
	require := assert.New(t)
	require.Equal(StateOpen, b.CurrentState())
	require.False(b.CanCall())

	time.Sleep(30 * time.Millisecond)
	require.True(b.CanCall())
	require.Equal(StateHalfOpen, b.CurrentState())
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	b.CanCall()
	assert.Equal(t, StateHalfOpen, b.CurrentState())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.CurrentState())
}

func TestHalfOpenFailureReopensImmediately(t *testing.T) {
	b := New(5, 10*time.Millisecond)
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	time.Sleep(15 * time.Millisecond)
	b.CanCall()
	assert.Equal(t, StateHalfOpen, b.CurrentState())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.CurrentState())
}

func TestSuccessInClosedStateResetsFailureCount(t *testing.T) {
	b := New(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.CurrentState(), "failure count should have reset after success")
}
