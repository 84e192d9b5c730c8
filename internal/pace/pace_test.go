package pace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClampsStartWindow(t *testing.T) {
	c := New(1, 10, 60)
	assert.Equal(t, 2, c.CurrentWindow())

	c = New(5, 10, 60)
	assert.Equal(t, 5, c.CurrentWindow())

	c = New(1, 1, 60)
	assert.Equal(t, 1, c.CurrentWindow())
}

func TestAcquireEnforcesMinInterval(t *testing.T) {
	c := New(1, 10, 600) // 100ms interval
	ctx := context.Background()

	require.NoError(t, c.Acquire(ctx))
	start := time.Now()
	require.NoError(t, c.Acquire(ctx))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	c := New(1, 10, 60) // 1s interval
	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx))

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.Acquire(cctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecordLatencyGrowsWindowWhenFast(t *testing.T) {
	c := New(1, 5, 60)
	for i := 0; i < 20; i++ {
		c.RecordLatency(100 * time.Millisecond)
	}
	assert.Equal(t, 5, c.CurrentWindow())
}

func TestRecordLatencyDoesNotGrowWhenSlow(t *testing.T) {
	c := New(1, 5, 60)
	start := c.CurrentWindow()
	for i := 0; i < 20; i++ {
		c.RecordLatency(10 * time.Second)
	}
	assert.Equal(t, start, c.CurrentWindow())
}

func TestRecordFailureShrinksWindowByOne(t *testing.T) {
	c := New(2, 5, 60)
	for i := 0; i < 20; i++ {
		c.RecordLatency(10 * time.Millisecond)
	}
	require.Equal(t, 5, c.CurrentWindow())

	c.RecordFailure()
	assert.Equal(t, 4, c.CurrentWindow())
}

func TestRecordFailureNeverGoesBelowFloor(t *testing.T) {
	c := New(2, 5, 60)
	c.RecordFailure()
	c.RecordFailure()
	c.RecordFailure()
	assert.Equal(t, 2, c.CurrentWindow())
}
