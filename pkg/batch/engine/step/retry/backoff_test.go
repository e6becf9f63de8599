package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinear_CapsAtMax(t *testing.T) {
	l := NewLinear(time.Second, 5*time.Second)
	assert.Equal(t, 2*time.Second, l.Delay(2))
	assert.Equal(t, 5*time.Second, l.Delay(10))
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := NewExponential(time.Second, time.Hour)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
	assert.Equal(t, 30*time.Second, NewExponential(time.Second, 30*time.Second).Delay(20))
}

func TestExponential_JitterStaysInRange(t *testing.T) {
	e := &Exponential{Initial: 100 * time.Millisecond, Max: time.Second, Jitter: true}
	for attempt := 1; attempt <= 8; attempt++ {
		d := e.Delay(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestNew(t *testing.T) {
	b, err := New("", 0, 0)
	require.NoError(t, err)
	assert.IsType(t, None{}, b)

	b, err = New("", time.Millisecond, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, b.Delay(3))

	b, err = New("Linear", time.Millisecond, 0)
	require.NoError(t, err)
	assert.IsType(t, &Linear{}, b)

	_, err = New("fibonacci", time.Millisecond, 0)
	assert.Error(t, err)
}

func TestWait_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Wait(ctx, NewConstant(time.Hour), 1)
	assert.ErrorIs(t, err, context.Canceled)

	assert.NoError(t, Wait(context.Background(), None{}, 1))
}
