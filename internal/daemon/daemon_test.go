package daemon

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rivulet/internal/logging"
)

func TestParseIntervalValidUnits(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"1h", time.Hour},
		{"2d", 48 * time.Hour},
		{"1.5h", 90 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseInterval(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseIntervalInvalid(t *testing.T) {
	cases := []string{"", "abc", "0h", "-5m", "10x", "h"}
	for _, in := range cases {
		t.Run(in, func(t *testing.T) {
			_, err := ParseInterval(in)
			assert.Error(t, err)
		})
	}
}

func TestAcquireLockPreventsSecondInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rivulet.lock")

	lock1, ok, err := AcquireLock(path)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok2, err := AcquireLock(path)
	require.NoError(t, err)
	assert.False(t, ok2, "a second instance must not be able to acquire the same lock")

	require.NoError(t, lock1.Release())

	lock3, ok3, err := AcquireLock(path)
	require.NoError(t, err)
	assert.True(t, ok3, "releasing the lock allows a new instance to acquire it")
	require.NoError(t, lock3.Release())
}

func TestRunPerformsInitialUpdateThenTicks(t *testing.T) {
	var calls int32
	update := func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	err := Run(ctx, Config{Interval: 30 * time.Millisecond}, update, logging.New("error"))
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&calls)), 2, "expected the initial run plus at least one tick")
}

func TestRunSkipsInitialRunWhenConfigured(t *testing.T) {
	var calls int32
	update := func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_ = Run(ctx, Config{Interval: time.Hour, SkipInitialRun: true}, update, logging.New("error"))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestRunRejectsNonPositiveInterval(t *testing.T) {
	err := Run(context.Background(), Config{Interval: 0}, func(ctx context.Context) error { return nil }, logging.New("error"))
	assert.Error(t, err)
}
