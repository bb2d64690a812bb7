package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
	n     int
	err   error
}

func (s *countingSweeper) SweepTemps(ctx context.Context, _ time.Duration) (int, error) {
	s.calls.Add(1)
	return s.n, s.err
}

func TestSweepTemps(t *testing.T) {
	result, err := SweepTemps(context.Background(), &countingSweeper{n: 3}, time.Hour, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Removed)
}

func TestSweepTemps_Error(t *testing.T) {
	boom := errors.New("boom")
	result, err := SweepTemps(context.Background(), &countingSweeper{n: 1, err: boom}, time.Hour, testLogger())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, result.Removed)
}

func TestJanitor_RunsUntilStopped(t *testing.T) {
	sweeper := &countingSweeper{}
	j := startJanitor(sweeper, 5*time.Millisecond, time.Hour, testLogger())
	require.NotNil(t, j)

	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, time.Second, time.Millisecond)
	j.Stop()

	stopped := sweeper.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, sweeper.calls.Load())
}

func TestJanitor_Disabled(t *testing.T) {
	j := startJanitor(&countingSweeper{}, 0, time.Hour, testLogger())
	assert.Nil(t, j)
	j.Stop()
}
