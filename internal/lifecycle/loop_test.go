package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

func TestLoop_TicksOnInterval(t *testing.T) {
	clk := testclock.NewFakeClock(time.Now())
	var ticks atomic.Int32

	loop := NewLoop("test", 5*time.Second, clk, func(context.Context) { ticks.Add(1) })
	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop(context.Background())

	require.Eventually(t, clk.HasWaiters, time.Second, 5*time.Millisecond)

	clk.Step(5 * time.Second)
	require.Eventually(t, func() bool { return ticks.Load() == 1 }, time.Second, 5*time.Millisecond)

	clk.Step(5 * time.Second)
	require.Eventually(t, func() bool { return ticks.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestLoop_Kick(t *testing.T) {
	clk := testclock.NewFakeClock(time.Now())
	var ticks atomic.Int32

	loop := NewLoop("test", time.Hour, clk, func(context.Context) { ticks.Add(1) })
	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop(context.Background())

	loop.Kick()
	require.Eventually(t, func() bool { return ticks.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestLoop_StartStopIdempotent(t *testing.T) {
	loop := NewLoop("test", time.Hour, nil, func(context.Context) {})

	require.NoError(t, loop.Start(context.Background()))
	require.NoError(t, loop.Start(context.Background()))
	require.NoError(t, loop.Stop(context.Background()))
	assert.NoError(t, loop.Stop(context.Background()))
	assert.Equal(t, "test", loop.Name())
}
