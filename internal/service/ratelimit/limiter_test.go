package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestAllowSlidingWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(DefaultConfig(), WithClock(clock.Now))

	for i := 0; i < DefaultStartLimit; i++ {
		require.True(t, l.Allow(KindStart, "client-a"), "call %d should be allowed", i+1)
		clock.Advance(time.Second)
	}
	assert.False(t, l.Allow(KindStart, "client-a"), "6th call inside the window must be denied")
	assert.Equal(t, 0, l.Remaining(KindStart, "client-a"))

	// The first accept happened 5s ago; once it is a full window old it no longer counts.
	clock.Advance(DefaultWindow - 5*time.Second)
	assert.True(t, l.Allow(KindStart, "client-a"))
	assert.False(t, l.Allow(KindStart, "client-a"))
}

func TestDeniedCallsAreNotRecorded(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Window: time.Minute, Limits: map[Kind]int{KindSend: 2}}, WithClock(clock.Now))

	require.True(t, l.Allow(KindSend, "c"))
	require.True(t, l.Allow(KindSend, "c"))
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		require.False(t, l.Allow(KindSend, "c"))
	}

	// Only the two accepted timestamps count, so one window after them the bucket is clear.
	clock.Advance(time.Minute - 10*time.Second)
	assert.Equal(t, 2, l.Remaining(KindSend, "c"))
}

func TestBucketsAreIndependent(t *testing.T) {
	l := New(Config{Window: time.Minute, Limits: map[Kind]int{KindStart: 1, KindSend: 1}})

	assert.True(t, l.Allow(KindStart, "a"))
	assert.False(t, l.Allow(KindStart, "a"))
	assert.True(t, l.Allow(KindSend, "a"), "send quota is separate from start quota")
	assert.True(t, l.Allow(KindStart, "b"), "clients are tracked separately")
}

func TestDisabledKind(t *testing.T) {
	l := New(Config{Limits: map[Kind]int{KindStart: 0}})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow(KindStart, "x"))
		require.True(t, l.Allow(KindSend, "x"))
	}
	assert.Equal(t, -1, l.Remaining(KindSend, "x"))
	assert.Zero(t, l.Len())
}

func TestConcurrentAllowNeverExceedsLimit(t *testing.T) {
	const limit = 20
	l := New(Config{Window: time.Hour, Limits: map[Kind]int{KindSend: limit}})

	var allowed atomic.Int64
	var g errgroup.Group
	for i := 0; i < 200; i++ {
		g.Go(func() error {
			if l.Allow(KindSend, "shared") {
				allowed.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, limit, allowed.Load())
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	clock := newFakeClock()
	l := New(DefaultConfig(), WithClock(clock.Now))

	l.Allow(KindStart, "old")
	clock.Advance(30 * time.Second)
	l.Allow(KindSend, "fresh")
	require.Equal(t, 2, l.Len())

	clock.Advance(40 * time.Second)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())

	// A swept client starts over with a full quota.
	assert.Equal(t, DefaultStartLimit, l.Remaining(KindStart, "old"))
	assert.True(t, l.Allow(KindStart, "old"))
}

func TestSweepDuringAllowKeepsCounts(t *testing.T) {
	l := New(Config{Window: time.Hour, Limits: map[Kind]int{KindSend: 50}})

	ctx, cancel := context.WithCancel(context.Background())
	var g errgroup.Group
	g.Go(func() error {
		for ctx.Err() == nil {
			l.Sweep()
		}
		return nil
	})

	var allowed atomic.Int64
	var callers errgroup.Group
	for i := 0; i < 100; i++ {
		callers.Go(func() error {
			if l.Allow(KindSend, "c") {
				allowed.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, callers.Wait())
	cancel()
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 50, allowed.Load())
}

func TestRunStopsOnCancel(t *testing.T) {
	l := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, time.Millisecond) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
