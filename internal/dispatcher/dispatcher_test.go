package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doughall/cmdsched/internal/logging"
)

func newTestDispatcher(t *testing.T, opts Options) *Dispatcher {
	t.Helper()
	d := New(opts, logging.Discard())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return d
}

// recorder collects fire times.
type recorder struct {
	mu    sync.Mutex
	times []time.Time
}

func (r *recorder) record(context.Context) {
	r.mu.Lock()
	r.times = append(r.times, time.Now())
	r.mu.Unlock()
}

func (r *recorder) snapshot() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.times...)
}

func TestFixedRate_Next(t *testing.T) {
	first := time.Date(2030, 1, 1, 0, 1, 0, 0, time.UTC)
	s := fixedRate{first: first, period: time.Minute}

	assert.Equal(t, first, s.Next(first.Add(-time.Hour)))
	assert.Equal(t, first.Add(time.Minute), s.Next(first))
	assert.Equal(t, first.Add(time.Minute), s.Next(first.Add(59*time.Second)))
	assert.Equal(t, first.Add(2*time.Minute), s.Next(first.Add(time.Minute)))
	// Missed slots are not replayed.
	assert.Equal(t, first.Add(11*time.Minute), s.Next(first.Add(10*time.Minute+time.Second)))
}

func TestAfter_FiresOnceNoEarlierThanDelay(t *testing.T) {
	d := newTestDispatcher(t, Options{})
	rec := &recorder{}

	registered := time.Now()
	_, err := d.After("once", 150*time.Millisecond, rec.record)
	require.NoError(t, err)
	d.Start()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	times := rec.snapshot()
	require.Len(t, times, 1, "one-shot timer must fire exactly once")
	assert.GreaterOrEqual(t, times[0].Sub(registered), 150*time.Millisecond)
	assert.Empty(t, d.Timers(), "fired one-shot timers are discarded")
}

func TestAfter_RegisteredAfterStart(t *testing.T) {
	d := newTestDispatcher(t, Options{})
	d.Start()

	fired := make(chan struct{})
	_, err := d.After("late", 20*time.Millisecond, func(context.Context) { close(fired) })
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer registered after Start never fired")
	}
}

func TestEvery_FixedRate(t *testing.T) {
	d := newTestDispatcher(t, Options{})
	rec := &recorder{}

	registered := time.Now()
	_, err := d.Every("tick", 200*time.Millisecond, 200*time.Millisecond, rec.record)
	require.NoError(t, err)
	d.Start()

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 3 }, 3*time.Second, 10*time.Millisecond)

	times := rec.snapshot()
	assert.GreaterOrEqual(t, times[0].Sub(registered), 200*time.Millisecond, "first run waits one full interval")
	for i := 1; i < len(times); i++ {
		// cron wakes on the scheduled instant; allow a little scheduler jitter.
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), 150*time.Millisecond)
	}
}

func TestEvery_NoOverlapForSameTimer(t *testing.T) {
	d := newTestDispatcher(t, Options{})

	var active, maxActive, runs atomic.Int32
	_, err := d.Every("slow", 30*time.Millisecond, 30*time.Millisecond, func(context.Context) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(120 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
	})
	require.NoError(t, err)
	d.Start()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), maxActive.Load(), "invocations of one timer must never overlap")
}

func TestDistinctTimersRunConcurrently(t *testing.T) {
	d := newTestDispatcher(t, Options{PoolSize: 4})

	var wg sync.WaitGroup
	wg.Add(2)
	release := make(chan struct{})
	var started atomic.Int32
	block := func(context.Context) {
		started.Add(1)
		wg.Done()
		<-release
	}
	_, err := d.After("a", 0, block)
	require.NoError(t, err)
	_, err = d.After("b", 0, block)
	require.NoError(t, err)
	d.Start()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("two timers did not run concurrently")
	}
	assert.Equal(t, 2, d.Running())
	close(release)
}

func TestPoolSizeBound(t *testing.T) {
	d := newTestDispatcher(t, Options{PoolSize: 2})

	var active, maxActive, done atomic.Int32
	for i := 0; i < 6; i++ {
		_, err := d.After("job", 0, func(context.Context) {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			active.Add(-1)
			done.Add(1)
		})
		require.NoError(t, err)
	}
	d.Start()

	require.Eventually(t, func() bool { return done.Load() == 6 }, 3*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, maxActive.Load(), int32(2))
	assert.Equal(t, int64(6), d.Fired())
}

func TestPanicDoesNotStopTimers(t *testing.T) {
	d := newTestDispatcher(t, Options{})

	var panics, sibling atomic.Int32
	_, err := d.Every("panicky", 30*time.Millisecond, 30*time.Millisecond, func(context.Context) {
		panics.Add(1)
		panic("boom")
	})
	require.NoError(t, err)
	_, err = d.Every("sibling", 30*time.Millisecond, 30*time.Millisecond, func(context.Context) {
		sibling.Add(1)
	})
	require.NoError(t, err)
	_, err = d.After("once-panicky", 10*time.Millisecond, func(context.Context) { panic("once") })
	require.NoError(t, err)
	d.Start()

	require.Eventually(t, func() bool {
		return panics.Load() >= 3 && sibling.Load() >= 3
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, Accepting, d.State())
}

func TestShutdown_WaitsForInFlight(t *testing.T) {
	d := New(Options{GracePeriod: 3 * time.Second}, logging.Discard())

	started := make(chan struct{})
	var completed, fires atomic.Int32
	_, err := d.Every("sleeper", 20*time.Millisecond, 20*time.Millisecond, func(ctx context.Context) {
		if fires.Add(1) == 1 {
			close(started)
		}
		select {
		case <-time.After(300 * time.Millisecond):
			completed.Add(1)
		case <-ctx.Done():
		}
	})
	require.NoError(t, err)
	d.Start()
	<-started

	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, int32(1), completed.Load(), "in-flight run must complete within the grace period")
	assert.Equal(t, Terminated, d.State())

	firesAtShutdown := fires.Load()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, firesAtShutdown, fires.Load(), "no new firing may start after shutdown")
}

func TestShutdown_DropsFiringQueuedForSlot(t *testing.T) {
	d := newTestDispatcher(t, Options{PoolSize: 1, GracePeriod: 2 * time.Second})

	var blockerDone, queuedRan atomic.Bool
	_, err := d.After("blocker", 0, func(context.Context) {
		time.Sleep(300 * time.Millisecond)
		blockerDone.Store(true)
	})
	require.NoError(t, err)
	_, err = d.After("queued", 50*time.Millisecond, func(context.Context) {
		queuedRan.Store(true)
	})
	require.NoError(t, err)
	d.Start()

	// The queued timer has fired and is waiting for the only slot.
	time.Sleep(120 * time.Millisecond)
	require.Empty(t, d.Timers())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	assert.True(t, blockerDone.Load(), "in-flight callback finishes within the grace period")
	assert.False(t, queuedRan.Load(), "no callback may start after shutdown began")
	assert.Equal(t, int64(1), d.Fired())
}

func TestShutdown_ForceCancelsAfterGrace(t *testing.T) {
	d := New(Options{GracePeriod: 100 * time.Millisecond}, logging.Discard())

	started := make(chan struct{})
	var cancelled atomic.Bool
	_, err := d.After("stuck", 0, func(ctx context.Context) {
		close(started)
		select {
		case <-ctx.Done():
			cancelled.Store(true)
		case <-time.After(10 * time.Second):
		}
	})
	require.NoError(t, err)
	d.Start()
	<-started

	begin := time.Now()
	require.NoError(t, d.Shutdown(context.Background()))
	assert.True(t, cancelled.Load())
	assert.Less(t, time.Since(begin), 5*time.Second)
}

func TestShutdown_DeadlineWithStuckCallback(t *testing.T) {
	d := New(Options{GracePeriod: time.Minute}, logging.Discard())

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	_, err := d.After("ignores-ctx", 0, func(context.Context) {
		close(started)
		<-release
	})
	require.NoError(t, err)
	d.Start()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = d.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdown_CancelsPendingAndRefusesRegistration(t *testing.T) {
	d := New(Options{}, logging.Discard())

	var fired atomic.Bool
	_, err := d.After("future", 200*time.Millisecond, func(context.Context) { fired.Store(true) })
	require.NoError(t, err)
	_, err = d.Every("periodic", 200*time.Millisecond, 200*time.Millisecond, func(context.Context) { fired.Store(true) })
	require.NoError(t, err)
	d.Start()

	require.NoError(t, d.Shutdown(context.Background()))
	time.Sleep(350 * time.Millisecond)
	assert.False(t, fired.Load())

	_, err = d.After("x", time.Second, func(context.Context) {})
	assert.ErrorIs(t, err, ErrNotAccepting)
	_, err = d.Every("y", time.Second, time.Second, func(context.Context) {})
	assert.ErrorIs(t, err, ErrNotAccepting)

	// Second shutdown is a no-op.
	assert.NoError(t, d.Shutdown(context.Background()))
}

func TestInvalidDurations(t *testing.T) {
	d := newTestDispatcher(t, Options{})

	_, err := d.After("neg", -time.Second, func(context.Context) {})
	assert.ErrorIs(t, err, ErrInvalidDuration)
	_, err = d.Every("zero", time.Second, 0, func(context.Context) {})
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestTimers(t *testing.T) {
	d := newTestDispatcher(t, Options{})

	_, err := d.Every("every-minute", time.Minute, time.Minute, func(context.Context) {})
	require.NoError(t, err)
	_, err = d.After("soon", time.Second, func(context.Context) {})
	require.NoError(t, err)

	timers := d.Timers()
	require.Len(t, timers, 2)
	assert.Equal(t, "soon", timers[0].Name)
	assert.Equal(t, KindOneShot, timers[0].Kind)
	assert.Equal(t, "every-minute", timers[1].Name)
	assert.Equal(t, KindFixedRate, timers[1].Kind)
	assert.Equal(t, time.Minute, timers[1].Period)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "accepting", Accepting.String())
	assert.Equal(t, "draining", Draining.String())
	assert.Equal(t, "terminated", Terminated.String())
}
