package clock_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/meetrec/internal/clock"
)

// fakeTime is a manually advanced time source.
type fakeTime struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeTime() *fakeTime {
	return &fakeTime{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeTime) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

func TestClock_ExcludesPausedTime(t *testing.T) {
	t.Parallel()

	ft := newFakeTime()
	c := clock.New(clock.WithNow(ft.Now))

	c.Start()
	ft.Advance(3 * time.Second)
	c.Pause()
	ft.Advance(2 * time.Second)
	if got := c.Elapsed(); got != 3*time.Second {
		t.Errorf("Elapsed() while paused = %v, want 3s", got)
	}
	c.Resume()
	ft.Advance(2 * time.Second)

	if got := c.Stop(); got != 5*time.Second {
		t.Errorf("Stop() = %v, want 5s", got)
	}
	ft.Advance(time.Minute)
	if got := c.ElapsedMs(); got != 5000 {
		t.Errorf("ElapsedMs() after stop = %d, want 5000", got)
	}
}

func TestClock_RepeatedPauseResume(t *testing.T) {
	t.Parallel()

	ft := newFakeTime()
	c := clock.New(clock.WithNow(ft.Now))
	c.Start()
	for range 10 {
		ft.Advance(100 * time.Millisecond)
		c.Pause()
		ft.Advance(time.Second)
		c.Resume()
	}
	if got := c.Elapsed(); got != time.Second {
		t.Errorf("Elapsed() = %v, want 1s", got)
	}
}

func TestClock_NeverDecreases(t *testing.T) {
	t.Parallel()

	ft := newFakeTime()
	c := clock.New(clock.WithNow(ft.Now))
	c.Start()
	ft.Advance(2 * time.Second)
	first := c.Elapsed()

	// Wall clock stepping backwards must not move the display backwards.
	ft.Set(ft.Now().Add(-time.Second))
	if got := c.Elapsed(); got < first {
		t.Errorf("Elapsed() = %v after %v, want non-decreasing", got, first)
	}
}

func TestClock_TransitionsFromWrongStateAreNoOps(t *testing.T) {
	t.Parallel()

	ft := newFakeTime()
	c := clock.New(clock.WithNow(ft.Now))

	c.Pause()
	c.Resume()
	if c.Running() {
		t.Fatal("idle clock running after Pause/Resume")
	}
	if got := c.Elapsed(); got != 0 {
		t.Errorf("idle Elapsed() = %v, want 0", got)
	}

	c.Start()
	ft.Advance(time.Second)
	c.Start() // ignored
	c.Resume()
	if got := c.Elapsed(); got != time.Second {
		t.Errorf("Elapsed() = %v, want 1s", got)
	}
	if got, again := c.Stop(), c.Stop(); got != again {
		t.Errorf("Stop() = %v then %v, want equal", got, again)
	}
}

func TestClock_SamplesOnlyWhileRunning(t *testing.T) {
	t.Parallel()

	var samples atomic.Int64
	c := clock.New(
		clock.WithSampleInterval(5*time.Millisecond),
		clock.WithOnSample(func(time.Duration) { samples.Add(1) }),
	)

	c.Start()
	deadline := time.Now().Add(2 * time.Second)
	for samples.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if samples.Load() < 3 {
		t.Fatalf("samples = %d, want >= 3", samples.Load())
	}

	c.Pause()
	paused := samples.Load()
	time.Sleep(30 * time.Millisecond)
	if got := samples.Load(); got != paused {
		t.Errorf("samples while paused grew from %d to %d", paused, got)
	}

	c.Resume()
	deadline = time.Now().Add(2 * time.Second)
	for samples.Load() == paused && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if samples.Load() == paused {
		t.Error("sampling did not restart after Resume")
	}

	c.Stop()
	stopped := samples.Load()
	time.Sleep(30 * time.Millisecond)
	if got := samples.Load(); got != stopped {
		t.Errorf("samples after stop grew from %d to %d", stopped, got)
	}
}

func TestClock_SampleValuesMonotonic(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []time.Duration
	)
	c := clock.New(
		clock.WithSampleInterval(2*time.Millisecond),
		clock.WithOnSample(func(d time.Duration) {
			mu.Lock()
			seen = append(seen, d)
			mu.Unlock()
		}),
	)
	c.Start()
	time.Sleep(20 * time.Millisecond)
	c.Pause()
	c.Resume()
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("sample %d = %v < previous %v", i, seen[i], seen[i-1])
		}
	}
}
