// Package clock measures the elapsed recording time of a session.
//
// Elapsed time excludes paused intervals. On resume the start instant is
// redefined as now minus the elapsed time at pause, so there is no running
// pause total that could drift. While running, the clock samples itself at a
// fixed interval and reports each sample to an observer.
package clock

import (
	"sync"
	"time"
)

// DefaultSampleInterval is how often a running clock publishes its value.
const DefaultSampleInterval = 100 * time.Millisecond

type state int

const (
	stateIdle state = iota
	stateRunning
	statePaused
	stateStopped
)

// Option configures a [Clock].
type Option func(*Clock)

// WithNow replaces the time source. Tests use it to drive the clock manually.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSampleInterval sets the sampling period. Non-positive values are ignored.
func WithSampleInterval(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithOnSample registers the observer that receives every sample. It is
// called from the sampling goroutine and must not block.
func WithOnSample(fn func(elapsed time.Duration)) Option {
	return func(c *Clock) {
		c.onSample = fn
	}
}

// Clock is a pausable stopwatch. All methods are safe for concurrent use.
type Clock struct {
	now      func() time.Time
	interval time.Duration
	onSample func(time.Duration)

	mu             sync.Mutex
	state          state
	startedAt      time.Time
	elapsedAtPause time.Duration
	shown          time.Duration // highest value handed out so far

	ticker *sampler
}

// New creates an idle clock.
func New(opts ...Option) *Clock {
	c := &Clock{
		now:      time.Now,
		interval: DefaultSampleInterval,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start begins timing from zero. Starting a clock that is not idle is a no-op.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateIdle {
		return
	}
	c.startedAt = c.now()
	c.state = stateRunning
	c.startSamplingLocked()
}

// Pause freezes the elapsed time. Pausing a clock that is not running is a no-op.
func (c *Clock) Pause() {
	c.mu.Lock()
	if c.state != stateRunning {
		c.mu.Unlock()
		return
	}
	c.elapsedAtPause = c.now().Sub(c.startedAt)
	c.state = statePaused
	s := c.ticker
	c.ticker = nil
	c.mu.Unlock()

	s.stop()
}

// Resume continues timing after a pause. Resuming a clock that is not paused
// is a no-op.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != statePaused {
		return
	}
	c.startedAt = c.now().Add(-c.elapsedAtPause)
	c.state = stateRunning
	c.startSamplingLocked()
}

// Stop freezes the clock for good and returns the final elapsed time.
// Repeated calls return the same value.
func (c *Clock) Stop() time.Duration {
	c.mu.Lock()
	if c.state == stateRunning {
		c.elapsedAtPause = c.now().Sub(c.startedAt)
	}
	if c.state != stateIdle {
		c.state = stateStopped
	}
	s := c.ticker
	c.ticker = nil
	elapsed := c.elapsedLocked()
	c.mu.Unlock()

	s.stop()
	return elapsed
}

// Elapsed returns the elapsed time excluding pauses. The returned value
// never decreases between calls.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedLocked()
}

// ElapsedMs returns [Clock.Elapsed] in whole milliseconds.
func (c *Clock) ElapsedMs() int64 {
	return c.Elapsed().Milliseconds()
}

// Running reports whether the clock is currently counting.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateRunning
}

func (c *Clock) elapsedLocked() time.Duration {
	var d time.Duration
	switch c.state {
	case stateRunning:
		d = c.now().Sub(c.startedAt)
	case statePaused, stateStopped:
		d = c.elapsedAtPause
	}
	if d < c.shown {
		return c.shown
	}
	c.shown = d
	return d
}

func (c *Clock) startSamplingLocked() {
	if c.onSample == nil {
		return
	}
	c.ticker = newSampler(c.interval, func() {
		c.mu.Lock()
		if c.state != stateRunning {
			c.mu.Unlock()
			return
		}
		d := c.elapsedLocked()
		c.mu.Unlock()
		c.onSample(d)
	})
}

// sampler runs fn on every tick until stopped.
type sampler struct {
	done chan struct{}
	wg   sync.WaitGroup
}

func newSampler(interval time.Duration, fn func()) *sampler {
	s := &sampler{done: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-t.C:
				fn()
			}
		}
	}()
	return s
}

// stop ends sampling and waits for an in-progress sample to finish. Safe on
// a nil sampler.
func (s *sampler) stop() {
	if s == nil {
		return
	}
	close(s.done)
	s.wg.Wait()
}
