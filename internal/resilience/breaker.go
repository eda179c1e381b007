// Package resilience provides the circuit breaker and store failover used for
// meetrec's optional dependencies.
//
// A [Breaker] is a three-state breaker (closed, open, half-open) that stops
// calling a dependency after repeated failures. A [Failover] puts a breaker in
// front of each of several interchangeable backends, so a failing primary
// (for example the Postgres history store) is bypassed in favour of the next
// one without blocking the caller.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker rejects
// calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successful probes close the breaker; any failure opens it again.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Default breaker settings.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// BreakerConfig holds the tuning knobs for a [Breaker]. Zero values select
// the defaults.
type BreakerConfig struct {
	// Name labels log messages.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probes allowed, and the number of
	// successes required, in the half-open state.
	HalfOpenMax int

	// OnStateChange is called with the breaker's lock held whenever the state
	// changes. It must not call back into the breaker.
	OnStateChange func(name string, from, to State)

	// Now replaces the time source. Intended for tests.
	Now func() time.Time
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
	probeOK  int
}

// NewBreaker creates a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Execute runs fn if the breaker admits the call. Cancellation of ctx is the
// caller's doing and is not counted as a failure of the dependency.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err == nil:
		b.succeeded(probe)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		if probe {
			// Return the probe slot unused.
			b.probes--
		}
	default:
		b.failed(probe)
	}
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		b.probes, b.probeOK = 0, 0
		b.setState(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) failed(probe bool) {
	b.failures++
	if probe || b.failures >= b.cfg.MaxFailures {
		b.openedAt = b.cfg.Now()
		if b.state != StateOpen {
			slog.Warn("resilience: circuit opened",
				"name", b.cfg.Name,
				"consecutive_failures", b.failures,
			)
			b.setState(StateOpen)
		}
	}
}

func (b *Breaker) succeeded(probe bool) {
	if !probe {
		b.failures = 0
		return
	}
	if b.state != StateHalfOpen {
		return
	}
	b.probeOK++
	if b.probeOK >= b.cfg.HalfOpenMax {
		b.failures = 0
		slog.Info("resilience: circuit closed", "name", b.cfg.Name)
		b.setState(StateClosed)
	}
}

func (b *Breaker) setState(next State) {
	prev := b.state
	b.state = next
	if b.cfg.OnStateChange != nil && prev != next {
		b.cfg.OnStateChange(b.cfg.Name, prev, next)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.probes, b.probeOK = 0, 0, 0
	b.setState(StateClosed)
}
