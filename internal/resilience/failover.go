package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend of a [Failover] failed or was
// rejected by its breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

type backend[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Failover tries interchangeable backends of type T in registration order.
// Each backend has its own [Breaker], so a backend that keeps failing is
// skipped without being called until its breaker probes again.
type Failover[T any] struct {
	cfg      BreakerConfig
	backends []backend[T]
}

// NewFailover creates a failover whose first choice is primary. cfg is the
// template for every backend's breaker; its Name is replaced by the backend
// name.
func NewFailover[T any](name string, primary T, cfg BreakerConfig) *Failover[T] {
	f := &Failover[T]{cfg: cfg}
	f.Add(name, primary)
	return f
}

// Add registers another backend after those already present. Add must not be
// called concurrently with [Failover.Do].
func (f *Failover[T]) Add(name string, value T) {
	cfg := f.cfg
	cfg.Name = name
	f.backends = append(f.backends, backend[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Breaker returns the breaker guarding the named backend, or nil.
func (f *Failover[T]) Breaker(name string) *Breaker {
	for i := range f.backends {
		if f.backends[i].name == name {
			return f.backends[i].breaker
		}
	}
	return nil
}

// Do calls fn with each backend until one succeeds. A cancelled ctx stops the
// search immediately.
func (f *Failover[T]) Do(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := DoResult(ctx, f, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// DoResult is [Failover.Do] for calls that return a value.
func DoResult[T, R any](ctx context.Context, f *Failover[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range f.backends {
		b := &f.backends[i]
		var out R
		err := b.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, b.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping backend with open circuit", "backend", b.name)
			continue
		}
		slog.Warn("resilience: backend failed, trying next", "backend", b.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
