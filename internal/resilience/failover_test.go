package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newStringFailover() *Failover[string] {
	f := NewFailover("primary", "primary", BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	f.Add("secondary", "secondary")
	return f
}

func TestFailover_PrimarySuccess(t *testing.T) {
	f := newStringFailover()

	var called []string
	err := f.Do(context.Background(), func(_ context.Context, v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(called) != 1 || called[0] != "primary" {
		t.Fatalf("called = %v, want [primary]", called)
	}
}

func TestFailover_FallsBack(t *testing.T) {
	f := newStringFailover()

	var called string
	err := f.Do(context.Background(), func(_ context.Context, v string) error {
		if v == "primary" {
			return errTest
		}
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if called != "secondary" {
		t.Fatalf("called = %q, want secondary", called)
	}
}

func TestFailover_AllFail(t *testing.T) {
	f := newStringFailover()

	err := f.Do(context.Background(), func(context.Context, string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want it to wrap the last failure", err)
	}
}

func TestFailover_SkipsOpenBackend(t *testing.T) {
	f := newStringFailover()
	ctx := context.Background()

	primaryCalls := 0
	fn := func(_ context.Context, v string) error {
		if v == "primary" {
			primaryCalls++
			return errTest
		}
		return nil
	}
	for i := 0; i < 2; i++ {
		_ = f.Do(ctx, fn)
	}
	if got := f.Breaker("primary").State(); got != StateOpen {
		t.Fatalf("primary breaker = %v, want open", got)
	}

	if err := f.Do(ctx, fn); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if primaryCalls != 2 {
		t.Errorf("primary calls = %d, want 2 (open breaker must skip it)", primaryCalls)
	}
	if f.Breaker("missing") != nil {
		t.Error("Breaker(missing) should be nil")
	}
}

func TestFailover_StopsOnCancel(t *testing.T) {
	f := newStringFailover()
	ctx, cancel := context.WithCancel(context.Background())

	var called []string
	err := f.Do(ctx, func(ctx context.Context, v string) error {
		called = append(called, v)
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(called) != 1 {
		t.Errorf("called = %v, want only the primary", called)
	}
}

func TestDoResult(t *testing.T) {
	f := NewFailover("ten", 10, BreakerConfig{MaxFailures: 3})
	f.Add("twenty", 20)

	got, err := DoResult(context.Background(), f, func(_ context.Context, v int) (int, error) {
		if v == 10 {
			return 0, errTest
		}
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("DoResult: %v", err)
	}
	if got != 40 {
		t.Errorf("result = %d, want 40", got)
	}
}
