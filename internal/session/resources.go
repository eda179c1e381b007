package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/meetrec/internal/clock"
	"github.com/MrWong99/meetrec/internal/negotiate"
	"github.com/MrWong99/meetrec/internal/recorder"
	"github.com/MrWong99/meetrec/pkg/audio/mixer"
)

// resources is everything a live session owns. release tears it down in
// reverse order of construction and runs at most once.
type resources struct {
	sources negotiate.Sources
	graph   *mixer.Graph
	rec     *recorder.Recorder
	clk     *clock.Clock

	once sync.Once
	err  error
}

// release stops the recorder, the clock, the graph and the capture devices.
// A recorder that was already stopped returns its cached result immediately.
func (r *resources) release() error {
	if r == nil {
		return nil
	}
	r.once.Do(func() {
		var errs []error
		if r.rec != nil {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			// An aborted recording has no artifact; its error is expected.
			_, _ = r.rec.Stop(ctx)
		}
		if r.clk != nil {
			r.clk.Stop()
		}
		if r.graph != nil {
			// Closing the graph stops the sources it was built from.
			if err := r.graph.Close(); err != nil {
				errs = append(errs, err)
			}
		} else if err := r.sources.Stop(); err != nil {
			errs = append(errs, err)
		}
		r.err = errors.Join(errs...)
	})
	return r.err
}

// elapsed reports the clock reading, or zero before the clock exists.
func (r *resources) elapsed() time.Duration {
	if r == nil || r.clk == nil {
		return 0
	}
	return r.clk.Elapsed()
}
