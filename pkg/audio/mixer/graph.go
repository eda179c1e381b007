// Package mixer combines capture sources into a single [audio.MixedStream].
//
// A [Graph] converts every input to one working format, scales each by its
// gain, and sums them sample by sample with saturation. The microphone drives
// the output clock: each microphone frame produces exactly one mixed frame,
// and whatever system audio has arrived in the meantime is folded into it.
package mixer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/meetrec/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.MixedStream = (*Graph)(nil)

const (
	// DefaultMicGain is the gain applied to the microphone input.
	DefaultMicGain = 1.5

	// DefaultSystemGain is the gain applied to the system-audio input.
	DefaultSystemGain = 1.2

	// MaxGain is the largest gain a [Graph] accepts.
	MaxGain = 4.0

	// DefaultBacklog caps buffered system audio that the microphone has not
	// consumed yet. Older samples are dropped first.
	DefaultBacklog = time.Second

	defaultOutputBuffer = 64
)

// DefaultFormat is the working format of the graph.
var DefaultFormat = audio.Format{SampleRate: 48000, Channels: 1}

// Option configures a [Graph] during construction.
type Option func(*Graph)

// WithMicGain sets the microphone gain. Values outside (0, [MaxGain]] are
// ignored.
func WithMicGain(g float64) Option {
	return func(m *Graph) {
		if g > 0 && g <= MaxGain {
			m.micGain = g
		}
	}
}

// WithSystemGain sets the system-audio gain. Values outside (0, [MaxGain]]
// are ignored.
func WithSystemGain(g float64) Option {
	return func(m *Graph) {
		if g > 0 && g <= MaxGain {
			m.systemGain = g
		}
	}
}

// WithFormat sets the working format every input is converted to.
func WithFormat(f audio.Format) Option {
	return func(m *Graph) {
		if f.SampleRate > 0 && f.Channels > 0 {
			m.format = f
		}
	}
}

// WithBacklog sets how much unconsumed system audio the graph keeps.
func WithBacklog(d time.Duration) Option {
	return func(m *Graph) {
		if d > 0 {
			m.backlog = d
		}
	}
}

// Graph is the mixing graph for one recording session.
//
// All exported methods are safe for concurrent use.
type Graph struct {
	micGain    float64
	systemGain float64
	format     audio.Format
	backlog    time.Duration

	mic    audio.Source
	system audio.Source

	mu      sync.Mutex
	pending []int16 // converted system samples waiting for the microphone

	out       chan audio.AudioFrame
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Build creates a graph fed by mic and, when non-nil, system. The graph starts
// pulling frames immediately; read the result from [Graph.Frames].
func Build(mic, system audio.Source, opts ...Option) (*Graph, error) {
	if mic == nil {
		return nil, errors.New("mixer: microphone source is required")
	}
	g := &Graph{
		micGain:    DefaultMicGain,
		systemGain: DefaultSystemGain,
		format:     DefaultFormat,
		backlog:    DefaultBacklog,
		mic:        mic,
		system:     system,
		out:        make(chan audio.AudioFrame, defaultOutputBuffer),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(g)
	}

	if system != nil {
		g.wg.Add(1)
		go g.collectSystem()
	}
	g.wg.Add(1)
	go g.mixMicrophone()

	slog.Debug("mixer: graph built",
		"format", g.format.String(),
		"inputs", g.Inputs(),
		"mic_gain", g.micGain,
		"system_gain", g.systemGain,
	)
	return g, nil
}

// Frames implements [audio.MixedStream].
func (g *Graph) Frames() <-chan audio.AudioFrame { return g.out }

// Format implements [audio.MixedStream].
func (g *Graph) Format() audio.Format { return g.format }

// Inputs implements [audio.MixedStream].
func (g *Graph) Inputs() int {
	if g.system != nil {
		return 2
	}
	return 1
}

// Close implements [audio.MixedStream]. Sources are stopped before the graph
// goroutines are torn down.
func (g *Graph) Close() error {
	g.closeOnce.Do(func() {
		var errs []error
		for _, src := range []audio.Source{g.mic, g.system} {
			if src == nil {
				continue
			}
			if err := src.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("mixer: stop %s: %w", src.Kind(), err))
			}
		}
		close(g.done)
		g.wg.Wait()
		g.closeErr = errors.Join(errs...)
	})
	return g.closeErr
}

// ── inputs ─────────────────────────────────────────────────────────────────

func (g *Graph) collectSystem() {
	defer g.wg.Done()

	conv := audio.Converter{Target: g.format, Label: "mixer system"}
	maxPending := g.format.SampleRate * g.format.Channels * int(g.backlog/time.Millisecond) / 1000

	for {
		select {
		case <-g.done:
			return
		case frame, ok := <-g.system.Frames():
			if !ok {
				return
			}
			frame = conv.Convert(frame)
			if len(frame.Data) == 0 {
				continue
			}
			samples := audio.BytesToInt16s(frame.Data)

			g.mu.Lock()
			g.pending = append(g.pending, samples...)
			if over := len(g.pending) - maxPending; maxPending > 0 && over > 0 {
				g.pending = append(g.pending[:0], g.pending[over:]...)
			}
			g.mu.Unlock()
		}
	}
}

func (g *Graph) mixMicrophone() {
	defer g.wg.Done()
	defer close(g.out)

	conv := audio.Converter{Target: g.format, Label: "mixer microphone"}

	for {
		select {
		case <-g.done:
			return
		case frame, ok := <-g.mic.Frames():
			if !ok {
				return
			}
			ts := frame.Timestamp
			frame = conv.Convert(frame)
			if len(frame.Data) == 0 {
				continue
			}
			mixed := g.mix(audio.BytesToInt16s(frame.Data))
			out := audio.AudioFrame{
				Data:       audio.Int16sToBytes(mixed),
				SampleRate: g.format.SampleRate,
				Channels:   g.format.Channels,
				Timestamp:  ts,
			}
			select {
			case g.out <- out:
			case <-g.done:
				return
			}
		}
	}
}

// mix scales the microphone samples in place and adds the oldest pending
// system samples to them.
func (g *Graph) mix(mic []int16) []int16 {
	g.mu.Lock()
	n := min(len(mic), len(g.pending))
	sys := g.pending[:n]
	for i := range mic {
		v := scale(mic[i], g.micGain)
		if i < n {
			v += scale(sys[i], g.systemGain)
		}
		mic[i] = audio.Clamp16(v)
	}
	g.pending = append(g.pending[:0], g.pending[n:]...)
	g.mu.Unlock()
	return mic
}

// scale applies a gain of at most MaxGain, so the product stays inside int32.
func scale(v int16, gain float64) int32 {
	return int32(float64(v) * gain)
}
