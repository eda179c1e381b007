package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/meetrec/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Source = (*source)(nil)

// frameBuffer is the depth of the frame channel (about one second at 20 ms).
const frameBuffer = 50

// source is a blocking-read PortAudio input stream exposed as an [audio.Source].
type source struct {
	kind   audio.SourceKind
	label  string
	format audio.Format

	stream *portaudio.Stream
	buf    []int16
	frames chan audio.AudioFrame

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// open opens and starts a capture on dev. The requested format's channel
// count is capped to what the device supports; the sample rate falls back to
// the device default when the requested rate is zero.
func (h *Host) open(_ context.Context, kind audio.SourceKind, dev *portaudio.DeviceInfo, want audio.Format) (*source, error) {
	format := want
	if format.Channels <= 0 {
		format.Channels = 1
	}
	if format.Channels > dev.MaxInputChannels {
		format.Channels = dev.MaxInputChannels
	}
	if format.SampleRate <= 0 {
		format.SampleRate = int(dev.DefaultSampleRate)
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = format.Channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = h.framesPerBuffer

	buf := make([]int16, h.framesPerBuffer*format.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open %s %q: %w", kind, dev.Name, classify(err))
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start %s %q: %w", kind, dev.Name, classify(err))
	}

	s := &source{
		kind:    kind,
		label:   dev.Name,
		format:  format,
		stream:  stream,
		buf:     buf,
		frames:  make(chan audio.AudioFrame, frameBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.capture()

	slog.Info("portaudio: capture started",
		"kind", kind,
		"device", dev.Name,
		"format", format,
	)
	return s, nil
}

func (s *source) Kind() audio.SourceKind          { return s.kind }
func (s *source) Label() string                   { return s.label }
func (s *source) Format() audio.Format            { return s.format }
func (s *source) Frames() <-chan audio.AudioFrame { return s.frames }

// capture reads from the stream until Stop is called or the device fails.
func (s *source) capture() {
	defer close(s.stopped)
	defer close(s.frames)

	var ts time.Duration
	perRead := time.Duration(len(s.buf)/s.format.Channels) * time.Second / time.Duration(s.format.SampleRate)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			select {
			case <-s.done:
			default:
				slog.Warn("portaudio: capture read failed", "kind", s.kind, "device", s.label, "err", err)
			}
			return
		}

		frame := audio.AudioFrame{
			Data:       audio.Int16sToBytes(s.buf),
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  ts,
		}
		ts += perRead

		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

// Stop implements [audio.Source]. Aborting the stream unblocks a pending read.
func (s *source) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		var errs []error
		if err := s.stream.Abort(); err != nil && !errors.Is(err, portaudio.StreamIsStopped) {
			errs = append(errs, err)
		}
		<-s.stopped
		if err := s.stream.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, err)
		}
		if err := errors.Join(errs...); err != nil {
			s.stopErr = fmt.Errorf("portaudio: stop %s %q: %w", s.kind, s.label, err)
		}
		slog.Info("portaudio: capture stopped", "kind", s.kind, "device", s.label)
	})
	return s.stopErr
}
