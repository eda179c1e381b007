package mixer_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/meetrec/pkg/audio"
	"github.com/MrWong99/meetrec/pkg/audio/mixer"
	"github.com/MrWong99/meetrec/pkg/audio/mock"
)

var mono48k = audio.Format{SampleRate: 48000, Channels: 1}

func constant(n int, v int16) []byte {
	s := make([]int16, n)
	for i := range s {
		s[i] = v
	}
	return audio.Int16sToBytes(s)
}

func recv(t *testing.T, g *mixer.Graph) audio.AudioFrame {
	t.Helper()
	select {
	case f, ok := <-g.Frames():
		if !ok {
			t.Fatal("frames channel closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mixed frame")
	}
	return audio.AudioFrame{}
}

func TestBuild_RequiresMicrophone(t *testing.T) {
	t.Parallel()
	if _, err := mixer.Build(nil, nil); err == nil {
		t.Fatal("Build(nil, nil) succeeded, want error")
	}
}

func TestGraph_MicrophoneOnly(t *testing.T) {
	t.Parallel()

	mic := mock.NewSource(audio.SourceMicrophone, mono48k, 4)
	g, err := mixer.Build(mic, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer g.Close()

	if g.Inputs() != 1 {
		t.Errorf("Inputs() = %d, want 1", g.Inputs())
	}
	mic.Push(constant(480, 1000))
	f := recv(t, g)
	got := audio.BytesToInt16s(f.Data)
	if len(got) != 480 {
		t.Fatalf("len = %d, want 480", len(got))
	}
	if got[0] != 1500 {
		t.Errorf("sample = %d, want 1500 (mic gain applied)", got[0])
	}
}

func TestGraph_MixesBothInputs(t *testing.T) {
	t.Parallel()

	mic := mock.NewSource(audio.SourceMicrophone, mono48k, 4)
	sys := mock.NewSource(audio.SourceSystem, mono48k, 4)
	g, err := mixer.Build(mic, sys, mixer.WithMicGain(1), mixer.WithSystemGain(2))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer g.Close()

	if g.Inputs() != 2 {
		t.Errorf("Inputs() = %d, want 2", g.Inputs())
	}

	sys.Push(constant(480, 100))

	// The system frame is folded into the first microphone frame that arrives
	// after it was buffered; earlier microphone frames carry only the mic.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mic.Push(constant(480, 10))
		got := audio.BytesToInt16s(recv(t, g).Data)
		switch got[0] {
		case 210:
			return
		case 10:
			time.Sleep(time.Millisecond)
		default:
			t.Fatalf("mixed sample = %d, want 210 or 10", got[0])
		}
	}
	t.Fatal("system audio never reached the mix")
}

func TestGraph_Saturates(t *testing.T) {
	t.Parallel()

	mic := mock.NewSource(audio.SourceMicrophone, mono48k, 4)
	g, err := mixer.Build(mic, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer g.Close()

	mic.Push(audio.Int16sToBytes([]int16{30000, -30000}))
	got := audio.BytesToInt16s(recv(t, g).Data)
	if got[0] != math.MaxInt16 || got[1] != math.MinInt16 {
		t.Errorf("samples = %v, want [%d %d]", got, math.MaxInt16, math.MinInt16)
	}
}

func TestGraph_SaturatesAtMaxGain(t *testing.T) {
	t.Parallel()

	mic := mock.NewSource(audio.SourceMicrophone, mono48k, 4)
	g, err := mixer.Build(mic, nil, mixer.WithMicGain(mixer.MaxGain))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer g.Close()

	mic.Push(audio.Int16sToBytes([]int16{math.MinInt16, math.MaxInt16, 100}))
	got := audio.BytesToInt16s(recv(t, g).Data)
	want := []int16{math.MinInt16, math.MaxInt16, 400}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestGraph_IgnoresOutOfRangeGain(t *testing.T) {
	t.Parallel()

	mic := mock.NewSource(audio.SourceMicrophone, mono48k, 4)
	g, err := mixer.Build(mic, nil, mixer.WithMicGain(mixer.MaxGain+1))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer g.Close()

	mic.Push(constant(4, 1000))
	if got := audio.BytesToInt16s(recv(t, g).Data)[0]; got != 1500 {
		t.Errorf("sample = %d, want 1500 (default mic gain)", got)
	}
}

func TestGraph_ConvertsInputFormat(t *testing.T) {
	t.Parallel()

	stereo16k := audio.Format{SampleRate: 16000, Channels: 2}
	mic := mock.NewSource(audio.SourceMicrophone, stereo16k, 4)
	g, err := mixer.Build(mic, nil, mixer.WithMicGain(1))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer g.Close()

	// 10ms of 16kHz stereo.
	mic.Push(constant(320, 500))
	f := recv(t, g)
	if f.Format() != mono48k {
		t.Errorf("format = %v, want %v", f.Format(), mono48k)
	}
	if n := f.Samples(); n != 480 {
		t.Errorf("samples = %d, want 480", n)
	}
}

func TestGraph_CloseStopsSourcesOnce(t *testing.T) {
	t.Parallel()

	stopErr := errors.New("device gone")
	mic := mock.NewSource(audio.SourceMicrophone, mono48k, 4)
	sys := mock.NewSource(audio.SourceSystem, mono48k, 4)
	sys.StopError = stopErr

	g, err := mixer.Build(mic, sys)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := g.Close(); !errors.Is(err, stopErr) {
		t.Fatalf("Close() = %v, want %v", err, stopErr)
	}
	if err := g.Close(); !errors.Is(err, stopErr) {
		t.Fatalf("second Close() = %v, want cached %v", err, stopErr)
	}
	if mic.StopCalls() != 1 || sys.StopCalls() != 1 {
		t.Errorf("stop calls mic=%d sys=%d, want 1 each", mic.StopCalls(), sys.StopCalls())
	}
	if _, ok := <-g.Frames(); ok {
		t.Error("frames channel still open after Close")
	}
}

func TestGraph_MicrophoneEndClosesOutput(t *testing.T) {
	t.Parallel()

	mic := mock.NewSource(audio.SourceMicrophone, mono48k, 4)
	g, err := mixer.Build(mic, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer g.Close()

	_ = mic.Stop()
	select {
	case _, ok := <-g.Frames():
		if ok {
			t.Fatal("received frame after microphone ended")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel not closed after microphone ended")
	}
}
