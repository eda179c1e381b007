package portaudio

import (
	"errors"
	"testing"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/meetrec/pkg/audio"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"device in use", portaudio.DeviceUnavailable, audio.ErrDeviceBusy},
		{"invalid device", portaudio.InvalidDevice, audio.ErrDeviceUnavailable},
		{"bad channel count", portaudio.InvalidChannelCount, audio.ErrDeviceUnavailable},
		{"not initialised", portaudio.NotInitialized, audio.ErrEnvironmentUnsupported},
		{"no host api", portaudio.HostApiNotFound, audio.ErrEnvironmentUnsupported},
		{"host error", portaudio.UnanticipatedHostError{Text: "access denied"}, audio.ErrPermissionDenied},
		{"foreign error", errors.New("boom"), audio.ErrDeviceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classify(tc.err)
			if !errors.Is(got, tc.want) {
				t.Errorf("classify(%v) = %v, want wrapping %v", tc.err, got, tc.want)
			}
			if !errors.Is(got, tc.err) {
				t.Errorf("classify(%v) lost the original error", tc.err)
			}
		})
	}
}

func TestMatchLoopback(t *testing.T) {
	t.Parallel()

	devices := []*portaudio.DeviceInfo{
		{Name: "Built-in Output", MaxOutputChannels: 2},
		{Name: "Built-in Microphone", MaxInputChannels: 1},
		{Name: "Monitor of Built-in Audio Analog Stereo", MaxInputChannels: 2},
		{Name: "BlackHole 2ch", MaxInputChannels: 2},
	}

	t.Run("auto-detect", func(t *testing.T) {
		dev := matchLoopback(devices, "", defaultLoopbackHints)
		if dev == nil || dev.Name != "Monitor of Built-in Audio Analog Stereo" {
			t.Fatalf("matchLoopback = %v, want the monitor source", dev)
		}
	})

	t.Run("named", func(t *testing.T) {
		dev := matchLoopback(devices, "BlackHole 2ch", defaultLoopbackHints)
		if dev == nil || dev.Name != "BlackHole 2ch" {
			t.Fatalf("matchLoopback = %v, want BlackHole 2ch", dev)
		}
	})

	t.Run("output-only devices are skipped", func(t *testing.T) {
		dev := matchLoopback(devices[:2], "", []string{"output"})
		if dev != nil {
			t.Fatalf("matchLoopback = %v, want nil", dev)
		}
	})

	t.Run("none", func(t *testing.T) {
		if dev := matchLoopback(devices[:2], "", defaultLoopbackHints); dev != nil {
			t.Fatalf("matchLoopback = %v, want nil", dev)
		}
	})
}

func TestHost_SystemCaptureDisabled(t *testing.T) {
	t.Parallel()
	h := New()
	_, err := h.CaptureSystem(t.Context(), audio.CaptureRequest{Device: DisabledDevice})
	if !errors.Is(err, audio.ErrCaptureDeclined) {
		t.Fatalf("CaptureSystem(none) error = %v, want ErrCaptureDeclined", err)
	}
}
