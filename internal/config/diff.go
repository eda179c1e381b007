package config

import (
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GainsChanged is set when either mixing gain changed. Applied to the
	// next session.
	GainsChanged bool
	MicGain      float64
	SystemGain   float64

	SampleIntervalChanged bool
	NewSampleInterval     time.Duration

	MarkdownChanged bool
	NewMarkdown     bool

	// RestartRequired lists sections that changed but are only read at startup.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.GainsChanged || d.SampleIntervalChanged || d.MarkdownChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Audio.MicGain != new.Audio.MicGain || old.Audio.SystemGain != new.Audio.SystemGain {
		d.GainsChanged = true
		d.MicGain = new.Audio.MicGain
		d.SystemGain = new.Audio.SystemGain
	}

	if old.Clock.SampleInterval != new.Clock.SampleInterval {
		d.SampleIntervalChanged = true
		d.NewSampleInterval = new.Clock.SampleInterval
	}

	if old.Backend.Markdown() != new.Backend.Markdown() {
		d.MarkdownChanged = true
		d.NewMarkdown = new.Backend.Markdown()
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameCapture(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !sameRecorder(old.Recorder, new.Recorder) {
		d.RestartRequired = append(d.RestartRequired, "recorder")
	}
	if old.Backend.BaseURL != new.Backend.BaseURL || old.Backend.Timeout != new.Backend.Timeout ||
		old.Backend.Username != new.Backend.Username || old.Backend.Password != new.Backend.Password {
		d.RestartRequired = append(d.RestartRequired, "backend")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

// sameCapture compares the audio fields that are not hot-reloadable.
func sameCapture(a, b AudioConfig) bool {
	a.MicGain, a.SystemGain = 0, 0
	b.MicGain, b.SystemGain = 0, 0
	return a == b
}

func sameRecorder(a, b RecorderConfig) bool {
	return a.Timeslice == b.Timeslice && a.FlushGrace == b.FlushGrace && a.OpusBitrate == b.OpusBitrate &&
		slices.Equal(a.Encodings, b.Encodings)
}
