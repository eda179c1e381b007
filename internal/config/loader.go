package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/meetrec/pkg/audio/codec"
	"github.com/MrWong99/meetrec/pkg/audio/mixer"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 192000]", a.SampleRate))
	}
	if a.Channels != 1 && a.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", a.Channels))
	}
	if a.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d must not be negative", a.FramesPerBuffer))
	}
	if a.MicGain <= 0 || a.MicGain > mixer.MaxGain {
		errs = append(errs, fmt.Errorf("audio.mic_gain %.2f is out of range (0, %.0f]", a.MicGain, mixer.MaxGain))
	}
	if a.SystemGain <= 0 || a.SystemGain > mixer.MaxGain {
		errs = append(errs, fmt.Errorf("audio.system_gain %.2f is out of range (0, %.0f]", a.SystemGain, mixer.MaxGain))
	}

	// Recorder
	r := cfg.Recorder
	for i, mime := range r.Encodings {
		if !codec.Known(mime) {
			errs = append(errs, fmt.Errorf("recorder.encodings[%d] %q is not a supported encoding", i, mime))
		}
	}
	if r.Timeslice < 0 {
		errs = append(errs, fmt.Errorf("recorder.timeslice %s must not be negative", r.Timeslice))
	}
	if r.FlushGrace < 0 {
		errs = append(errs, fmt.Errorf("recorder.flush_grace %s must not be negative", r.FlushGrace))
	}
	if r.OpusBitrate != 0 && (r.OpusBitrate < 6000 || r.OpusBitrate > 510000) {
		errs = append(errs, fmt.Errorf("recorder.opus_bitrate %d is out of range [6000, 510000]", r.OpusBitrate))
	}

	// Clock
	if cfg.Clock.SampleInterval < 0 {
		errs = append(errs, fmt.Errorf("clock.sample_interval %s must not be negative", cfg.Clock.SampleInterval))
	}

	// Backend
	b := cfg.Backend
	if b.BaseURL == "" {
		slog.Warn("backend.base_url is empty; recordings can be made but not processed")
	} else if u, err := url.Parse(b.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.base_url %q must be an absolute URL", b.BaseURL))
	}
	if b.Timeout < 0 {
		errs = append(errs, fmt.Errorf("backend.timeout %s must not be negative", b.Timeout))
	}
	if (b.Username == "") != (b.Password == "") {
		errs = append(errs, errors.New("backend.username and backend.password must be set together"))
	}

	// History
	if cfg.History.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("history.max_entries %d must not be negative", cfg.History.MaxEntries))
	}
	if cfg.History.PostgresDSN == "" {
		slog.Debug("history.postgres_dsn is empty; session history is kept in memory")
	}

	return errors.Join(errs...)
}
