// Package app wires all meetrec subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control API until its context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithHost,
// WithHistoryStore, WithListener). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/meetrec/internal/api"
	"github.com/MrWong99/meetrec/internal/config"
	"github.com/MrWong99/meetrec/internal/health"
	"github.com/MrWong99/meetrec/internal/history"
	"github.com/MrWong99/meetrec/internal/history/postgres"
	"github.com/MrWong99/meetrec/internal/negotiate"
	"github.com/MrWong99/meetrec/internal/observe"
	"github.com/MrWong99/meetrec/internal/pipeline"
	"github.com/MrWong99/meetrec/internal/resilience"
	"github.com/MrWong99/meetrec/internal/session"
	"github.com/MrWong99/meetrec/internal/web"
	"github.com/MrWong99/meetrec/pkg/audio"
	"github.com/MrWong99/meetrec/pkg/audio/codec"
	"github.com/MrWong99/meetrec/pkg/audio/portaudio"
)

// shutdownGrace bounds how long in-flight HTTP requests may take to finish.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	level   *slog.LevelVar
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	host       audio.Host
	client     *api.Client
	pipeline   *pipeline.Pipeline
	controller *session.Controller
	store      history.Store
	journal    *history.Journal
	server     *web.Server
	httpServer *http.Server
	listener   net.Listener
	watcher    *config.Watcher

	metricsHandler http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHost injects an audio host instead of PortAudio.
func WithHost(h audio.Host) Option {
	return func(a *App) { a.host = h }
}

// WithHistoryStore injects the primary history store instead of creating one
// from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithListener serves the control API on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics instruments. Defaults to the global provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
//
// New performs all initialisation synchronously: history store connection,
// backend client and pipeline construction, an optional startup login, and
// the control API.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(LevelFor(cfg.Server.LogLevel))
	}

	// ── 1. Audio host ────────────────────────────────────────────────────
	if a.host == nil {
		a.host = portaudio.New(portaudio.WithFramesPerBuffer(cfg.Audio.FramesPerBuffer))
	}

	// ── 2. History ───────────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Backend + pipeline ────────────────────────────────────────────
	a.client = api.New(cfg.Backend.BaseURL,
		api.WithTimeout(cfg.Backend.Timeout),
		api.WithMetrics(a.metrics),
	)
	a.pipeline = pipeline.New(a.client,
		pipeline.WithGenerateMarkdown(cfg.Backend.Markdown()),
		pipeline.WithMetrics(a.metrics),
	)

	// ── 4. Session controller ────────────────────────────────────────────
	neg := negotiate.New(a.host, negotiate.Config{
		Format:           audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels},
		MicrophoneDevice: cfg.Audio.MicrophoneDevice,
		SystemDevice:     cfg.Audio.SystemDevice,
	})
	a.controller = session.New(neg, a.pipeline,
		session.WithSettings(SettingsFor(cfg)),
		session.WithMetrics(a.metrics),
	)
	a.controller.Subscribe(a.journal.Observe)

	// ── 5. Startup login ─────────────────────────────────────────────────
	var creds *api.Credentials
	if cfg.Backend.Username != "" {
		c, err := a.client.Login(ctx, cfg.Backend.Username, cfg.Backend.Password)
		if err != nil {
			// Not fatal: the user can still log in through the API.
			slog.Warn("startup login failed", "username", cfg.Backend.Username, "err", err)
		} else {
			creds = c
			slog.Info("logged in to backend", "username", cfg.Backend.Username)
		}
	}

	// ── 6. Control API ───────────────────────────────────────────────────
	a.server = web.New(a.controller, a.client,
		web.WithHistory(a.journal),
		web.WithRecords(a.client),
		web.WithHealth(health.New(a.checkers()...)),
		web.WithMetrics(a.metrics),
		web.WithMetricsHandler(a.metricsHandler),
		web.WithCredentials(creds),
	)
	a.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory connects the configured store and puts a bounded in-memory
// store behind it.
func (a *App) initHistory(ctx context.Context) error {
	memory := history.NewMemoryStore(a.cfg.History.MaxEntries)

	primaryName := "injected"
	switch {
	case a.store != nil:
	case a.cfg.History.PostgresDSN != "":
		store, err := postgres.NewStore(ctx, a.cfg.History.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = store
		primaryName = "postgres"
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	default:
		a.store = memory
		primaryName = "memory"
	}

	opts := []history.JournalOption{
		history.WithBreaker(resilience.BreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("history store breaker changed state", "store", name, "from", from, "to", to)
			},
		}),
	}
	if a.store != history.Store(memory) {
		opts = append(opts, history.WithFallback("memory", memory))
	}
	a.journal = history.NewJournal(primaryName, a.store, opts...)
	return nil
}

// checkers returns the readiness probes. Only the audio host is required;
// recording works without the backend or the history database.
func (a *App) checkers() []health.Checker {
	checks := []health.Checker{
		{Name: "audio", Check: a.host.Check},
		{Name: "history", Check: a.journal.Ping, Optional: true},
		{Name: "config", Check: a.configErr, Optional: true},
	}
	if a.cfg.Backend.BaseURL != "" {
		checks = append(checks, health.Checker{Name: "backend", Check: a.client.Ping, Optional: true})
	}
	return checks
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.controller }

// Handler returns the control API handler.
func (a *App) Handler() http.Handler { return a.server }

// ─── Config reload ───────────────────────────────────────────────────────────

// configErr reports a rejected edit of the watched config file.
func (a *App) configErr(context.Context) error {
	if a.watcher == nil {
		return nil
	}
	return a.watcher.Err()
}

// Watch creates a watcher for path whose changes are applied to a. Call it
// before [App.Run].
func (a *App) Watch(path string, opts ...config.WatcherOption) error {
	w, err := config.NewWatcher(path, a.ApplyConfig, opts...)
	if err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// ApplyConfig applies the hot-reloadable differences between old and new.
// Session settings take effect when the next recording starts.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.level.Set(LevelFor(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.GainsChanged || d.SampleIntervalChanged {
		s := a.controller.Settings()
		s.MicGain, s.SystemGain = new.Audio.MicGain, new.Audio.SystemGain
		s.SampleInterval = new.Clock.SampleInterval
		a.controller.UpdateSettings(s)
		slog.Info("session settings changed",
			"mic_gain", s.MicGain,
			"system_gain", s.SystemGain,
			"sample_interval", s.SampleInterval,
		)
	}
	if d.MarkdownChanged {
		a.pipeline.SetGenerateMarkdown(d.NewMarkdown)
		slog.Info("markdown generation changed", "enabled", d.NewMarkdown)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API, writes history and watches the config file
// until ctx is cancelled. It returns nil on a clean cancellation.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.httpServer.Addr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("control api listening", "addr", ln.Addr().String())
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.journal.Run(gctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	return g.Wait()
}

// Shutdown releases the recording devices and closes every subsystem. An
// active recording is discarded. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if st := a.controller.State(); st != session.StateIdle {
			slog.Warn("discarding session on shutdown", "state", st)
		}
		if err := a.controller.Discard(ctx); err != nil {
			slog.Warn("discard on shutdown", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SettingsFor converts the config into per-session settings.
func SettingsFor(cfg *config.Config) session.Settings {
	s := session.DefaultSettings()
	s.MicGain = cfg.Audio.MicGain
	s.SystemGain = cfg.Audio.SystemGain
	s.Encodings = cfg.Recorder.Encodings
	s.Timeslice = cfg.Recorder.Timeslice
	s.FlushGrace = cfg.Recorder.FlushGrace
	s.Codec = codec.Options{OpusBitrate: cfg.Recorder.OpusBitrate}
	s.SampleInterval = cfg.Clock.SampleInterval
	return s
}

// LevelFor converts a config log level into a slog level.
func LevelFor(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
