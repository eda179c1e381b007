// Package web serves the local control API of meetrec.
//
// The API is a thin JSON layer over a [session.Controller]: every POST under
// /api/session maps to one controller operation and answers with the
// resulting status snapshot. Errors are reported with the same user-facing
// message the controller would show, plus a machine-readable kind:
//
//	{"error": "Translation failed: quota exceeded. You can retry processing.", "kind": "stage_failed"}
//
// The server also holds the backend credentials of the single local user,
// so it must only listen on a loopback address.
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/meetrec/internal/api"
	"github.com/MrWong99/meetrec/internal/health"
	"github.com/MrWong99/meetrec/internal/history"
	"github.com/MrWong99/meetrec/internal/observe"
	"github.com/MrWong99/meetrec/internal/pipeline"
	"github.com/MrWong99/meetrec/internal/recorder"
	"github.com/MrWong99/meetrec/internal/session"
)

// Sessions is the controller surface the API drives.
type Sessions interface {
	Start(ctx context.Context, title string) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Process(ctx context.Context, creds *api.Credentials) (*pipeline.Result, error)
	Discard(ctx context.Context) error
	Status() session.Status
	Artifact() (artifact *recorder.Artifact, title string, ok bool)
	Subscribe(fn session.Observer) (unsubscribe func())
}

// Auth is the backend account surface.
type Auth interface {
	Login(ctx context.Context, username, password string) (*api.Credentials, error)
	Logout(ctx context.Context, creds *api.Credentials) error
	CurrentUser(ctx context.Context, creds *api.Credentials) (*api.User, error)
}

// History lists past sessions.
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

var (
	_ Sessions = (*session.Controller)(nil)
	_ Auth     = (*api.Client)(nil)
	_ History  = (*history.Journal)(nil)
)

// Option configures a [Server].
type Option func(*Server)

// WithHistory enables GET /api/history.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithCredentials starts the server logged in.
func WithCredentials(c *api.Credentials) Option {
	return func(s *Server) { s.creds = c }
}

// WithNow overrides the time source used for download file names.
func WithNow(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// Server is the control API. It implements [http.Handler].
type Server struct {
	sessions       Sessions
	auth           Auth
	history        History
	records        Records
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	now            func() time.Time

	credsMu sync.RWMutex
	creds   *api.Credentials

	handler http.Handler
}

// New builds the API over sessions and auth.
func New(sessions Sessions, auth Auth, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		auth:     auth,
		metrics:  observe.DefaultMetrics(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	// ── Session ──
	mux.HandleFunc("GET /api/session", s.handleStatus)
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/pause", s.simple(s.sessions.Pause))
	mux.HandleFunc("POST /api/session/resume", s.simple(s.sessions.Resume))
	mux.HandleFunc("POST /api/session/stop", s.detached(s.sessions.Stop))
	mux.HandleFunc("POST /api/session/process", s.handleProcess)
	mux.HandleFunc("POST /api/session/discard", s.simple(s.sessions.Discard))
	mux.HandleFunc("GET /api/session/artifact", s.handleArtifact)
	mux.HandleFunc("GET /api/session/events", s.handleEvents)

	// ── Auth ──
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/me", s.handleMe)

	// ── History ──
	if s.history != nil {
		mux.HandleFunc("GET /api/history", s.handleHistory)
	}

	// ── Records ──
	if s.records != nil {
		mux.HandleFunc("GET /api/records/transcriptions/{id}", lookup(s, s.records.GetTranscription))
		mux.HandleFunc("GET /api/records/translations/{id}", lookup(s, s.records.GetTranslation))
		mux.HandleFunc("GET /api/records/analyses/{id}", lookup(s, s.records.GetAnalysis))
		mux.HandleFunc("GET /api/records/analyses", s.handleListAnalyses)
	}

	// ── Probes ──
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Credentials returns the current credentials, or nil when logged out.
func (s *Server) Credentials() *api.Credentials {
	s.credsMu.RLock()
	defer s.credsMu.RUnlock()
	return s.creds
}

func (s *Server) setCredentials(c *api.Credentials) {
	s.credsMu.Lock()
	defer s.credsMu.Unlock()
	s.creds = c
}
