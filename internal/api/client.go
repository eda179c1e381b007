// Package api is the HTTP client for the meeting-analysis backend.
//
// Authenticated calls carry the bearer token of an explicit [Credentials]
// value. A 401 response triggers exactly one token refresh followed by one
// retry of the original request; when that is not possible the call fails
// with [ErrSessionExpired]. Non-2xx responses surface as [*Error] carrying
// the backend's detail message.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/MrWong99/meetrec/internal/observe"
)

// DefaultBaseURL is the backend API root used when none is configured.
const DefaultBaseURL = "http://127.0.0.1:8000/api/v1"

// DefaultTimeout bounds a single request. Transcription of long recordings
// is slow, so the default is generous.
const DefaultTimeout = 120 * time.Second

// Option configures a [Client].
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithTransport replaces the HTTP transport. Tests use it to route requests
// through an httptest server's client.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.http.SetTransport(rt)
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	http    *resty.Client
	metrics *observe.Metrics
}

// New creates a client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(DefaultTimeout).
			SetHeader("Accept", "application/json"),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// BaseURL returns the backend API root.
func (c *Client) BaseURL() string { return c.http.BaseURL }

// Ping checks that the backend answers HTTP. It requests the unauthenticated
// greeting route at the server root; any response below 500 counts as
// reachable.
func (c *Client) Ping(ctx context.Context) error {
	u, err := url.Parse(c.http.BaseURL)
	if err != nil {
		return fmt.Errorf("api: ping: %w", err)
	}
	u.Path, u.RawQuery = "/greet", ""
	resp, err := c.http.R().SetContext(ctx).Get(u.String())
	if err != nil {
		return fmt.Errorf("api: ping: %w", err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("api: ping: %s", resp.Status())
	}
	return nil
}

// ── Auth ───────────────────────────────────────────────────────────────────

// Login exchanges a username and password for credentials.
func (c *Client) Login(ctx context.Context, username, password string) (*Credentials, error) {
	var pair TokenPair
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": username, "password": password}).
		SetResult(&pair).
		Post("/auth/login")
	if err != nil {
		return nil, fmt.Errorf("api: login: %w", err)
	}
	if resp.IsError() {
		return nil, newError(resp, "Login failed")
	}
	return NewCredentials(pair), nil
}

// Refresh replaces the access token of creds using its refresh token.
func (c *Client) Refresh(ctx context.Context, creds *Credentials) error {
	return c.refreshIfStale(ctx, creds, creds.AccessToken())
}

// refreshIfStale refreshes creds unless another caller already replaced the
// stale access token while this one waited.
func (c *Client) refreshIfStale(ctx context.Context, creds *Credentials, stale string) (err error) {
	creds.refreshMu.Lock()
	defer creds.refreshMu.Unlock()

	if cur := creds.AccessToken(); cur != "" && cur != stale {
		return nil
	}

	rt := creds.RefreshToken()
	if rt == "" {
		return errNoRefreshToken
	}
	defer func() { c.metrics.RecordAuthRefresh(ctx, err) }()

	var pair TokenPair
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"refresh_token": rt}).
		SetResult(&pair).
		Post("/auth/refresh")
	if err != nil {
		return fmt.Errorf("api: refresh: %w", err)
	}
	if resp.IsError() {
		return newError(resp, "Failed to refresh token")
	}
	creds.Update(pair)
	slog.Debug("api: access token refreshed")
	return nil
}

// Logout revokes the refresh token and clears creds. Credentials without a
// refresh token are cleared without contacting the backend. A backend
// failure is logged; creds are cleared regardless.
func (c *Client) Logout(ctx context.Context, creds *Credentials) error {
	defer creds.Clear()

	rt := creds.RefreshToken()
	if rt == "" {
		return nil
	}
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"refresh_token": rt})
	if tok := creds.AccessToken(); tok != "" {
		req.SetAuthToken(tok)
	}
	resp, err := req.Post("/auth/logout")
	if err != nil {
		return fmt.Errorf("api: logout: %w", err)
	}
	if resp.IsError() {
		slog.Warn("api: logout failed on server", "status", resp.StatusCode())
		return newError(resp, "Logout failed")
	}
	return nil
}

// CurrentUser returns the profile of the logged-in user.
func (c *Client) CurrentUser(ctx context.Context, creds *Credentials) (*User, error) {
	var u User
	err := c.authed(ctx, creds, "Failed to get user info", &u, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/auth/users/me")
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ── Processing ─────────────────────────────────────────────────────────────

// Transcribe uploads a recording and returns its transcription.
func (c *Client) Transcribe(ctx context.Context, creds *Credentials, fileName, mimeType string, data []byte, title string) (*Transcription, error) {
	var t Transcription
	err := c.authed(ctx, creds, "Transcription failed", &t, func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetMultipartField("file", fileName, mimeType, bytes.NewReader(data)).
			SetFormData(map[string]string{"title": title}).
			Post("/audios/transcribe")
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Translate translates a transcription.
func (c *Client) Translate(ctx context.Context, creds *Credentials, in TranslationRequest) (*Translation, error) {
	var t Translation
	err := c.authed(ctx, creds, "Translation failed", &t, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(in).Post("/translations/")
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Analyze creates a meeting analysis for a translation.
func (c *Client) Analyze(ctx context.Context, creds *Credentials, in AnalysisRequest) (*Analysis, error) {
	var a Analysis
	err := c.authed(ctx, creds, "Failed to create analysis", &a, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(in).Post("/audios/analyses")
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ── Lookups ────────────────────────────────────────────────────────────────

// GetTranscription fetches a transcription by ID.
func (c *Client) GetTranscription(ctx context.Context, creds *Credentials, id uuid.UUID) (*Transcription, error) {
	var t Transcription
	if err := c.get(ctx, creds, "/audios/transcriptions/{id}", id, "Failed to fetch transcription", &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTranslation fetches a translation by ID.
func (c *Client) GetTranslation(ctx context.Context, creds *Credentials, id uuid.UUID) (*Translation, error) {
	var t Translation
	if err := c.get(ctx, creds, "/translations/{id}", id, "Failed to fetch translation", &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetAnalysis fetches an analysis by ID.
func (c *Client) GetAnalysis(ctx context.Context, creds *Credentials, id uuid.UUID) (*Analysis, error) {
	var a Analysis
	if err := c.get(ctx, creds, "/audios/analyses/{id}", id, "Failed to fetch analysis", &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAnalyses returns a page of the user's analyses, newest last.
func (c *Client) ListAnalyses(ctx context.Context, creds *Credentials, skip, limit int) ([]Analysis, error) {
	var out []Analysis
	err := c.authed(ctx, creds, "Failed to fetch analyses", &out, func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetQueryParam("skip", strconv.Itoa(skip)).
			SetQueryParam("limit", strconv.Itoa(limit)).
			Get("/audios/analyses")
	})
	return out, err
}

func (c *Client) get(ctx context.Context, creds *Credentials, path string, id uuid.UUID, fallback string, out any) error {
	return c.authed(ctx, creds, fallback, out, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", id.String()).Get(path)
	})
}

// authed sends an authenticated request built by send. On 401 it refreshes
// creds once and repeats send on a fresh request.
func (c *Client) authed(ctx context.Context, creds *Credentials, fallback string, result any, send func(*resty.Request) (*resty.Response, error)) error {
	if creds == nil {
		creds = &Credentials{}
	}
	attempt := func() (*resty.Response, string, error) {
		tok := creds.AccessToken()
		r := c.http.R().SetContext(ctx).SetResult(result)
		if tok != "" {
			r.SetAuthToken(tok)
		}
		resp, err := send(r)
		return resp, tok, err
	}

	resp, used, err := attempt()
	if err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		if err := c.refreshIfStale(ctx, creds, used); err != nil {
			slog.Info("api: token refresh failed", "err", err)
			creds.Clear()
			return fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
		resp, _, err = attempt()
		if err != nil {
			return fmt.Errorf("api: %w", err)
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			creds.Clear()
			return ErrSessionExpired
		}
	}
	if resp.IsError() {
		return newError(resp, fallback)
	}
	return nil
}

// IsSessionExpired reports whether err means the user has to log in again.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}
