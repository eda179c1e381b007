package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/MrWong99/meetrec/internal/api"
)

const kindNotFound = "not_found"

// Records looks up processing results stored by the backend.
type Records interface {
	GetTranscription(ctx context.Context, creds *api.Credentials, id uuid.UUID) (*api.Transcription, error)
	GetTranslation(ctx context.Context, creds *api.Credentials, id uuid.UUID) (*api.Translation, error)
	GetAnalysis(ctx context.Context, creds *api.Credentials, id uuid.UUID) (*api.Analysis, error)
	ListAnalyses(ctx context.Context, creds *api.Credentials, skip, limit int) ([]api.Analysis, error)
}

var _ Records = (*api.Client)(nil)

// WithRecords enables the /api/records lookups.
func WithRecords(r Records) Option {
	return func(s *Server) { s.records = r }
}

// maxAnalysesPage bounds the limit of GET /api/records/analyses.
const maxAnalysesPage = 100

// lookup adapts a by-ID record fetch to a handler.
func lookup[T any](s *Server, fetch func(context.Context, *api.Credentials, uuid.UUID) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds := s.Credentials()
		if !creds.LoggedIn() {
			writeError(w, r, errNotLoggedIn)
			return
		}
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			badRequest(w, "Invalid record ID.")
			return
		}
		rec, err := fetch(r.Context(), creds, id)
		if err != nil {
			s.writeRecordError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	creds := s.Credentials()
	if !creds.LoggedIn() {
		writeError(w, r, errNotLoggedIn)
		return
	}
	skip, ok := queryInt(w, r, "skip", 0, 0, -1)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 20, 1, maxAnalysesPage)
	if !ok {
		return
	}
	list, err := s.records.ListAnalyses(r.Context(), creds, skip, limit)
	if err != nil {
		s.writeRecordError(w, r, err)
		return
	}
	if list == nil {
		list = []api.Analysis{}
	}
	writeJSON(w, http.StatusOK, list)
}

// writeRecordError reports a failed lookup. An expired session logs the
// local user out.
func (s *Server) writeRecordError(w http.ResponseWriter, r *http.Request, err error) {
	if api.IsSessionExpired(err) {
		s.setCredentials(nil)
		writeError(w, r, err)
		return
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		writeJSON(w, http.StatusNotFound, errorBody{Error: apiErr.Detail, Kind: kindNotFound})
		return
	}
	if errors.As(err, &apiErr) {
		writeJSON(w, http.StatusBadGateway, errorBody{Error: apiErr.Detail, Kind: kindUnavailable})
		return
	}
	writeBackendError(w, r, err)
}

// queryInt parses an optional integer query parameter within [lo, hi]. A
// negative hi means no upper bound.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def, lo, hi int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || (hi >= 0 && n > hi) {
		badRequest(w, "Invalid "+name+".")
		return 0, false
	}
	return n, true
}
