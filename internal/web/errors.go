package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/meetrec/internal/api"
	"github.com/MrWong99/meetrec/internal/session"
)

// Kinds produced by the API layer itself.
const (
	kindBadRequest      = "bad_request"
	kindUnauthenticated = "unauthenticated"
	kindLoginFailed     = "login_failed"
	kindUnavailable     = "unavailable"
)

var errNotLoggedIn = errors.New("web: not logged in")

// errorBody is the JSON body of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case session.KindBusy, session.KindInvalidTransition, session.KindNoArtifact, session.KindDiscarded:
		return http.StatusConflict
	case session.KindEmptyTitle, kindBadRequest:
		return http.StatusBadRequest
	case session.KindSessionExpired, kindUnauthenticated, kindLoginFailed:
		return http.StatusUnauthorized
	case session.KindEmptyRecording:
		return http.StatusUnprocessableEntity
	case session.KindStage:
		return http.StatusBadGateway
	case session.KindPermissionDenied, session.KindDeviceUnavailable, session.KindDeviceBusy,
		session.KindEnvironment, kindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports a controller or backend error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var body errorBody
	switch {
	case errors.Is(err, errNotLoggedIn):
		body = errorBody{Error: "Please login first.", Kind: kindUnauthenticated}
	default:
		body = errorBody{Error: session.Describe(err), Kind: session.Kind(err)}
	}
	status := statusFor(body.Kind)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "web: request failed", "path", r.URL.Path, "kind", body.Kind, "err", err)
	} else {
		slog.DebugContext(r.Context(), "web: request rejected", "path", r.URL.Path, "kind", body.Kind, "err", err)
	}
	writeJSON(w, status, body)
}

// writeBackendError reports a failed auth call. Backend rejections keep the
// backend's own detail.
func writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	if api.IsSessionExpired(err) {
		writeError(w, r, err)
		return
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		kind := kindUnavailable
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			kind = kindLoginFailed
		}
		writeJSON(w, statusFor(kind), errorBody{Error: apiErr.Detail, Kind: kind})
		return
	}
	slog.WarnContext(r.Context(), "web: backend unreachable", "path", r.URL.Path, "err", err)
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "The processing service is unreachable.", Kind: kindUnavailable})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Kind: kindBadRequest})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("web: encode response", "err", err)
	}
}
