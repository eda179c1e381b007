package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/MrWong99/meetrec/internal/session"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

type startRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.sessions.Start(r.Context(), req.Title); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.Status())
}

// simple adapts a controller operation bound to the request context.
func (s *Server) simple(op func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.sessions.Status())
	}
}

// detached is like simple but keeps running when the client goes away, so a
// closed browser tab cannot leave a half-stopped recording behind.
func (s *Server) detached(op func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(context.WithoutCancel(r.Context())); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.sessions.Status())
	}
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	creds := s.Credentials()
	if !creds.LoggedIn() {
		writeError(w, r, errNotLoggedIn)
		return
	}
	if _, err := s.sessions.Process(context.WithoutCancel(r.Context()), creds); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.Status())
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, title, ok := s.sessions.Artifact()
	if !ok {
		writeError(w, r, session.ErrNoArtifact)
		return
	}
	name := artifact.FileName(title, s.now())
	w.Header().Set("Content-Type", artifact.MIMEType())
	w.Header().Set("Content-Length", strconv.Itoa(artifact.Size()))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.Copy(w, artifact.Reader())
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "Invalid request body: "+err.Error())
		return false
	}
	return true
}
