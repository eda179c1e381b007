package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/meetrec/internal/history"
	"github.com/MrWong99/meetrec/internal/session"
)

const (
	// eventBuffer is how many events may wait for a slow client before
	// further events are dropped.
	eventBuffer = 32

	writeTimeout = 5 * time.Second
)

// handleEvents streams controller events over a WebSocket. The first message
// is a transition-kind event carrying the current status.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "web: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	events := make(chan session.Event, eventBuffer)
	unsubscribe := s.sessions.Subscribe(func(ev session.Event) {
		select {
		case events <- ev:
		default:
			// The controller must never wait on a client.
		}
	})
	defer unsubscribe()

	// Clients only listen; CloseRead handles pings and the close handshake.
	ctx := conn.CloseRead(r.Context())

	cur := s.sessions.Status()
	if err := write(ctx, conn, session.Event{Kind: session.EventTransition, From: cur.State, Status: cur}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-events:
			if err := write(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.DebugContext(r.Context(), "web: websocket write", "err", err)
				}
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, ev session.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := history.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			badRequest(w, "limit must be between 1 and 500.")
			return
		}
		limit = n
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "web: history", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Session history is unavailable.", Kind: kindUnavailable})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
