package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/shabda/internal/correct"
	"github.com/MrWong99/shabda/internal/observe"
)

// streamWriteTimeout bounds one websocket write.
const streamWriteTimeout = 10 * time.Second

// streamRequest is one client frame. Tokens take precedence over Text. Reset
// clears the session context before the frame is processed.
type streamRequest struct {
	Tokens []string `json:"tokens,omitempty"`
	Text   string   `json:"text,omitempty"`
	Reset  bool     `json:"reset,omitempty"`
}

// streamResponse answers one client frame.
type streamResponse struct {
	Session   string          `json:"session"`
	Corrected string          `json:"corrected,omitempty"`
	Tokens    []correct.Token `json:"tokens,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// handleStream runs a correction session over a websocket. Every frame is
// corrected against the context left by the frames before it. A scoring
// failure or a blank token is reported in an error frame and leaves the
// session usable.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("server: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.cfg.MaxBodyBytes)

	ctx := r.Context()
	sess := s.Pipelines().Stream.NewSession()
	log := observe.Logger(ctx).With("session", sess.ID())

	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
	log.Debug("server: stream opened")

	for {
		var req streamRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				log.Debug("server: stream closed by client")
				return
			}
			if ctx.Err() == nil {
				log.Warn("server: stream read failed", "err", err)
			}
			conn.Close(websocket.StatusUnsupportedData, "invalid frame")
			return
		}

		if req.Reset {
			sess.Reset()
		}
		tokens := req.Tokens
		if tokens == nil {
			tokens = strings.Fields(req.Text)
		}

		resp := streamResponse{Session: sess.ID()}
		out, err := sess.Feed(ctx, tokens)
		switch {
		case err == nil:
			resp.Tokens = out
			resp.Corrected = joinOutputs(out)
		case errors.Is(err, correct.ErrScoringUnavailable), errors.Is(err, correct.ErrInvalidToken):
			resp.Error = err.Error()
		default:
			if ctx.Err() == nil {
				log.Error("server: stream feed failed", "err", err)
			}
			conn.Close(websocket.StatusInternalError, "correction failed")
			return
		}

		wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
		err = wsjson.Write(wctx, conn, resp)
		cancel()
		if err != nil {
			log.Warn("server: stream write failed", "err", err)
			return
		}
	}
}

// joinOutputs joins the emitted tokens of out, skipping dropped ones.
func joinOutputs(out []correct.Token) string {
	words := make([]string, 0, len(out))
	for _, t := range out {
		if t.Output != "" {
			words = append(words, t.Output)
		}
	}
	return strings.Join(words, " ")
}
