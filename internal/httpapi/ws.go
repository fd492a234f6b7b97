package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/chatbot/internal/chat"
	"github.com/ent0n29/chatbot/internal/llm"
	"github.com/ent0n29/chatbot/internal/protocol"
)

const (
	wsReadLimit    = 1 << 20
	wsIdleTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleChatWS serves a chat session over a websocket. Messages on one
// socket are answered strictly in order, one orchestrator call at a time.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "orchestrator not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	defaultSession := r.URL.Query().Get("session_id")

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.observeWS("inbound", "invalid")
			if !s.writeWS(conn, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: defaultSession,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			}) {
				return
			}
			continue
		}
		s.observeWS("inbound", string(parsed.Type))

		sessionID := parsed.SessionID
		if sessionID == "" {
			sessionID = defaultSession
		}
		out, err := s.orchestrator.Handle(ctx, chat.Request{Message: parsed.Message, SessionID: sessionID})

		var reply any
		if err != nil {
			var be *llm.BackendError
			reply = protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: out.SessionID,
				RequestID: out.RequestID,
				Code:      "model_backend_failed",
				Retryable: errors.As(err, &be) && be.Transient(),
				Detail:    s.failureDetail(err),
			}
		} else {
			reply = protocol.ChatReply{
				Type:      protocol.TypeChatReply,
				SessionID: out.SessionID,
				RequestID: out.RequestID,
				Answer:    out.Answer,
				Meta:      out.Meta,
			}
		}
		if !s.writeWS(conn, reply) {
			return
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, msg any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		s.observeWS("outbound", "write_error")
		return false
	}
	switch m := msg.(type) {
	case protocol.ChatReply:
		s.observeWS("outbound", string(m.Type))
	case protocol.ErrorEvent:
		s.observeWS("outbound", string(m.Type))
	}
	return true
}

func (s *Server) observeWS(direction, msgType string) {
	if s.metrics == nil {
		return
	}
	s.metrics.WSMessages.WithLabelValues(direction, msgType).Inc()
}
