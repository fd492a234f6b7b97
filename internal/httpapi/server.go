package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/chatbot/internal/chat"
	"github.com/ent0n29/chatbot/internal/config"
	"github.com/ent0n29/chatbot/internal/llm"
	"github.com/ent0n29/chatbot/internal/observability"
	"github.com/ent0n29/chatbot/internal/policy"
)

const failureDetailPrefix = "LLM 호출 실패: "

type Orchestrator interface {
	Handle(ctx context.Context, req chat.Request) (chat.Outcome, error)
}

// Dependencies are the optional stores probed by /readyz.
type Dependencies struct {
	History  chat.HistoryConnector
	Evidence chat.EvidenceRetriever
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	deps         Dependencies
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator Orchestrator, deps Dependencies, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		deps:         deps,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a chat socket unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/chat", s.handleChat)
	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"mode": s.cfg.Mode,
	})
}

type chatRequest struct {
	Message   *string `json:"message"`
	SessionID *string `json:"session_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "orchestrator not configured")
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Message == nil {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	in := chat.Request{Message: *req.Message}
	if req.SessionID != nil {
		in.SessionID = *req.SessionID
	}

	out, err := s.orchestrator.Handle(r.Context(), in)
	if err != nil {
		respondError(w, http.StatusBadGateway, s.failureDetail(err))
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// failureDetail renders a failed request for an external caller. Only model
// backend errors are shown in detail; the full error is already in the audit
// log and server log.
func (s *Server) failureDetail(err error) string {
	var failed *chat.FailedError
	if errors.As(err, &failed) {
		err = failed.Err
	}
	if !s.cfg.ExposeErrorDetail || !llm.IsBackendError(err) {
		return failureDetailPrefix + "model backend unavailable"
	}
	return failureDetailPrefix + policy.SanitizeDetail(err.Error())
}

type errorResponse struct {
	Detail string `json:"detail"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Printf("write response failed: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, errorResponse{Detail: detail})
}
