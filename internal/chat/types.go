package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/ent0n29/chatbot/internal/evidence"
	"github.com/ent0n29/chatbot/internal/llm"
	"github.com/ent0n29/chatbot/internal/memory"
)

const (
	DefaultSessionID = "default"
	ResetCommand     = "/reset"
)

// State is the terminal state of one request.
type State string

const (
	StateReset       State = "reset"
	StateMock        State = "mock"
	StateLLMFull     State = "llm_full"
	StateLLMDegraded State = "llm_degraded"
	StateFailed      State = "failed"
)

// Response modes reported in Meta.Mode.
const (
	ModeMock  = "mock"
	ModeLLM   = "llm"
	ModeLocal = "local"
)

type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type Meta struct {
	Mode           string `json:"mode"`
	Kind           string `json:"kind,omitempty"`
	Model          string `json:"model,omitempty"`
	HistoryOK      *bool  `json:"history_ok,omitempty"`
	EvidenceStatus string `json:"evidence_status,omitempty"`
}

func (m Meta) auditMap() map[string]any {
	out := map[string]any{"mode": m.Mode}
	if m.Kind != "" {
		out["kind"] = m.Kind
	}
	if m.Model != "" {
		out["model"] = m.Model
	}
	if m.HistoryOK != nil {
		out["history_ok"] = *m.HistoryOK
	}
	if m.EvidenceStatus != "" {
		out["evidence_status"] = m.EvidenceStatus
	}
	return out
}

// Outcome is returned to the caller and mirrored into the audit log.
type Outcome struct {
	Answer    string `json:"answer"`
	Meta      Meta   `json:"meta"`
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
	State     State  `json:"-"`
}

// FailedError is returned when the model step of a request fails.
type FailedError struct {
	RequestID string
	SessionID string
	Err       error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("chat request %s failed: %v", e.RequestID, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// HistoryConnector hands out a probed session store handle per request.
type HistoryConnector interface {
	Connect(ctx context.Context) memory.Handle
}

type EvidenceRetriever interface {
	Retrieve(ctx context.Context, query string) evidence.Bundle
}

type ModelClient interface {
	Ask(ctx context.Context, messages []llm.Message) (string, error)
}

// Telemetry receives request-level observations.
type Telemetry interface {
	ObserveState(state string)
	ObserveDependency(dependency, status string)
	ObserveAuditFailure()
	ObserveStage(stage string, d time.Duration)
}

type noopTelemetry struct{}

func (noopTelemetry) ObserveState(string)                {}
func (noopTelemetry) ObserveDependency(string, string)   {}
func (noopTelemetry) ObserveAuditFailure()               {}
func (noopTelemetry) ObserveStage(string, time.Duration) {}
