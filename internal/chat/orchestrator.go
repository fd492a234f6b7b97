package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/chatbot/internal/audit"
	"github.com/ent0n29/chatbot/internal/config"
	"github.com/ent0n29/chatbot/internal/evidence"
	"github.com/ent0n29/chatbot/internal/memory"
	"github.com/ent0n29/chatbot/internal/observability"
	"github.com/ent0n29/chatbot/internal/prompt"
)

const (
	resetAnswerCleared   = "OK. 대화 기록을 초기화했어."
	resetAnswerNoStore   = "OK. (Redis 미연결) 초기화할 대화 메모리가 없습니다."
	mockAnswerPrefix     = "받은 메시지: "
	statusHeader         = "[시스템 상태]"
	noticeHistoryDown    = "- Redis(대화 메모리): 미연결"
	noticeEvidenceDown   = "- RAG(DB): 미연결/비활성"
	dependencyHistory    = "history"
	dependencyEvidence   = "evidence"
	historyStatusOK      = "ok"
	historyStatusMissing = "unavailable"
)

// Orchestrator runs one chat request end to end. It holds no per-request
// state, so a single instance serves concurrent requests.
type Orchestrator struct {
	mode      string
	modelID   string
	policy    string
	maxTurns  int
	ttl       time.Duration
	history   HistoryConnector
	evidence  EvidenceRetriever
	model     ModelClient
	audit     audit.Recorder
	telemetry Telemetry
	newID     func() string
}

func NewOrchestrator(
	cfg config.Config,
	history HistoryConnector,
	retriever EvidenceRetriever,
	model ModelClient,
	recorder audit.Recorder,
	telemetry Telemetry,
) *Orchestrator {
	if telemetry == nil {
		telemetry = noopTelemetry{}
	}
	return &Orchestrator{
		mode:      cfg.Mode,
		modelID:   cfg.ModelID,
		policy:    cfg.PolicyPreamble,
		maxTurns:  cfg.HistoryMaxTurns,
		ttl:       cfg.HistoryTTL,
		history:   history,
		evidence:  retriever,
		model:     model,
		audit:     recorder,
		telemetry: telemetry,
		newID:     uuid.NewString,
	}
}

// Handle processes one inbound message. The only error it returns is a
// *FailedError from the model step; every other dependency problem degrades
// into a successful Outcome.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()
	requestID := o.newID()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	o.record(audit.Record{
		RequestID: requestID,
		SessionID: sessionID,
		Role:      audit.RoleUser,
		Content:   req.Message,
		Meta:      map[string]any{"mode": o.mode},
	})

	var (
		out Outcome
		err error
	)
	switch {
	case strings.TrimSpace(req.Message) == ResetCommand:
		out = o.reset(ctx, sessionID)
	case o.mode == config.ModeMock:
		out = Outcome{
			Answer: mockAnswerPrefix + req.Message,
			Meta:   Meta{Mode: ModeMock},
			State:  StateMock,
		}
	default:
		out, err = o.answerGuarded(ctx, sessionID, req.Message)
	}
	out.RequestID = requestID
	out.SessionID = sessionID

	if err != nil {
		o.record(audit.Record{
			RequestID: requestID,
			SessionID: sessionID,
			Role:      audit.RoleError,
			Content:   err.Error(),
			Meta:      map[string]any{"mode": ModeLLM, "model": o.modelID},
		})
		log.Printf("chat request failed request_id=%s session=%s: %v", requestID, sessionID, err)
		o.telemetry.ObserveState(string(StateFailed))
		o.telemetry.ObserveStage(observability.StageTotal, time.Since(start))
		return out, &FailedError{RequestID: requestID, SessionID: sessionID, Err: err}
	}

	o.record(audit.Record{
		RequestID: requestID,
		SessionID: sessionID,
		Role:      audit.RoleAssistant,
		Content:   out.Answer,
		Meta:      out.Meta.auditMap(),
	})
	o.telemetry.ObserveState(string(out.State))
	o.telemetry.ObserveStage(observability.StageTotal, time.Since(start))
	return out, nil
}

func (o *Orchestrator) reset(ctx context.Context, sessionID string) Outcome {
	out := Outcome{
		Meta:  Meta{Mode: ModeLocal, Kind: "reset"},
		State: StateReset,
	}
	h := o.history.Connect(ctx)
	if !h.Live() {
		out.Answer = resetAnswerNoStore
		return out
	}
	h.Clear(ctx, sessionID)
	out.Answer = resetAnswerCleared
	return out
}

// answerGuarded turns a panic anywhere in the model path into a failed
// request so the terminal audit record is still written.
func (o *Orchestrator) answerGuarded(ctx context.Context, sessionID, message string) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chat pipeline panic: %v", r)
		}
	}()
	return o.answer(ctx, sessionID, message)
}

func (o *Orchestrator) answer(ctx context.Context, sessionID, message string) (Outcome, error) {
	stageStart := time.Now()
	h := o.history.Connect(ctx)
	history := h.Read(ctx, sessionID)
	o.telemetry.ObserveStage(observability.StageHistoryRead, time.Since(stageStart))
	historyOK := h.Live()
	if historyOK {
		o.telemetry.ObserveDependency(dependencyHistory, historyStatusOK)
	} else {
		o.telemetry.ObserveDependency(dependencyHistory, historyStatusMissing)
	}

	stageStart = time.Now()
	bundle := o.evidence.Retrieve(ctx, message)
	o.telemetry.ObserveStage(observability.StageEvidence, time.Since(stageStart))
	o.telemetry.ObserveDependency(dependencyEvidence, string(bundle.Status))

	preamble := statusPreamble(historyOK, bundle)
	messages := prompt.Compose(o.policy, history, bundle, message)

	stageStart = time.Now()
	answer, err := o.model.Ask(ctx, messages)
	o.telemetry.ObserveStage(observability.StageModel, time.Since(stageStart))
	if err != nil {
		return Outcome{Meta: Meta{Mode: ModeLLM, Model: o.modelID}, State: StateFailed}, err
	}

	// Persist the bare answer; the status preamble would otherwise repeat
	// in every later prompt.
	stageStart = time.Now()
	next := append(append([]memory.Turn(nil), history...),
		memory.Turn{Role: memory.RoleUser, Content: message},
		memory.Turn{Role: memory.RoleAssistant, Content: answer},
	)
	h.Write(ctx, sessionID, memory.Truncate(next, o.maxTurns), o.ttl)
	o.telemetry.ObserveStage(observability.StageHistorySave, time.Since(stageStart))

	state := StateLLMDegraded
	if historyOK && bundle.OK() {
		state = StateLLMFull
	}
	return Outcome{
		Answer: preamble + answer,
		Meta: Meta{
			Mode:           ModeLLM,
			Model:          o.modelID,
			HistoryOK:      &historyOK,
			EvidenceStatus: string(bundle.Status),
		},
		State: state,
	}, nil
}

// statusPreamble lists degraded optional subsystems, or returns "" when
// everything is live.
func statusPreamble(historyOK bool, bundle evidence.Bundle) string {
	var notices []string
	if !historyOK {
		notices = append(notices, noticeHistoryDown)
	}
	if !bundle.OK() {
		if reason := strings.TrimSpace(bundle.Reason); reason != "" {
			notices = append(notices, fmt.Sprintf("%s (%s)", noticeEvidenceDown, reason))
		} else {
			notices = append(notices, noticeEvidenceDown)
		}
	}
	if len(notices) == 0 {
		return ""
	}
	return statusHeader + "\n" + strings.Join(notices, "\n") + "\n\n"
}

// record never fails the request; a broken audit sink is logged and counted.
func (o *Orchestrator) record(rec audit.Record) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Record(rec); err != nil {
		log.Printf("audit write failed request_id=%s role=%s: %v", rec.RequestID, rec.Role, err)
		o.telemetry.ObserveAuditFailure()
	}
}
