package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/chatbot/internal/policy"
)

type fakeBackend struct {
	mu       sync.Mutex
	replies  []string
	requests []chatRequest
	status   int
	raw      string
	delay    time.Duration
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != completionsPath || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-r.Context().Done():
			return
		}
	}
	if f.status != 0 {
		http.Error(w, "backend overloaded", f.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if f.raw != "" {
		_, _ = w.Write([]byte(f.raw))
		return
	}
	reply := f.replies[len(f.replies)-1]
	if n <= len(f.replies) {
		reply = f.replies[n-1]
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": reply}}},
	})
}

func (f *fakeBackend) calls() []chatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatRequest(nil), f.requests...)
}

type countingObserver struct {
	calls   int
	retries int
	errs    int
}

func (o *countingObserver) ObserveBackendCall(_ time.Duration, err error) {
	o.calls++
	if err != nil {
		o.errs++
	}
}

func (o *countingObserver) ObserveScriptRetry() { o.retries++ }

func TestAskSendsFixedDecodingParameters(t *testing.T) {
	fb := &fakeBackend{replies: []string{"안녕하세요"}}
	ts := httptest.NewServer(fb)
	defer ts.Close()

	c := NewClient(ts.URL+"/", "Qwen/Qwen2.5-7B-Instruct", 5*time.Second)
	msgs := []Message{{Role: RoleSystem, Content: "정책"}, {Role: RoleUser, Content: "안녕"}}
	got, err := c.Ask(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if got != "안녕하세요" {
		t.Fatalf("Ask() = %q, want %q", got, "안녕하세요")
	}

	reqs := fb.calls()
	if len(reqs) != 1 {
		t.Fatalf("backend calls = %d, want 1", len(reqs))
	}
	req := reqs[0]
	if req.Model != "Qwen/Qwen2.5-7B-Instruct" || req.Temperature != 0.4 || req.TopP != 0.8 || req.MaxTokens != 400 {
		t.Fatalf("unexpected request parameters: %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[1] != msgs[1] {
		t.Fatalf("unexpected messages: %+v", req.Messages)
	}
}

func TestAskRetriesOnceOnBannedScript(t *testing.T) {
	fb := &fakeBackend{replies: []string{"가격이 上昇했습니다", "가격이 상승했습니다"}}
	ts := httptest.NewServer(fb)
	defer ts.Close()

	obs := &countingObserver{}
	c := NewClient(ts.URL, "m", 5*time.Second, WithObserver(obs))
	msgs := []Message{{Role: RoleSystem, Content: "정책"}, {Role: RoleUser, Content: "금값?"}}
	got, err := c.Ask(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if got != "가격이 상승했습니다" {
		t.Fatalf("Ask() = %q, want second answer", got)
	}

	reqs := fb.calls()
	if len(reqs) != 2 {
		t.Fatalf("backend calls = %d, want 2", len(reqs))
	}
	retry := reqs[1].Messages
	if len(retry) != len(msgs)+1 {
		t.Fatalf("retry messages = %d, want %d", len(retry), len(msgs)+1)
	}
	last := retry[len(retry)-1]
	if last.Role != RoleSystem || last.Content != policy.CorrectiveInstruction {
		t.Fatalf("retry did not append corrective instruction: %+v", last)
	}
	if obs.retries != 1 || obs.calls != 2 {
		t.Fatalf("observer retries=%d calls=%d, want 1 and 2", obs.retries, obs.calls)
	}
	if len(msgs) != 2 {
		t.Fatalf("Ask() mutated caller messages: %+v", msgs)
	}
}

func TestAskReturnsSecondAnswerEvenIfStillBanned(t *testing.T) {
	fb := &fakeBackend{replies: []string{"これは", "まだ日本語"}}
	ts := httptest.NewServer(fb)
	defer ts.Close()

	got, err := NewClient(ts.URL, "m", 5*time.Second).Ask(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if got != "まだ日本語" {
		t.Fatalf("Ask() = %q, want unconditional second answer", got)
	}
	if n := len(fb.calls()); n != 2 {
		t.Fatalf("backend calls = %d, want exactly 2", n)
	}
}

func TestAskNonSuccessStatusIsBackendError(t *testing.T) {
	fb := &fakeBackend{status: http.StatusServiceUnavailable}
	ts := httptest.NewServer(fb)
	defer ts.Close()

	_, err := NewClient(ts.URL, "m", 5*time.Second).Ask(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("error = %v, want *BackendError", err)
	}
	if be.Status != http.StatusServiceUnavailable || !be.Transient() {
		t.Fatalf("unexpected backend error: %+v", be)
	}
	if !strings.Contains(be.Error(), "backend overloaded") {
		t.Fatalf("Error() = %q, want body detail", be.Error())
	}
}

func TestAskMissingContentIsBackendError(t *testing.T) {
	for _, raw := range []string{`{"choices":[]}`, `{"choices":[{"message":{}}]}`, `not json`} {
		fb := &fakeBackend{raw: raw}
		ts := httptest.NewServer(fb)
		_, err := NewClient(ts.URL, "m", 5*time.Second).Ask(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
		ts.Close()
		if !IsBackendError(err) {
			t.Fatalf("body %q: error = %v, want backend error", raw, err)
		}
	}
}

func TestAskTimeoutIsBackendError(t *testing.T) {
	fb := &fakeBackend{replies: []string{"늦은 답"}, delay: 2 * time.Second}
	ts := httptest.NewServer(fb)
	defer ts.Close()

	start := time.Now()
	_, err := NewClient(ts.URL, "m", 100*time.Millisecond).Ask(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	if !IsBackendError(err) {
		t.Fatalf("error = %v, want backend error", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Ask() did not honor the per-call timeout")
	}
}

func TestAskUnreachableBackend(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := NewClient(url, "m", time.Second).Ask(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	var be *BackendError
	if !errors.As(err, &be) || be.Status != 0 || !be.Transient() {
		t.Fatalf("error = %v, want transport BackendError", err)
	}
}
