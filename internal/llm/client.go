package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/chatbot/internal/policy"
	"github.com/ent0n29/chatbot/internal/reliability"
)

// Decoding parameters sent with every completion request.
const (
	Temperature = 0.4
	TopP        = 0.8
	MaxTokens   = 400
)

const completionsPath = "/v1/chat/completions"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// BackendError reports an unusable model backend response.
type BackendError struct {
	// Status is the HTTP status, or 0 when the request never got a response.
	Status int
	Detail string
	Err    error
}

func (e *BackendError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("model backend status %d: %s", e.Status, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("model backend: %s: %v", e.Detail, e.Err)
	default:
		return "model backend: " + e.Detail
	}
}

func (e *BackendError) Unwrap() error { return e.Err }

// Transient reports whether the failure looks like backend overload or a
// network fault rather than a bad request or a broken response.
func (e *BackendError) Transient() bool {
	if e.Status != 0 {
		return reliability.IsRetryableHTTPStatus(e.Status)
	}
	return e.Err != nil
}

// Observer receives per-call telemetry. Any method may be a no-op.
type Observer interface {
	ObserveBackendCall(d time.Duration, err error)
	ObserveScriptRetry()
}

// Client calls an OpenAI-compatible chat completions endpoint (vLLM).
type Client struct {
	baseURL  string
	model    string
	timeout  time.Duration
	http     *http.Client
	observer Observer
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithObserver(o Observer) Option {
	return func(cl *Client) { cl.observer = o }
}

// NewClient builds a client. timeout bounds each backend call on its own.
func NewClient(baseURL, model string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:   model,
		timeout: timeout,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Model() string { return c.model }

// Ask sends messages and returns the completion text. When the answer
// contains Chinese or Japanese script it asks once more with a corrective
// system message and returns the second answer as-is.
func (c *Client) Ask(ctx context.Context, messages []Message) (string, error) {
	answer, err := c.complete(ctx, messages)
	if err != nil {
		return "", err
	}
	if !policy.ContainsBannedScript(answer) {
		return answer, nil
	}

	if c.observer != nil {
		c.observer.ObserveScriptRetry()
	}
	retry := make([]Message, 0, len(messages)+1)
	retry = append(retry, messages...)
	retry = append(retry, Message{Role: RoleSystem, Content: policy.CorrectiveInstruction})
	return c.complete(ctx, retry)
}

func (c *Client) complete(ctx context.Context, messages []Message) (string, error) {
	start := time.Now()
	text, err := c.post(ctx, messages)
	if c.observer != nil {
		c.observer.ObserveBackendCall(time.Since(start), err)
	}
	return text, err
}

func (c *Client) post(ctx context.Context, messages []Message) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: Temperature,
		TopP:        TopP,
		MaxTokens:   MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return "", &BackendError{Detail: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return "", &BackendError{Detail: "send request", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &BackendError{Status: res.StatusCode, Detail: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", &BackendError{Detail: "read response", Err: err}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &BackendError{Detail: "decode response", Err: err}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == nil {
		return "", &BackendError{Detail: "response missing choices[0].message.content"}
	}
	return *parsed.Choices[0].Message.Content, nil
}

// IsBackendError reports whether err came from the model backend.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
