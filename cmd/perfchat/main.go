package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/chatbot/internal/protocol"
)

type options struct {
	baseURL        string
	sessionID      string
	turns          int
	startDelay     time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	resetFirst     bool
	verbose        bool
}

type wsEnvelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Answer    string `json:"answer,omitempty"`
}

type turnResult struct {
	latency time.Duration
	failed  bool
}

var defaultUtterances = []string{
	"오늘 금 시세 요약해줘.",
	"최근 환율 관련 뉴스 알려줘.",
	"그럼 다음 주 전망은?",
	"한 문장으로 정리해줘.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var startDelayMS int
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8000", "chat server base URL")
	flag.StringVar(&cfg.sessionID, "session-id", "", "session_id for replayed turns (random when empty)")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flag.IntVar(&startDelayMS, "start-delay-ms", 200, "delay before first turn in milliseconds")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 120000, "timeout waiting for a reply per turn in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.resetFirst, "reset", true, "send /reset before replaying")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	return normalizeOptions(cfg, textsRaw, startDelayMS, interTurnMS, turnTimeoutMS)
}

func normalizeOptions(cfg options, textsRaw string, startDelayMS, interTurnMS, turnTimeoutMS int) (options, error) {
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if strings.TrimSpace(cfg.sessionID) == "" {
		cfg.sessionID = "perf-" + uuid.NewString()
	}
	if startDelayMS < 0 {
		startDelayMS = 0
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.startDelay = time.Duration(startDelayMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	cfg.texts = nil
	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			t := strings.TrimSpace(part)
			if t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	wsURL, err := wsURLForChat(cfg.baseURL, cfg.sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if cfg.verbose {
		fmt.Printf("perfchat: session=%s turns=%d\n", cfg.sessionID, cfg.turns)
	}
	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}

	replyCh := make(chan wsEnvelope, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, replyCh, readErrCh)

	if cfg.resetFirst {
		if _, err := exchange(conn, cfg.sessionID, "/reset", replyCh, readErrCh, cfg.turnTimeout); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}

	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		start := time.Now()
		reply, err := exchange(conn, cfg.sessionID, text, replyCh, readErrCh, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		res := turnResult{latency: time.Since(start), failed: reply.Type == string(protocol.TypeErrorEvent)}
		results = append(results, res)
		if cfg.verbose {
			if res.failed {
				fmt.Fprintf(os.Stderr, "perfchat: turn %d/%d error_event code=%s detail=%s\n", i+1, cfg.turns, reply.Code, reply.Detail)
			} else {
				fmt.Printf("perfchat: turn %d/%d latency=%s answer_runes=%d\n", i+1, cfg.turns, res.latency.Round(time.Millisecond), len([]rune(reply.Answer)))
			}
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	fmt.Println(summarize(results))

	snapshot, err := fetchPerfSnapshot(ctx, &http.Client{Timeout: 10 * time.Second}, cfg.baseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: fetch server stages: %v\n", err)
		return nil
	}
	fmt.Printf("perfchat: server stages %s\n", snapshot)
	return nil
}

func wsURLForChat(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, replyCh chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(protocol.TypeChatReply), string(protocol.TypeErrorEvent):
			replyCh <- env
		}
	}
}

// exchange sends one message and waits for its reply. The server answers
// messages on a socket in order, so the next reply belongs to this message.
func exchange(conn *websocket.Conn, sessionID, text string, replyCh <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration) (wsEnvelope, error) {
	msg := protocol.ChatMessage{
		Type:      protocol.TypeChatMessage,
		SessionID: sessionID,
		Message:   text,
	}
	if err := conn.WriteJSON(msg); err != nil {
		return wsEnvelope{}, fmt.Errorf("send: %w", err)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-replyCh:
		return reply, nil
	case err := <-readErrCh:
		return wsEnvelope{}, fmt.Errorf("ws read: %w", err)
	case <-timer.C:
		return wsEnvelope{}, fmt.Errorf("timeout after %s", timeout)
	}
}

func summarize(results []turnResult) string {
	if len(results) == 0 {
		return "perfchat: no turns"
	}
	latencies := make([]time.Duration, 0, len(results))
	failures := 0
	for _, r := range results {
		if r.failed {
			failures++
			continue
		}
		latencies = append(latencies, r.latency)
	}
	if len(latencies) == 0 {
		return fmt.Sprintf("perfchat: turns=%d failures=%d", len(results), failures)
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	return fmt.Sprintf("perfchat: turns=%d failures=%d p50=%s p95=%s max=%s",
		len(results),
		failures,
		percentile(latencies, 0.50).Round(time.Millisecond),
		percentile(latencies, 0.95).Round(time.Millisecond),
		latencies[len(latencies)-1].Round(time.Millisecond),
	)
}

// percentile expects sorted input and uses nearest-rank.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted))+0.999999) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func fetchPerfSnapshot(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return "", err
	}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}
