package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// Handle is a per-request view of the session store. The zero value is the
// Absent variant; every operation on it is an inert no-op.
type Handle struct {
	backend Backend
}

// Absent returns the handle used when no session store is usable.
func Absent() Handle { return Handle{} }

// Live wraps a reachable backend.
func Live(b Backend) Handle { return Handle{backend: b} }

func (h Handle) Live() bool { return h.backend != nil }

// Read returns the stored turns for sessionID. Missing keys, corrupt values
// and entries that are not {role: user|assistant, content: string} all read
// as absent.
func (h Handle) Read(ctx context.Context, sessionID string) []Turn {
	if h.backend == nil {
		return nil
	}
	raw, ok, err := h.backend.Get(ctx, HistoryKey(sessionID))
	if err != nil {
		log.Printf("session history read failed session=%s: %v", sessionID, err)
		return nil
	}
	if !ok || len(raw) == 0 {
		return nil
	}
	return decodeTurns(raw)
}

// Write replaces the stored turns for sessionID and sets the expiry. It
// reports false when the handle is Absent or the store rejects the write.
func (h Handle) Write(ctx context.Context, sessionID string, turns []Turn, ttl time.Duration) bool {
	if h.backend == nil {
		return false
	}
	if turns == nil {
		turns = []Turn{}
	}
	raw, err := json.Marshal(turns)
	if err != nil {
		return false
	}
	if err := h.backend.Set(ctx, HistoryKey(sessionID), raw, ttl); err != nil {
		log.Printf("session history write failed session=%s: %v", sessionID, err)
		return false
	}
	return true
}

// Clear deletes the stored turns for sessionID.
func (h Handle) Clear(ctx context.Context, sessionID string) bool {
	if h.backend == nil {
		return false
	}
	if err := h.backend.Del(ctx, HistoryKey(sessionID)); err != nil {
		log.Printf("session history clear failed session=%s: %v", sessionID, err)
		return false
	}
	return true
}

func decodeTurns(raw []byte) []Turn {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]Turn, 0, len(items))
	for _, item := range items {
		var entry struct {
			Role    *string `json:"role"`
			Content *string `json:"content"`
		}
		if err := json.Unmarshal(item, &entry); err != nil {
			continue
		}
		if entry.Role == nil || entry.Content == nil {
			continue
		}
		role := Role(*entry.Role)
		if !validRole(role) {
			continue
		}
		out = append(out, Turn{Role: role, Content: *entry.Content})
	}
	return out
}

// Connector resolves the configured session store once and hands out a
// probed Handle per request.
type Connector struct {
	backend Backend
	timeout time.Duration
	reason  string
}

// NewConnector never fails: an empty or unusable url yields a connector whose
// handles are always Absent.
//
// Supported urls: redis://, rediss://, unix:// and memory:// (process-local).
func NewConnector(url string, timeout time.Duration) *Connector {
	c := &Connector{timeout: timeout}
	url = strings.TrimSpace(url)
	if url == "" {
		c.reason = "REDIS_URL is not set"
		return c
	}
	backend, err := newBackend(url, timeout)
	if err != nil {
		c.reason = err.Error()
		log.Printf("session store disabled: %v", err)
		return c
	}
	c.backend = backend
	return c
}

// NewConnectorWithBackend is used for tests and embedding.
func NewConnectorWithBackend(b Backend, timeout time.Duration) *Connector {
	return &Connector{backend: b, timeout: timeout}
}

func newBackend(url string, timeout time.Duration) (Backend, error) {
	scheme, _, _ := strings.Cut(url, "://")
	switch strings.ToLower(scheme) {
	case "redis", "rediss", "unix":
		return NewRedisBackend(url, timeout)
	case "memory":
		return NewInMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, scheme)
	}
}

// Configured reports whether a backend was resolved at startup.
func (c *Connector) Configured() bool {
	return c != nil && c.backend != nil
}

// Reason explains why the connector has no backend.
func (c *Connector) Reason() string {
	if c == nil {
		return ""
	}
	return c.reason
}

// Connect probes the backend with the connector's timeout. Any failure,
// including a timeout, yields Absent.
func (c *Connector) Connect(ctx context.Context) Handle {
	if c == nil || c.backend == nil {
		return Absent()
	}
	probeCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.backend.Ping(probeCtx); err != nil {
		log.Printf("session store unavailable: %v", err)
		return Absent()
	}
	return Live(c.backend)
}

func (c *Connector) Close() error {
	if c == nil || c.backend == nil {
		return nil
	}
	return c.backend.Close()
}
