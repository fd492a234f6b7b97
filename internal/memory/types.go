package memory

import (
	"context"
	"errors"
	"time"
)

// Role identifies the speaker of a persisted turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one persisted conversational message.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Backend is the raw key-value store behind a session history handle.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

var ErrUnsupportedScheme = errors.New("unsupported session store scheme")

// HistoryKey is the store key holding a session's turns.
func HistoryKey(sessionID string) string {
	return "chat:history:" + sessionID
}

// Truncate keeps the most recent max turns in chronological order.
func Truncate(turns []Turn, max int) []Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	out := make([]Turn, max)
	copy(out, turns[len(turns)-max:])
	return out
}

func validRole(r Role) bool {
	return r == RoleUser || r == RoleAssistant
}
