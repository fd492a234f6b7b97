package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Role tags an audit record.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// Record is one line of the chat audit log.
type Record struct {
	Timestamp time.Time      `json:"ts"`
	RequestID string         `json:"request_id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Recorder appends audit records.
type Recorder interface {
	Record(rec Record) error
}

// Logger appends records to a newline-delimited JSON file. Every append holds
// an exclusive flock on the file for the write and fsync, so several
// processes may share one log.
type Logger struct {
	path    string
	enabled bool
	now     func() time.Time

	mu sync.Mutex
}

func NewLogger(path string, enabled bool) *Logger {
	return &Logger{
		path:    path,
		enabled: enabled && path != "",
		now:     time.Now,
	}
}

// Enabled reports whether Record writes anything.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Logger) Record(rec Record) error {
	if !l.Enabled() {
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}

	line, err := encodeLine(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create audit dir: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	return appendLocked(f, line)
}

func appendLocked(f *os.File, line []byte) error {
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock audit log: %w", err)
	}
	defer func() { _ = unix.Flock(fd, unix.LOCK_UN) }()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	return nil
}

func encodeLine(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// Keep Korean text and "<", ">" readable in the log.
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	// Encoder.Encode already terminates the object with '\n'.
	return buf.Bytes(), nil
}
