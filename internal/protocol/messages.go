package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatMessage MessageType = "chat_message"
	TypeChatReply   MessageType = "chat_reply"
	TypeErrorEvent  MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatMessage is one user turn sent by a websocket client.
type ChatMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Message   string      `json:"message"`
}

// ChatReply carries a completed orchestrator outcome.
type ChatReply struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	RequestID string      `json:"request_id"`
	Answer    string      `json:"answer"`
	Meta      any         `json:"meta"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (ChatMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ChatMessage{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return ChatMessage{}, err
		}
		if strings.TrimSpace(msg.Message) == "" {
			return ChatMessage{}, errors.New("invalid chat_message: empty message")
		}
		return msg, nil
	default:
		return ChatMessage{}, ErrUnsupportedType
	}
}
