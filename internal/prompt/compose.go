// Package prompt turns the policy preamble, session history, evidence and the
// new user input into the message sequence sent to the model backend.
package prompt

import (
	"fmt"
	"strings"

	"github.com/ent0n29/chatbot/internal/evidence"
	"github.com/ent0n29/chatbot/internal/llm"
	"github.com/ent0n29/chatbot/internal/memory"
)

const (
	EvidenceHeader   = "아래 근거를 참고해서 답해."
	priceHeader      = "[가격 요약]"
	newsHeader       = "[관련 뉴스 근거]"
	untitledSnippet  = "(제목 없음)"
	maxNewsSnippets  = 5
	snippetMetaSplit = " · "
)

// Compose builds the message sequence in fixed order: policy, evidence,
// history, then the new user message.
func Compose(policy string, history []memory.Turn, bundle evidence.Bundle, userMessage string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+3)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: policy})

	if text := RenderEvidence(bundle); text != "" {
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: EvidenceHeader + "\n\n" + text,
		})
	}

	for _, turn := range history {
		switch turn.Role {
		case memory.RoleUser:
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: turn.Content})
		case memory.RoleAssistant:
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: turn.Content})
		}
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userMessage})
	return messages
}

// RenderEvidence returns the evidence text, or "" when the bundle has
// neither a price summary nor news snippets.
func RenderEvidence(bundle evidence.Bundle) string {
	var parts []string

	if summary := strings.TrimSpace(bundle.Price.Summary); summary != "" {
		parts = append(parts, priceHeader+"\n"+summary)
	}

	if len(bundle.News.Snippets) > 0 {
		lines := []string{newsHeader}
		snippets := bundle.News.Snippets
		if len(snippets) > maxNewsSnippets {
			snippets = snippets[:maxNewsSnippets]
		}
		for i, s := range snippets {
			lines = append(lines, renderSnippet(i+1, s))
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

func renderSnippet(index int, s evidence.Snippet) string {
	title := strings.TrimSpace(s.Title)
	if title == "" {
		title = untitledSnippet
	}
	head := fmt.Sprintf("%d) %s", index, title)

	var meta []string
	for _, v := range []string{strings.TrimSpace(s.Date), strings.TrimSpace(s.Source)} {
		if v != "" {
			meta = append(meta, v)
		}
	}
	if len(meta) > 0 {
		head += " (" + strings.Join(meta, snippetMetaSplit) + ")"
	}

	if text := strings.TrimSpace(s.Text); text != "" {
		return head + "\n- " + text
	}
	return head
}
