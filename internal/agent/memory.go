package agent

import (
	"sync"

	"github.com/mivra/kotori-agent/internal/llm"
)

// Memory is the append-only conversation history shared across turns.
// Every assistant message that carries tool calls must be followed by
// one tool message per call before the next completion request, which
// the orchestrator guarantees by appending results in call order.
type Memory struct {
	mu       sync.Mutex
	messages []llm.Message
}

// NewMemory creates an empty conversation history.
func NewMemory() *Memory {
	return &Memory{}
}

// Append adds messages to the history.
func (m *Memory) Append(msgs ...llm.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msgs...)
}

// Messages returns a copy of the history.
func (m *Memory) Messages() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of stored messages.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// PendingToolCallIDs returns the IDs of tool calls in the last
// assistant message that have no matching tool result yet. An empty
// result means the history is ready for the next completion request.
func (m *Memory) PendingToolCallIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	answered := map[string]bool{}
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.Role == "tool" {
			answered[msg.ToolCallID] = true
			continue
		}
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			var pending []string
			for _, call := range msg.ToolCalls {
				if !answered[call.ID] {
					pending = append(pending, call.ID)
				}
			}
			return pending
		}
		return nil
	}
	return nil
}
