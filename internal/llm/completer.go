package llm

import "context"

// Completer is the interface the orchestrator drives completions through.
type Completer interface {
	// SupportsFunctionCalling reports whether the backend accepts tool
	// schemas. When false the orchestrator operates in plain streaming
	// mode with no tool interception.
	SupportsFunctionCalling() bool

	// StreamCompletion streams a chat completion. Text tokens are
	// delivered through cb as they arrive; complete tool calls are
	// delivered after the text stream ends. The implementation must
	// release the underlying stream on every exit path.
	StreamCompletion(ctx context.Context, messages []Message, system string, tools []map[string]any, cb StreamCallback) error
}
