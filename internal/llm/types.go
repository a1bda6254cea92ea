// Package llm provides the streaming completion adapter for
// OpenAI-compatible endpoints.
package llm

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
	Name       string     `json:"name,omitempty"`         // Tool name on tool responses
}

// ToolCall represents one complete tool invocation requested by the
// model. During streaming it is assembled from indexed fragments; a
// ToolCall is only emitted once the stream has ended and the
// accumulated function name is non-empty.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function" on the wire
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its arguments. Arguments
// is the raw JSON string exactly as streamed — fragments are
// concatenated in arrival order and never reparsed here. Decoding is
// the caller's concern.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// StreamEvent represents a single event in a streaming response.
// Consumers switch on Kind to determine what data is available.
type StreamEvent struct {
	Kind StreamEventKind

	// Token is set for KindToken events.
	Token string

	// ToolCall is set for KindToolCall events.
	ToolCall *ToolCall
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindToken is an incremental text token from the model.
	KindToken StreamEventKind = iota

	// KindToolCall is a complete aggregated tool call. These are only
	// delivered after the text stream has finished.
	KindToolCall
)

// StreamCallback receives streaming events.
type StreamCallback func(event StreamEvent)
