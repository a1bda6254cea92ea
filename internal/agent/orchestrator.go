// Package agent runs conversation turns: it streams completions,
// routes tool calls to the registry, and feeds results back to the
// model until the turn produces a final text response.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/mivra/kotori-agent/internal/llm"
	"github.com/mivra/kotori-agent/internal/mcp"
)

// depthFallback ends a turn when the model keeps requesting tools past
// the depth budget.
const depthFallback = "I've reached the maximum number of tool calls. Let me summarize what I found so far."

// defaultMaxToolDepth bounds tool rounds per turn when unconfigured.
const defaultMaxToolDepth = 5

// toolExecutor is the part of the registry the orchestrator uses.
type toolExecutor interface {
	SchemasForModel() []map[string]any
	Execute(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error)
}

// Orchestrator drives one conversation turn at a time against a
// completion backend and a tool registry.
type Orchestrator struct {
	completer    llm.Completer
	tools        toolExecutor
	memory       *Memory
	logger       *slog.Logger
	systemPrompt string
	maxDepth     int
}

// Options configures an Orchestrator.
type Options struct {
	SystemPrompt string
	// MaxToolDepth bounds tool rounds per turn. Zero means the default.
	MaxToolDepth int
	Logger       *slog.Logger
}

// NewOrchestrator creates an orchestrator over the given backend and
// registry. The registry may be nil when no tool servers are
// configured.
func NewOrchestrator(completer llm.Completer, tools toolExecutor, memory *Memory, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxDepth := opts.MaxToolDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxToolDepth
	}
	if memory == nil {
		memory = NewMemory()
	}
	return &Orchestrator{
		completer:    completer,
		tools:        tools,
		memory:       memory,
		logger:       logger,
		systemPrompt: opts.SystemPrompt,
		maxDepth:     maxDepth,
	}
}

// Memory exposes the conversation history.
func (o *Orchestrator) Memory() *Memory {
	return o.memory
}

// Run executes one turn: the user input is appended to memory, then
// completions stream until the model answers without tool calls or the
// depth budget runs out. Text tokens are forwarded to cb as they
// arrive. Tool failures never end the turn; the failure is reported to
// the model as a structured result and the loop continues.
func (o *Orchestrator) Run(ctx context.Context, input string, cb llm.StreamCallback) error {
	logger := o.logger.With("turn", uuid.NewString())
	logger.Debug("turn started", "input_len", len(input))

	o.memory.Append(llm.Message{Role: "user", Content: input})

	schemas := o.toolSchemas()

	for depth := 0; depth < o.maxDepth; depth++ {
		text, calls, err := o.streamOnce(ctx, schemas, cb)
		if err != nil {
			return err
		}

		if len(calls) == 0 {
			o.memory.Append(llm.Message{Role: "assistant", Content: text})
			logger.Debug("turn finished", "depth", depth)
			return nil
		}

		o.memory.Append(llm.Message{
			Role:      "assistant",
			Content:   text,
			ToolCalls: calls,
		})

		for _, call := range calls {
			o.memory.Append(o.executeCall(ctx, logger, call))
		}
	}

	// The model is still asking for tools with the budget spent; answer
	// with the fixed wrap-up line instead of another round.
	logger.Warn("tool depth budget exhausted", "max_depth", o.maxDepth)
	cb(llm.StreamEvent{Kind: llm.KindToken, Token: depthFallback})
	o.memory.Append(llm.Message{Role: "assistant", Content: depthFallback})
	return nil
}

// toolSchemas returns the function schemas to offer the model, or nil
// when tools are unavailable or unsupported.
func (o *Orchestrator) toolSchemas() []map[string]any {
	if o.tools == nil || !o.completer.SupportsFunctionCalling() {
		return nil
	}
	schemas := o.tools.SchemasForModel()
	if len(schemas) == 0 {
		return nil
	}
	return schemas
}

// streamOnce runs one completion, forwarding tokens to cb and
// collecting the accumulated text and any tool calls.
func (o *Orchestrator) streamOnce(ctx context.Context, schemas []map[string]any, cb llm.StreamCallback) (string, []llm.ToolCall, error) {
	var text strings.Builder
	var calls []llm.ToolCall

	err := o.completer.StreamCompletion(ctx, o.memory.Messages(), o.systemPrompt, schemas, func(ev llm.StreamEvent) {
		switch ev.Kind {
		case llm.KindToken:
			text.WriteString(ev.Token)
			cb(ev)
		case llm.KindToolCall:
			if ev.ToolCall != nil {
				calls = append(calls, *ev.ToolCall)
			}
		}
	})
	if err != nil {
		return "", nil, fmt.Errorf("completion: %w", err)
	}
	return text.String(), calls, nil
}

// executeCall runs one tool call and renders its outcome as the tool
// message the model sees next round. Failures become a structured
// error payload rather than an error return.
func (o *Orchestrator) executeCall(ctx context.Context, logger *slog.Logger, call llm.ToolCall) llm.Message {
	msg := llm.Message{
		Role:       "tool",
		ToolCallID: call.ID,
		Name:       call.Function.Name,
	}

	args, err := parseArguments(call.Function.Arguments)
	if err != nil {
		logger.Warn("malformed tool arguments",
			"tool", call.Function.Name,
			"error", err,
		)
		msg.Content = errorPayload(fmt.Sprintf("invalid arguments: %v", err))
		return msg
	}

	if o.tools == nil {
		msg.Content = errorPayload(fmt.Sprintf("no tool servers are configured, cannot run %s", call.Function.Name))
		return msg
	}

	result, err := o.tools.Execute(ctx, call.Function.Name, args)
	if err != nil {
		logger.Warn("tool execution failed",
			"tool", call.Function.Name,
			"error", err,
		)
		msg.Content = errorPayload(describeFailure(call.Function.Name, err))
		return msg
	}

	if result.IsError {
		msg.Content = errorPayload(result.Content)
		return msg
	}

	msg.Content = result.Content
	return msg
}

// parseArguments decodes the model's argument JSON. Models sometimes
// emit truncated or slightly invalid JSON; a repair pass salvages
// those before giving up.
func parseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("unparseable arguments %q: %w", raw, err)
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("unparseable arguments %q: %w", raw, err)
	}
	return args, nil
}

// errorPayload renders an error description as the JSON object tool
// messages carry for failures.
func errorPayload(description string) string {
	payload, err := json.Marshal(map[string]string{"error": description})
	if err != nil {
		return `{"error":"internal error"}`
	}
	return string(payload)
}

// describeFailure turns a transport-level execution error into a
// description the model can relay to the user in plain language.
func describeFailure(tool string, err error) string {
	s := err.Error()
	switch {
	case strings.Contains(s, "context deadline exceeded"):
		return fmt.Sprintf("%s timed out; the tool took too long to respond", tool)
	case strings.Contains(s, "connection refused"), strings.Contains(s, "connection lost"):
		return fmt.Sprintf("%s is unreachable; its server may be down", tool)
	case strings.Contains(s, "unknown tool"):
		return fmt.Sprintf("%s is not available", tool)
	default:
		return s
	}
}
