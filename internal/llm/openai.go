package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mivra/kotori-agent/internal/config"
	"github.com/mivra/kotori-agent/internal/httpkit"
)

// Fixed user-facing texts for upstream failures. Only these two kinds
// are ever surfaced to the user; everything else is resolved silently.
const (
	connectionApology = "Error calling the chat endpoint: Connection error. Failed to connect to the LLM API. Check the configurations and the reachability of the LLM backend. See the logs for details."
	rateLimitApology  = "Error calling the chat endpoint: Rate limit exceeded. Please try again later. See the logs for details."
	genericApology    = "Error calling the chat endpoint: Error occurred while generating response. See the logs for details."
)

// OpenAIClient streams chat completions from an OpenAI-compatible
// endpoint (/chat/completions with stream=true).
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewOpenAIClient creates a streaming client for the configured endpoint.
func NewOpenAIClient(cfg config.LLMConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger.With("provider", "openai", "model", cfg.Model),
		httpClient: httpkit.NewClient(
			// No global timeout — streaming responses can be long-lived.
			// Rely on ctx deadlines/cancellation for timeout control.
			httpkit.WithTimeout(0),
			// The model may think for a while before the first byte.
			httpkit.WithResponseHeaderTimeout(120*time.Second),
		),
	}
}

// SupportsFunctionCalling reports tool-schema support. OpenAI-compatible
// endpoints generally accept the tools parameter; ones that don't are
// handled by the retry-without-tools path in StreamCompletion.
func (c *OpenAIClient) SupportsFunctionCalling() bool {
	return true
}

// Request/response wire types for the chat completions API.

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Stream      bool             `json:"stream"`
	Temperature float64          `json:"temperature,omitempty"`
	Tools       []map[string]any `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
}

type chatChunk struct {
	Choices []chunkChoice `json:"choices"`
}

type chunkChoice struct {
	Delta        chunkDelta `json:"delta"`
	FinishReason string     `json:"finish_reason"`
}

type chunkDelta struct {
	Content   string             `json:"content"`
	ToolCalls []toolCallFragment `json:"tool_calls"`
}

// toolCallFragment is one partial tool call from a stream chunk. The
// id and name typically arrive on the first fragment for an index;
// arguments arrive as stringified JSON split across many fragments.
type toolCallFragment struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// pendingCall accumulates fragments for one tool-call index.
type pendingCall struct {
	id   string
	name strings.Builder
	args strings.Builder
}

// StreamCompletion streams a completion for the given conversation.
// Text deltas are forwarded through cb immediately; tool-call
// fragments are aggregated per index and emitted as complete ToolCall
// events once the stream ends, in ascending index order, skipping any
// index whose accumulated name is empty.
//
// Failure handling follows a strict policy: connectivity failures and
// rate limits become a single fixed apology token (the turn ends as
// plain text); any other rejection with tool schemas supplied is
// retried once without them before an apology is surfaced.
func (c *OpenAIClient) StreamCompletion(ctx context.Context, messages []Message, system string, tools []map[string]any, cb StreamCallback) error {
	resp, err := c.open(ctx, messages, system, tools)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Error("chat endpoint unreachable", "error", err)
		cb(StreamEvent{Kind: KindToken, Token: connectionApology})
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		body := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("chat endpoint rate limited", "body", body)
		cb(StreamEvent{Kind: KindToken, Token: rateLimitApology})
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("chat endpoint error", "status", resp.StatusCode, "body", body)

		if len(tools) > 0 {
			// The provider may have rejected the tool schemas. Retry
			// once without them; the turn continues silently as plain
			// streaming.
			c.logger.Warn("retrying completion without tool schemas")
			return c.StreamCompletion(ctx, messages, system, nil, cb)
		}

		cb(StreamEvent{Kind: KindToken, Token: genericApology})
		return nil
	}

	return c.consume(ctx, resp, cb)
}

// open issues the streaming POST. The caller owns the response body.
func (c *OpenAIClient) open(ctx context.Context, messages []Message, system string, tools []map[string]any) (*http.Response, error) {
	full := messages
	if system != "" {
		full = append([]Message{{Role: "system", Content: system}}, messages...)
	}

	req := chatRequest{
		Model:       c.model,
		Messages:    full,
		Stream:      true,
		Temperature: c.temperature,
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	return c.httpClient.Do(httpReq)
}

// consume reads the SSE stream, forwarding text deltas and aggregating
// tool-call fragments. The response body is closed on every exit path;
// cancelling ctx aborts the underlying read.
func (c *OpenAIClient) consume(ctx context.Context, resp *http.Response, cb StreamCallback) error {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	pending := make(map[int]*pendingCall)
	tokens := 0

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip malformed events
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			tokens++
			cb(StreamEvent{Kind: KindToken, Token: delta.Content})
		}

		for _, frag := range delta.ToolCalls {
			p := pending[frag.Index]
			if p == nil {
				p = &pendingCall{id: frag.ID}
				pending[frag.Index] = p
			}
			p.name.WriteString(frag.Function.Name)
			p.args.WriteString(frag.Function.Arguments)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Error("stream read failed", "error", err)
		cb(StreamEvent{Kind: KindToken, Token: connectionApology})
		return nil
	}

	// Emit complete tool calls in index order now that the stream has
	// ended. Indexes whose accumulated name is empty are dropped.
	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		p := pending[idx]
		name := p.name.String()
		if name == "" {
			continue
		}

		id := p.id
		if id == "" {
			id = fmt.Sprintf("call_%d_%s", idx, name)
			c.logger.Debug("generated tool call id", "id", id)
		}

		cb(StreamEvent{Kind: KindToolCall, ToolCall: &ToolCall{
			ID:   id,
			Type: "function",
			Function: FunctionCall{
				Name:      name,
				Arguments: p.args.String(),
			},
		}})
	}

	c.logger.Debug("stream complete", "text_deltas", tokens, "tool_calls", len(indexes))
	return nil
}
