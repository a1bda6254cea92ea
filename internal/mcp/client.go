package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mivra/kotori-agent/internal/buildinfo"
)

// protocolVersion is the MCP protocol revision this client speaks.
const protocolVersion = "2024-11-05"

// Tool describes a tool exposed by a capability server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolResult is the normalized outcome of a tool call. Text content
// blocks are joined with newlines; non-text blocks are represented by
// their type in brackets.
type ToolResult struct {
	// Content is the flattened text content of the result.
	Content string

	// IsError reports whether the server flagged the result as an
	// error. The content still carries the error description.
	IsError bool

	// Meta is the raw _meta field from the result, passed through
	// untouched for callers that understand server-specific metadata.
	Meta json.RawMessage
}

// Client is an MCP protocol client over a Transport. It handles the
// initialize handshake, tool listing, and tool invocation.
type Client struct {
	transport Transport
	logger    *slog.Logger
	nextID    atomic.Int64

	mu          sync.Mutex
	initialized bool
	tools       []Tool
}

// NewClient creates a protocol client over the given transport.
func NewClient(transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport: transport,
		logger:    logger,
	}
}

// initializeResult is the server's response to the initialize request.
type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

// Initialize performs the MCP handshake: an initialize request followed
// by a notifications/initialized notification. It is idempotent.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	req := NewRequest(c.nextID.Add(1), "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "kotori",
			"version": buildinfo.Version,
		},
	})

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize: %w", resp.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("initialize: decode result: %w", err)
	}

	c.logger.Info("capability server initialized",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion,
	)

	if err := c.transport.Notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	c.initialized = true
	return nil
}

// ListTools returns the tools exposed by the server. The list is
// fetched once and cached for the lifetime of the client.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tools != nil {
		return c.tools, nil
	}

	req := NewRequest(c.nextID.Add(1), "tools/list", nil)
	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("list tools: %w", resp.Error)
	}

	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("list tools: decode result: %w", err)
	}

	if result.Tools == nil {
		result.Tools = []Tool{}
	}
	c.tools = result.Tools
	return c.tools, nil
}

// contentBlock is one entry of a tool call result's content array.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// callToolResult is the wire shape of a tools/call response.
type callToolResult struct {
	Content []contentBlock  `json:"content"`
	IsError bool            `json:"isError,omitempty"`
	Meta    json.RawMessage `json:"_meta,omitempty"`
}

// CallTool invokes a tool by name with the given arguments and returns
// the normalized result. A protocol-level error (transport failure or
// JSON-RPC error object) is returned as err; a tool-level error is
// reported via ToolResult.IsError with the description in Content.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}

	req := NewRequest(c.nextID.Add(1), "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, resp.Error)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("call tool %s: decode result: %w", name, err)
	}

	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s]", block.Type))
	}

	return &ToolResult{
		Content: strings.Join(parts, "\n"),
		IsError: result.IsError,
		Meta:    result.Meta,
	}, nil
}

// Close shuts down the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}
