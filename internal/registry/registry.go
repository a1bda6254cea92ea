// Package registry connects to configured capability servers,
// aggregates their tools under namespaced names, and routes tool
// executions back to the owning server.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mivra/kotori-agent/internal/config"
	"github.com/mivra/kotori-agent/internal/mcp"
)

// toolClient is the part of the protocol client the registry uses.
type toolClient interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error)
	Close() error
}

// entry is one registered tool: its owning server, original name, and
// schema as advertised by the server.
type entry struct {
	server      string
	name        string
	description string
	schema      json.RawMessage
}

// Manager owns the connections to all configured capability servers
// and the namespaced tool table built from them.
type Manager struct {
	logger *slog.Logger

	// newClient builds a protocol client for a server config. Swapped
	// in tests.
	newClient func(name string, cfg config.ServerConfig) (toolClient, error)

	mu      sync.Mutex
	clients map[string]toolClient
	order   []string // connect order, for reverse shutdown
	tools   map[string]entry
	names   []string // registration order of namespaced tool names
	configs map[string]config.ServerConfig
}

// NewManager creates a manager for the given server configurations.
// Call Initialize to connect and populate the tool table.
func NewManager(configs map[string]config.ServerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:  logger,
		clients: make(map[string]toolClient),
		tools:   make(map[string]entry),
		configs: configs,
	}
	m.newClient = m.buildClient
	return m
}

// buildClient constructs the transport and protocol client for one
// server config.
func (m *Manager) buildClient(name string, cfg config.ServerConfig) (toolClient, error) {
	logger := m.logger.With("server", name)
	switch cfg.Type {
	case "stdio", "":
		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio server requires a command")
		}
		transport := mcp.NewStdioTransport(mcp.StdioConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
			Logger:  logger,
		})
		return mcp.NewClient(transport, logger), nil
	case "websocket":
		if cfg.URL == "" {
			return nil, fmt.Errorf("websocket server requires a url")
		}
		transport := mcp.NewWSTransport(mcp.WSConfig{
			URL:              cfg.URL,
			Headers:          cfg.Headers,
			HandshakeTimeout: cfg.ConnectTimeout(),
			Logger:           logger,
		})
		return mcp.NewClient(transport, logger), nil
	default:
		return nil, fmt.Errorf("unknown server type %q", cfg.Type)
	}
}

// Initialize connects to every configured server and registers its
// tools under "<server>.<tool>" names. A server that fails to connect
// or list tools is logged and skipped; the remaining servers still
// register. Connect and list phases each run under their own timeout.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Deterministic connect order so shutdown order is stable too.
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := m.configs[name]
		if err := m.initServer(ctx, name, cfg); err != nil {
			m.logger.Warn("skipping capability server",
				"server", name,
				"error", err,
			)
		}
	}

	m.logger.Info("tool registry ready",
		"servers", len(m.clients),
		"tools", len(m.tools),
	)
	return nil
}

// initServer connects to one server and registers its tools. Caller
// must hold m.mu.
func (m *Manager) initServer(ctx context.Context, name string, cfg config.ServerConfig) error {
	client, err := m.newClient(name, cfg)
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	err = client.Initialize(connectCtx)
	cancel()
	if err != nil {
		client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listCtx, cancel := context.WithTimeout(ctx, cfg.ListTimeout())
	tools, err := client.ListTools(listCtx)
	cancel()
	if err != nil {
		client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	m.clients[name] = client
	m.order = append(m.order, name)

	for _, tool := range tools {
		namespaced := name + "." + tool.Name
		if _, exists := m.tools[namespaced]; exists {
			m.logger.Warn("duplicate tool registration", "tool", namespaced)
			continue
		}
		m.tools[namespaced] = entry{
			server:      name,
			name:        tool.Name,
			description: tool.Description,
			schema:      tool.InputSchema,
		}
		m.names = append(m.names, namespaced)
		m.logger.Debug("registered tool", "tool", namespaced)
	}
	return nil
}

// ToolNames returns the namespaced names of all registered tools in
// registration order.
func (m *Manager) ToolNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// SchemasForModel returns the registered tools in the function-calling
// schema shape the completion API expects. Tool names are namespaced.
func (m *Manager) SchemasForModel() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	schemas := make([]map[string]any, 0, len(m.names))
	for _, namespaced := range m.names {
		e := m.tools[namespaced]
		fn := map[string]any{
			"name":        namespaced,
			"description": e.description,
		}
		if len(e.schema) > 0 {
			var params any
			if err := json.Unmarshal(e.schema, &params); err == nil {
				fn["parameters"] = params
			}
		}
		schemas = append(schemas, map[string]any{
			"type":     "function",
			"function": fn,
		})
	}
	return schemas
}

// Execute routes a namespaced tool call to the owning server, invoking
// the tool under its original name with the server's call timeout.
func (m *Manager) Execute(ctx context.Context, namespaced string, args map[string]any) (*mcp.ToolResult, error) {
	m.mu.Lock()
	e, ok := m.tools[namespaced]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("unknown tool %q", namespaced)
	}
	client, connected := m.clients[e.server]
	cfg := m.configs[e.server]
	m.mu.Unlock()

	if !connected {
		return nil, fmt.Errorf("server %q is not connected", e.server)
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout())
	defer cancel()

	start := time.Now()
	result, err := client.CallTool(callCtx, e.name, args)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", namespaced, err)
	}

	m.logger.Debug("tool executed",
		"tool", namespaced,
		"duration", time.Since(start),
		"is_error", result.IsError,
	)
	return result, nil
}

// Shutdown closes all server connections in reverse connect order.
// Close failures are logged and do not stop the remaining closes.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		client, ok := m.clients[name]
		if !ok {
			continue
		}
		if err := client.Close(); err != nil {
			m.logger.Warn("error closing capability server",
				"server", name,
				"error", err,
			)
		}
		delete(m.clients, name)
	}
	m.order = nil
}
