package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

// mockTransport records requests and returns canned responses keyed by
// method.
type mockTransport struct {
	requests      []*Request
	notifications []*Notification
	responses     map[string]*Response
	closed        bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{responses: map[string]*Response{}}
}

func (m *mockTransport) Send(_ context.Context, req *Request) (*Response, error) {
	m.requests = append(m.requests, req)
	resp, ok := m.responses[req.Method]
	if !ok {
		return &Response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: json.RawMessage(`{}`)}, nil
	}
	resp.ID = req.ID
	return resp, nil
}

func (m *mockTransport) Notify(_ context.Context, notif *Notification) error {
	m.notifications = append(m.notifications, notif)
	return nil
}

func (m *mockTransport) Close() error {
	m.closed = true
	return nil
}

func (m *mockTransport) respond(method, result string) {
	m.responses[method] = &Response{
		JSONRPC: jsonrpcVersion,
		Result:  json.RawMessage(result),
	}
}

func TestClientInitialize(t *testing.T) {
	mt := newMockTransport()
	mt.respond("initialize", `{"protocolVersion":"2024-11-05","serverInfo":{"name":"test-server","version":"1.0"}}`)

	c := NewClient(mt, nil)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if len(mt.requests) != 1 || mt.requests[0].Method != "initialize" {
		t.Fatalf("expected one initialize request, got %+v", mt.requests)
	}
	if len(mt.notifications) != 1 || mt.notifications[0].Method != "notifications/initialized" {
		t.Fatalf("expected initialized notification, got %+v", mt.notifications)
	}

	// Second call is a no-op.
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if len(mt.requests) != 1 {
		t.Fatalf("expected handshake to run once, got %d requests", len(mt.requests))
	}
}

func TestClientListToolsCached(t *testing.T) {
	mt := newMockTransport()
	mt.respond("tools/list", `{"tools":[{"name":"add","description":"adds numbers"},{"name":"now"}]}`)

	c := NewClient(mt, nil)
	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "add" || tools[1].Name != "now" {
		t.Fatalf("unexpected tools: %+v", tools)
	}

	if _, err := c.ListTools(context.Background()); err != nil {
		t.Fatalf("second ListTools: %v", err)
	}
	if len(mt.requests) != 1 {
		t.Fatalf("expected cached list, got %d requests", len(mt.requests))
	}
}

func TestClientListToolsEmpty(t *testing.T) {
	mt := newMockTransport()
	mt.respond("tools/list", `{"tools":[]}`)

	c := NewClient(mt, nil)
	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if tools == nil || len(tools) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", tools)
	}
}

func TestClientCallToolJoinsTextBlocks(t *testing.T) {
	mt := newMockTransport()
	mt.respond("tools/call", `{"content":[{"type":"text","text":"line one"},{"type":"text","text":"line two"}]}`)

	c := NewClient(mt, nil)
	result, err := c.CallTool(context.Background(), "add", map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.Content != "line one\nline two" {
		t.Fatalf("unexpected content: %q", result.Content)
	}
	if result.IsError {
		t.Fatal("unexpected IsError")
	}
}

func TestClientCallToolNonTextBlocks(t *testing.T) {
	mt := newMockTransport()
	mt.respond("tools/call", `{"content":[{"type":"text","text":"caption"},{"type":"image"}]}`)

	c := NewClient(mt, nil)
	result, err := c.CallTool(context.Background(), "snap", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.Content != "caption\n[image]" {
		t.Fatalf("unexpected content: %q", result.Content)
	}
}

func TestClientCallToolErrorResult(t *testing.T) {
	mt := newMockTransport()
	mt.respond("tools/call", `{"content":[{"type":"text","text":"division by zero"}],"isError":true}`)

	c := NewClient(mt, nil)
	result, err := c.CallTool(context.Background(), "div", map[string]any{"a": 1, "b": 0})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected IsError")
	}
	if result.Content != "division by zero" {
		t.Fatalf("unexpected content: %q", result.Content)
	}
}

func TestClientCallToolMetaPassthrough(t *testing.T) {
	mt := newMockTransport()
	mt.respond("tools/call", `{"content":[{"type":"text","text":"ok"}],"_meta":{"trace":"abc"}}`)

	c := NewClient(mt, nil)
	result, err := c.CallTool(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if string(result.Meta) != `{"trace":"abc"}` {
		t.Fatalf("unexpected meta: %s", result.Meta)
	}
}

func TestClientCallToolRPCError(t *testing.T) {
	mt := newMockTransport()
	mt.responses["tools/call"] = &Response{
		JSONRPC: jsonrpcVersion,
		Error:   &RPCError{Code: -32602, Message: "unknown tool"},
	}

	c := NewClient(mt, nil)
	_, err := c.CallTool(context.Background(), "nope", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unknown tool") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientCallToolNilArgs(t *testing.T) {
	mt := newMockTransport()
	mt.respond("tools/call", `{"content":[]}`)

	c := NewClient(mt, nil)
	if _, err := c.CallTool(context.Background(), "noargs", nil); err != nil {
		t.Fatalf("CallTool: %v", err)
	}

	params, ok := mt.requests[0].Params.(map[string]any)
	if !ok {
		t.Fatalf("unexpected params type: %T", mt.requests[0].Params)
	}
	args, ok := params["arguments"].(map[string]any)
	if !ok || args == nil {
		t.Fatalf("expected empty arguments object, got %#v", params["arguments"])
	}
}

func TestClientRequestIDsIncrease(t *testing.T) {
	mt := newMockTransport()
	mt.respond("tools/call", `{"content":[]}`)

	c := NewClient(mt, nil)
	for i := 0; i < 3; i++ {
		if _, err := c.CallTool(context.Background(), "tick", nil); err != nil {
			t.Fatalf("CallTool: %v", err)
		}
	}
	for i := 1; i < len(mt.requests); i++ {
		if mt.requests[i].ID <= mt.requests[i-1].ID {
			t.Fatalf("request IDs not increasing: %d then %d", mt.requests[i-1].ID, mt.requests[i].ID)
		}
	}
}

func TestClientClose(t *testing.T) {
	mt := newMockTransport()
	c := NewClient(mt, nil)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !mt.closed {
		t.Fatal("expected transport to be closed")
	}
}
