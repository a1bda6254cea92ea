package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures a WebSocket transport for a capability server
// that pushes responses over a persistent connection.
type WSConfig struct {
	// URL is the WebSocket endpoint (ws:// or wss://).
	URL string

	// Headers are additional headers sent during the handshake, e.g.
	// Authorization.
	Headers map[string]string

	// HandshakeTimeout bounds the initial dial. Zero means 10 seconds.
	HandshakeTimeout time.Duration

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// WSTransport communicates with a capability server over a WebSocket
// connection. Unlike stdio, responses arrive asynchronously and may be
// delivered out of order; a read loop correlates them to waiting
// callers by request ID.
type WSTransport struct {
	config WSConfig
	logger *slog.Logger

	connMu sync.Mutex // serializes writes and guards conn lifecycle
	conn   *websocket.Conn

	pendingMu sync.Mutex
	pending   map[int64]chan *Response

	closed  chan struct{}
	closeMu sync.Once
}

// NewWSTransport creates a WebSocket transport for the given config.
// The connection is not dialed until the first Send or Notify call.
func NewWSTransport(cfg WSConfig) *WSTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &WSTransport{
		config:  cfg,
		logger:  logger,
		pending: make(map[int64]chan *Response),
		closed:  make(chan struct{}),
	}
}

// connect dials the WebSocket endpoint if not already connected.
// Caller must hold t.connMu.
func (t *WSTransport) connect(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}

	select {
	case <-t.closed:
		return fmt.Errorf("transport is closed")
	default:
	}

	header := http.Header{}
	for k, v := range t.config.Headers {
		header.Set(k, v)
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.config.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, t.config.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %s)", t.config.URL, err, resp.Status)
		}
		return fmt.Errorf("dial %s: %w", t.config.URL, err)
	}

	t.conn = conn
	t.logger.Info("connected to capability server", "url", t.config.URL)

	go t.readLoop(conn)
	return nil
}

// readLoop reads messages from the connection and dispatches responses
// to waiting callers. It exits when the connection fails or is closed.
func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
			default:
				t.logger.Warn("capability server connection lost", "error", err)
			}
			t.failPending()
			t.connMu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.connMu.Unlock()
			return
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.logger.Debug("skipping malformed message from capability server",
				"error", err,
			)
			continue
		}

		if resp.ID == 0 {
			// Server-initiated notification; nothing is waiting on it.
			t.logger.Debug("skipping server notification")
			continue
		}

		t.pendingMu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.pendingMu.Unlock()

		if !ok {
			t.logger.Debug("no caller waiting for response", "id", resp.ID)
			continue
		}
		ch <- &resp
	}
}

// failPending wakes every waiting caller after a connection failure by
// closing their channels. Callers observe the closed channel and
// return a transport error.
func (t *WSTransport) failPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// Send sends a JSON-RPC request and waits for the correlated response.
// Responses may arrive in any order relative to other in-flight
// requests.
func (t *WSTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	t.connMu.Lock()
	if err := t.connect(ctx); err != nil {
		t.connMu.Unlock()
		return nil, err
	}

	// Register before writing so a fast response cannot race the
	// pending entry.
	respCh := make(chan *Response, 1)
	t.pendingMu.Lock()
	t.pending[req.ID] = respCh
	t.pendingMu.Unlock()

	err := t.conn.WriteJSON(req)
	t.connMu.Unlock()
	if err != nil {
		t.pendingMu.Lock()
		delete(t.pending, req.ID)
		t.pendingMu.Unlock()
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("connection lost while waiting for response")
		}
		return resp, nil
	case <-ctx.Done():
		t.pendingMu.Lock()
		delete(t.pending, req.ID)
		t.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-t.closed:
		return nil, fmt.Errorf("transport closed while waiting for response")
	}
}

// Notify sends a JSON-RPC notification. No response is expected.
func (t *WSTransport) Notify(ctx context.Context, notif *Notification) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if err := t.connect(ctx); err != nil {
		return err
	}
	if err := t.conn.WriteJSON(notif); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Close shuts down the connection and wakes any waiting callers.
func (t *WSTransport) Close() error {
	t.closeMu.Do(func() { close(t.closed) })

	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn == nil {
		return nil
	}

	// Best-effort close handshake before tearing down the socket.
	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := t.conn.Close()
	t.conn = nil
	return err
}
