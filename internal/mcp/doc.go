// Package mcp implements the client side of the Model Context Protocol,
// the wire protocol spoken by external capability servers.
//
// A [Client] wraps one server connection and exposes the protocol
// operations: the initialize handshake, tools/list discovery, and
// tools/call execution. The connection itself is abstracted behind
// [Transport], with two implementations: [StdioTransport] runs the
// server as a persistent subprocess speaking newline-delimited JSON-RPC
// over its standard streams, and [WSTransport] holds a persistent
// WebSocket connection to a remote server.
//
// Results of tools/call are normalized into [ToolResult] at this
// boundary — textual content blocks are collapsed into one string and
// the error flag and metadata pass through — so callers never see
// per-transport payload shapes.
package mcp
