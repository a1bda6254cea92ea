package mcp

import (
	"context"
	"runtime"
	"testing"
	"time"
)

// shTransport builds a stdio transport whose subprocess is a shell
// script. Skips on platforms without /bin/sh.
func shTransport(t *testing.T, script string, env map[string]string) *StdioTransport {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	tr := NewStdioTransport(StdioConfig{
		Command: "/bin/sh",
		Args:    []string{"-c", script},
		Env:     env,
	})
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestStdioTransportSend(t *testing.T) {
	tr := shTransport(t, `read line; printf '{"jsonrpc":"2.0","id":1,"result":{"ok":true}}\n'`, nil)

	resp, err := tr.Send(context.Background(), NewRequest(1, "ping", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(resp.Result) != `{"ok":true}` {
		t.Fatalf("unexpected result: %s", resp.Result)
	}
}

func TestStdioTransportSkipsNotifications(t *testing.T) {
	// The subprocess emits a notification and a garbage line before the
	// real response; both must be skipped.
	script := `read line
printf '{"jsonrpc":"2.0","method":"notifications/progress"}\n'
printf 'not json at all\n'
printf '{"jsonrpc":"2.0","id":1,"result":"done"}\n'`
	tr := shTransport(t, script, nil)

	resp, err := tr.Send(context.Background(), NewRequest(1, "work", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(resp.Result) != `"done"` {
		t.Fatalf("unexpected result: %s", resp.Result)
	}
}

func TestStdioTransportEnvPassthrough(t *testing.T) {
	script := `read line; printf '{"jsonrpc":"2.0","id":1,"result":"%s"}\n' "$KOTORI_TEST_TOKEN"`
	tr := shTransport(t, script, map[string]string{"KOTORI_TEST_TOKEN": "sekrit"})

	resp, err := tr.Send(context.Background(), NewRequest(1, "env", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(resp.Result) != `"sekrit"` {
		t.Fatalf("env not passed through, got %s", resp.Result)
	}
}

func TestStdioTransportContextCancel(t *testing.T) {
	tr := shTransport(t, `read line; sleep 30`, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := tr.Send(ctx, NewRequest(1, "hang", nil))
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation took too long: %v", elapsed)
	}
}

func TestStdioTransportStartFailure(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "/nonexistent/binary"})
	defer tr.Close()

	if _, err := tr.Send(context.Background(), NewRequest(1, "x", nil)); err == nil {
		t.Fatal("expected start error")
	}
}

func TestEnvPairsSorted(t *testing.T) {
	pairs := envPairs(map[string]string{"B": "2", "A": "1"})
	if len(pairs) != 2 || pairs[0] != "A=1" || pairs[1] != "B=2" {
		t.Fatalf("unexpected pairs: %v", pairs)
	}
	if envPairs(nil) != nil {
		t.Fatal("expected nil for empty env")
	}
}
