package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

// TestHelperProcess is re-executed as the child process by the tests below.
// It speaks line-delimited JSON-RPC on stdin/stdout with a few scripted
// behaviors selected by method name.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var req struct {
			ID     *uint64        `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		if req.ID == nil {
			continue // notification
		}

		switch req.Method {
		case "echo":
			text, _ := req.Params["text"].(string)
			fmt.Printf(`{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":%q}]}}`+"\n", *req.ID, text)
		case "raw":
			fmt.Printf(`{"jsonrpc":"2.0","id":%d,"result":{"value":42}}`+"\n", *req.ID)
		case "slow":
			time.Sleep(2 * time.Second)
			fmt.Printf(`{"jsonrpc":"2.0","id":%d,"result":{}}`+"\n", *req.ID)
		case "fail":
			fmt.Printf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32602,"message":"invalid params"}}`+"\n", *req.ID)
		case "noisy":
			fmt.Fprintln(os.Stderr, "warning: something intermittent")
			fmt.Printf(`{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":"ok"}]}}`+"\n", *req.ID)
		case "die":
			os.Exit(3)
		}
	}
}

func newHelperClient(t *testing.T) *Client {
	t.Helper()
	return NewClient("ovr_test", os.Args[0],
		[]string{"-test.run=TestHelperProcess"},
		map[string]string{"GO_WANT_HELPER_PROCESS": "1"},
	)
}

func startHelper(t *testing.T) *Client {
	t.Helper()
	c := newHelperClient(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { c.Stop(time.Second) })
	return c
}

func TestClientCallEnvelope(t *testing.T) {
	c := startHelper(t)

	resp, err := c.Call(context.Background(), "echo", map[string]any{"text": "hello"}, 5*time.Second)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	text, ok := resp.Text()
	if !ok {
		t.Fatal("expected content envelope")
	}
	if text != "hello" {
		t.Errorf("expected hello, got %q", text)
	}
}

func TestClientCallRawResult(t *testing.T) {
	c := startHelper(t)

	resp, err := c.Call(context.Background(), "raw", nil, 5*time.Second)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	if _, ok := resp.Text(); ok {
		t.Error("raw result should not parse as envelope")
	}

	var out struct {
		Value int `json:"value"`
	}
	if err := resp.Decode(&out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if out.Value != 42 {
		t.Errorf("expected 42, got %d", out.Value)
	}
}

func TestClientCallRPCError(t *testing.T) {
	c := startHelper(t)

	_, err := c.Call(context.Background(), "fail", nil, 5*time.Second)
	if err == nil {
		t.Fatal("expected RPC error")
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != -32602 {
		t.Errorf("expected code -32602, got %d", rpcErr.Code)
	}
}

func TestClientCallTimeout(t *testing.T) {
	c := startHelper(t)

	_, err := c.Call(context.Background(), "slow", nil, 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !IsTimeout(err) {
		t.Fatalf("expected TimeoutError, got %T: %v", err, err)
	}

	// The instance stays usable; the stale response is skipped when the
	// next call drains the line channel.
	resp, err := c.Call(context.Background(), "echo", map[string]any{"text": "after"}, 5*time.Second)
	if err != nil {
		t.Fatalf("Call() after timeout error = %v", err)
	}
	if text, _ := resp.Text(); text != "after" {
		t.Errorf("expected after, got %q", text)
	}
}

func TestClientProcessDeath(t *testing.T) {
	c := startHelper(t)

	_, err := c.Call(context.Background(), "die", nil, 5*time.Second)
	if err == nil {
		t.Fatal("expected error after process death")
	}

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}

	// The dead instance rejects further calls until restarted.
	_, err = c.Call(context.Background(), "echo", map[string]any{"text": "x"}, time.Second)
	if !errors.As(err, &terr) || !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if c.Running() {
		t.Error("client should report not running after exit")
	}

	// A fresh Start brings the instance back.
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	resp, err := c.Call(context.Background(), "echo", map[string]any{"text": "back"}, 5*time.Second)
	if err != nil {
		t.Fatalf("Call() after restart error = %v", err)
	}
	if text, _ := resp.Text(); text != "back" {
		t.Errorf("expected back, got %q", text)
	}
}

func TestClientStderrCapture(t *testing.T) {
	c := startHelper(t)

	if _, err := c.Call(context.Background(), "noisy", nil, 5*time.Second); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	// The drainer needs a beat to pick the write up.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Stderr() != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := c.Stderr(); got == "" {
		t.Error("expected stderr tail to be captured")
	}
}

func TestClientDoubleStart(t *testing.T) {
	c := startHelper(t)

	err := c.Start(context.Background())
	if err == nil {
		t.Fatal("expected error starting a running client")
	}
}

func TestClientStopIdempotent(t *testing.T) {
	c := newHelperClient(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := c.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := c.Stop(time.Second); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if c.Running() {
		t.Error("client should not be running after Stop")
	}
}

func TestClientCallContextCancel(t *testing.T) {
	c := startHelper(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.Call(ctx, "slow", nil, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
