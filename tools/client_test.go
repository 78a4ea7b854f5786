package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/c360studio/dbworkflow/config"
)

// TestHelperProcess is re-executed as the tool-server child process. It
// implements tools/list and tools/call, dispatching on the tool name.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var req struct {
			ID     *uint64 `json:"id"`
			Method string  `json:"method"`
			Params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.ID == nil {
			continue
		}

		switch req.Method {
		case "tools/list":
			fmt.Printf(`{"jsonrpc":"2.0","id":%d,"result":{"tools":[{"name":"echo"},{"name":"flaky"}]}}`+"\n", *req.ID)

		case "tools/call":
			switch req.Params.Name {
			case "echo":
				text, _ := req.Params.Arguments["text"].(string)
				fmt.Printf(`{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":%q}]}}`+"\n", *req.ID, text)
			case "flaky":
				// Fails with a retryable code until the counter file records
				// enough attempts.
				n := bumpCounter(os.Getenv("ATTEMPT_FILE"))
				if n < 3 {
					fmt.Printf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32000,"message":"server busy"}}`+"\n", *req.ID)
				} else {
					fmt.Printf(`{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":"recovered"}]}}`+"\n", *req.ID)
				}
			case "badargs":
				bumpCounter(os.Getenv("ATTEMPT_FILE"))
				fmt.Printf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32602,"message":"invalid params"}}`+"\n", *req.ID)
			case "toolfail":
				fmt.Printf(`{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":"boom"}],"isError":true}}`+"\n", *req.ID)
			default:
				fmt.Printf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"unknown tool"}}`+"\n", *req.ID)
			}
		}
	}
}

func bumpCounter(path string) int {
	n := 0
	if data, err := os.ReadFile(path); err == nil {
		n, _ = strconv.Atoi(string(data))
	}
	n++
	_ = os.WriteFile(path, []byte(strconv.Itoa(n)), 0o644)
	return n
}

func newHelperBase(t *testing.T, attemptFile string) *ClientBase {
	t.Helper()
	cfg := config.ServerConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
		Env: map[string]string{
			"GO_WANT_HELPER_PROCESS": "1",
			"ATTEMPT_FILE":           attemptFile,
		},
	}
	c := NewClientBase("ovr_test", cfg, WithRetryConfig(RetryConfig{
		MaxRetries: 3,
		BaseDelay:  5 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     0.2,
		MaxDelay:   50 * time.Millisecond,
	}))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { c.Stop(time.Second) })
	return c
}

func TestClientBaseCallTool(t *testing.T) {
	c := newHelperBase(t, filepath.Join(t.TempDir(), "attempts"))

	resp, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if resp.Text != "hello" {
		t.Errorf("expected hello, got %q", resp.Text)
	}
}

func TestClientBaseListAvailableTools(t *testing.T) {
	c := newHelperBase(t, filepath.Join(t.TempDir(), "attempts"))

	names, err := c.ListAvailableTools(context.Background())
	if err != nil {
		t.Fatalf("ListAvailableTools() error = %v", err)
	}
	if len(names) != 2 || names[0] != "echo" || names[1] != "flaky" {
		t.Errorf("unexpected catalog: %v", names)
	}
}

func TestClientBaseHealthCheck(t *testing.T) {
	c := newHelperBase(t, filepath.Join(t.TempDir(), "attempts"))

	if !c.HealthCheck(context.Background()) {
		t.Error("expected healthy")
	}
	if err := c.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if c.HealthCheck(context.Background()) {
		t.Error("expected unhealthy after stop")
	}
}

func TestClientBaseRetriesTransient(t *testing.T) {
	attemptFile := filepath.Join(t.TempDir(), "attempts")
	c := newHelperBase(t, attemptFile)

	resp, err := c.CallTool(context.Background(), "flaky", nil)
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if resp.Text != "recovered" {
		t.Errorf("expected recovered, got %q", resp.Text)
	}

	data, _ := os.ReadFile(attemptFile)
	if string(data) != "3" {
		t.Errorf("expected 3 attempts, got %s", data)
	}
}

func TestClientBaseFatalNoRetry(t *testing.T) {
	attemptFile := filepath.Join(t.TempDir(), "attempts")
	c := newHelperBase(t, attemptFile)

	_, err := c.CallTool(context.Background(), "badargs", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}

	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %T", err)
	}
	if toolErr.Code != -32602 {
		t.Errorf("expected code -32602, got %d", toolErr.Code)
	}

	data, _ := os.ReadFile(attemptFile)
	if string(data) != "1" {
		t.Errorf("deterministic errors must not retry, got %s attempts", data)
	}
}

func TestClientBaseEnvelopeErrorIsToolError(t *testing.T) {
	c := newHelperBase(t, filepath.Join(t.TempDir(), "attempts"))

	_, err := c.CallTool(context.Background(), "toolfail", nil)
	if err == nil {
		t.Fatal("expected error for isError envelope")
	}
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %T: %v", err, err)
	}
	if toolErr.Message != "boom" {
		t.Errorf("expected boom, got %q", toolErr.Message)
	}
}

func TestBackoffBounds(t *testing.T) {
	cfg := DefaultRetryConfig()

	for retry := 1; retry <= 6; retry++ {
		for i := 0; i < 50; i++ {
			d := cfg.Backoff(retry)
			max := time.Duration(float64(cfg.MaxDelay) * (1 + cfg.Jitter))
			if d <= 0 || d > max {
				t.Fatalf("backoff(%d) = %v outside (0, %v]", retry, d, max)
			}
		}
	}

	// Without jitter the progression is exactly exponential and capped.
	flat := RetryConfig{MaxRetries: 5, BaseDelay: time.Second, Multiplier: 2.0, MaxDelay: 30 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got := flat.Backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestClassifyCallError(t *testing.T) {
	if IsTransient(classifyCallError("s", "t", errors.New("plain"))) {
		t.Error("plain errors must be fatal")
	}
	if !IsFatal(classifyCallError("s", "t", errors.New("plain"))) {
		t.Error("plain errors must classify fatal")
	}
}
