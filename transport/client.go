package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultCallTimeout bounds a call when the caller passes none.
	DefaultCallTimeout = 30 * time.Second

	// stderrReadTimeout bounds every single stderr read. Unbounded stderr
	// reads have historically stalled pipelines for the full call timeout
	// when a child wrote nothing.
	stderrReadTimeout = 500 * time.Millisecond

	// maxStderrBytes caps the retained stderr tail.
	maxStderrBytes = 4096

	// maxLineBytes caps one JSON-RPC frame (packed repositories are shipped
	// as file paths, not payloads, so frames stay small; 16 MiB is headroom).
	maxLineBytes = 16 * 1024 * 1024
)

// request is one JSON-RPC 2.0 request frame. Notifications omit the id.
type request struct {
	JSONRPC string  `json:"jsonrpc"`
	ID      *uint64 `json:"id,omitempty"`
	Method  string  `json:"method"`
	Params  any     `json:"params,omitempty"`
}

// response is one JSON-RPC 2.0 response frame.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Response is a successful call result. Raw is the result value verbatim;
// Text unwraps the common content envelope.
type Response struct {
	Raw json.RawMessage
}

// contentEnvelope is the common tool-call result shape.
type contentEnvelope struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// Text returns the concatenated text blocks when the result uses the
// content envelope. ok is false for raw object results.
func (r *Response) Text() (text string, ok bool) {
	var env contentEnvelope
	if err := json.Unmarshal(r.Raw, &env); err != nil || len(env.Content) == 0 {
		return "", false
	}
	var b strings.Builder
	found := false
	for _, block := range env.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
			found = true
		}
	}
	return b.String(), found
}

// IsError reports whether an enveloped result flagged itself as a tool
// failure.
func (r *Response) IsError() bool {
	var env contentEnvelope
	if err := json.Unmarshal(r.Raw, &env); err != nil {
		return false
	}
	return env.IsError
}

// Decode unmarshals the raw result into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Raw, v)
}

// deadlineReader is satisfied by pipe files on platforms that support read
// deadlines.
type deadlineReader interface {
	SetReadDeadline(t time.Time) error
}

// Client owns one child process. Calls are serialized: one request is in
// flight at a time, so responses cannot interleave on stdout. Higher-level
// parallelism uses multiple clients.
type Client struct {
	server  string
	command string
	args    []string
	env     map[string]string
	logger  *slog.Logger

	callMu sync.Mutex // serializes Call/Notify
	nextID uint64

	procMu  sync.Mutex // guards process lifecycle state
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan []byte
	exited  chan struct{}
	exitErr error
	running bool

	stderrMu  sync.Mutex
	stderrBuf []byte
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient prepares a client for the named server. Start must be called
// before the first Call.
func NewClient(server, command string, args []string, env map[string]string, opts ...ClientOption) *Client {
	c := &Client{
		server:  server,
		command: command,
		args:    args,
		env:     env,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Server returns the tool-server name this client is bound to.
func (c *Client) Server() string {
	return c.server
}

// Running reports whether the child process is alive.
func (c *Client) Running() bool {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	return c.running
}

// Start spawns the child process and wires the reader goroutines. A client
// whose process exited may be started again; a running client may not.
func (c *Client) Start(ctx context.Context) error {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	if c.running {
		return &Error{Server: c.server, Op: "start", Err: errors.New("already running")}
	}

	cmd := exec.Command(c.command, c.args...)
	cmd.Env = os.Environ()
	for key, value := range c.env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &Error{Server: c.server, Op: "start", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &Error{Server: c.server, Op: "start", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &Error{Server: c.server, Op: "start", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &Error{Server: c.server, Op: "start", Err: err}
	}

	c.cmd = cmd
	c.stdin = stdin
	c.lines = make(chan []byte, 8)
	c.exited = make(chan struct{})
	c.exitErr = nil
	c.running = true
	c.stderrMu.Lock()
	c.stderrBuf = nil
	c.stderrMu.Unlock()

	go c.readLoop(stdout, c.lines)
	go c.drainStderr(stderr, c.exited)
	go c.wait(cmd, c.exited)

	c.logger.Debug("Started tool server process",
		"server", c.server,
		"command", c.command,
		"pid", cmd.Process.Pid)

	return nil
}

// readLoop scans stdout for newline-delimited frames.
func (c *Client) readLoop(stdout io.Reader, lines chan<- []byte) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		lines <- line
	}
	close(lines)
}

// drainStderr retains the stderr tail for diagnostics. Every read is
// bounded by stderrReadTimeout; on platforms without pipe deadlines the
// reads block inside this goroutine only and never a caller.
func (c *Client) drainStderr(stderr io.Reader, exited <-chan struct{}) {
	dr, hasDeadline := stderr.(deadlineReader)
	buf := make([]byte, 1024)
	for {
		select {
		case <-exited:
			return
		default:
		}

		if hasDeadline {
			_ = dr.SetReadDeadline(time.Now().Add(stderrReadTimeout))
		}
		n, err := stderr.Read(buf)
		if n > 0 {
			c.appendStderr(buf[:n])
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return
		}
	}
}

func (c *Client) appendStderr(data []byte) {
	c.stderrMu.Lock()
	defer c.stderrMu.Unlock()
	c.stderrBuf = append(c.stderrBuf, data...)
	if len(c.stderrBuf) > maxStderrBytes {
		c.stderrBuf = c.stderrBuf[len(c.stderrBuf)-maxStderrBytes:]
	}
}

// Stderr returns the retained stderr tail without blocking.
func (c *Client) Stderr() string {
	c.stderrMu.Lock()
	defer c.stderrMu.Unlock()
	return string(c.stderrBuf)
}

// wait reaps the child and flips the client to not-running.
func (c *Client) wait(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()

	c.procMu.Lock()
	c.exitErr = err
	c.running = false
	c.procMu.Unlock()
	close(exited)

	if err != nil {
		c.logger.Warn("Tool server process exited",
			"server", c.server,
			"error", err,
			"stderr", c.Stderr())
	} else {
		c.logger.Debug("Tool server process exited cleanly", "server", c.server)
	}
}

// Call sends one request and awaits its response. Calls serialize: at most
// one request is in flight per client. A zero timeout uses
// DefaultCallTimeout.
func (c *Client) Call(ctx context.Context, method string, params any, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.procMu.Lock()
	if !c.running {
		c.procMu.Unlock()
		return nil, &Error{Server: c.server, Op: "call", Err: ErrNotRunning, Stderr: c.Stderr()}
	}
	c.nextID++
	id := c.nextID
	stdin := c.stdin
	lines := c.lines
	exited := c.exited
	c.procMu.Unlock()

	frame, err := json.Marshal(request{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	frame = append(frame, '\n')

	if _, err := stdin.Write(frame); err != nil {
		return nil, &Error{Server: c.server, Op: "write", Err: err, Stderr: c.Stderr()}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil, &Error{Server: c.server, Op: "read", Err: errors.New("stdout closed"), Stderr: c.Stderr()}
			}
			resp, matched, err := c.parseFrame(line, id)
			if err != nil {
				return nil, err
			}
			if !matched {
				// Stale response from a previously timed-out call, or a
				// server-initiated notification. Skip it.
				continue
			}
			return resp, nil

		case <-timer.C:
			return nil, &TimeoutError{Server: c.server, Method: method, Timeout: timeout}

		case <-ctx.Done():
			return nil, ctx.Err()

		case <-exited:
			return nil, &Error{Server: c.server, Op: "call", Err: c.exitError(), Stderr: c.Stderr()}
		}
	}
}

// parseFrame decodes one stdout line. matched reports whether the frame
// answers the in-flight request id.
func (c *Client) parseFrame(line []byte, id uint64) (*Response, bool, error) {
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, false, &Error{Server: c.server, Op: "read", Err: fmt.Errorf("malformed frame: %w", err), Stderr: c.Stderr()}
	}
	if resp.ID == nil || *resp.ID != id {
		return nil, false, nil
	}
	if resp.Error != nil {
		return nil, true, resp.Error
	}
	return &Response{Raw: resp.Result}, true, nil
}

// Notify sends a request without an id and does not await a response.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.procMu.Lock()
	if !c.running {
		c.procMu.Unlock()
		return &Error{Server: c.server, Op: "notify", Err: ErrNotRunning}
	}
	stdin := c.stdin
	c.procMu.Unlock()

	frame, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	frame = append(frame, '\n')

	if _, err := stdin.Write(frame); err != nil {
		return &Error{Server: c.server, Op: "write", Err: err, Stderr: c.Stderr()}
	}
	return nil
}

func (c *Client) exitError() error {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	if c.exitErr != nil {
		return fmt.Errorf("process exited: %w", c.exitErr)
	}
	return errors.New("process exited")
}

// Stop closes stdin and waits up to grace for a clean exit before killing
// the process. Stopping a stopped client is a no-op.
func (c *Client) Stop(grace time.Duration) error {
	c.procMu.Lock()
	if !c.running {
		c.procMu.Unlock()
		return nil
	}
	stdin := c.stdin
	cmd := c.cmd
	exited := c.exited
	c.procMu.Unlock()

	// Closing stdin signals well-behaved servers to exit.
	_ = stdin.Close()

	select {
	case <-exited:
		return nil
	case <-time.After(grace):
	}

	c.logger.Warn("Tool server did not exit after stdin close, killing",
		"server", c.server,
		"grace", grace)
	_ = cmd.Process.Kill()
	<-exited
	return nil
}
