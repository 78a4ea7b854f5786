package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/dbworkflow/config"
	"github.com/c360studio/dbworkflow/transport"
)

// healthCheckTimeout bounds the probe call so an unresponsive server reports
// unhealthy quickly instead of consuming a full call timeout.
const healthCheckTimeout = 5 * time.Second

// Response is a normalized tool-call result. Text is the concatenated text
// payload when the server used the content envelope; Raw is always the
// verbatim result value.
type Response struct {
	Text string
	Raw  json.RawMessage
}

// Decode unmarshals the result into v. It prefers the raw result and falls
// back to the text payload for servers that wrap JSON in a content envelope.
func (r *Response) Decode(v any) error {
	if r.Text != "" {
		if err := json.Unmarshal([]byte(r.Text), v); err == nil {
			return nil
		}
	}
	return json.Unmarshal(r.Raw, v)
}

// Client is the surface every tool client exposes. ClientBase implements it;
// RecordingClient decorates it.
type Client interface {
	// Server returns the configured tool-server name.
	Server() string

	// Start launches the child process if it is not already running.
	Start(ctx context.Context) error

	// ListAvailableTools returns the names in the server's tool catalog.
	ListAvailableTools(ctx context.Context) ([]string, error)

	// HealthCheck reports whether the server responds to a catalog probe.
	HealthCheck(ctx context.Context) bool

	// CallTool invokes one tool with retry on transient failures.
	CallTool(ctx context.Context, tool string, args map[string]any, opts ...CallOption) (*Response, error)

	// Stop shuts the child process down.
	Stop(grace time.Duration) error
}

// CallOption adjusts one CallTool invocation.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
	retry   *RetryConfig
}

// WithCallTimeout overrides the per-call timeout.
func WithCallTimeout(timeout time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = timeout }
}

// WithCallRetry overrides the retry policy for one call.
func WithCallRetry(retry RetryConfig) CallOption {
	return func(o *callOptions) { o.retry = &retry }
}

// ClientBase drives one tool server over a transport instance. Concrete
// clients (packer, host, chat, filesystem) wrap it with typed methods.
type ClientBase struct {
	server    string
	transport *transport.Client
	retry     RetryConfig
	timeout   time.Duration
	logger    *slog.Logger
}

// ClientBaseOption configures a ClientBase.
type ClientBaseOption func(*ClientBase)

// WithRetryConfig sets the client's default retry policy.
func WithRetryConfig(retry RetryConfig) ClientBaseOption {
	return func(c *ClientBase) { c.retry = retry }
}

// WithDefaultTimeout sets the per-call timeout used when a call passes none.
func WithDefaultTimeout(timeout time.Duration) ClientBaseOption {
	return func(c *ClientBase) { c.timeout = timeout }
}

// WithClientLogger sets the client's logger.
func WithClientLogger(logger *slog.Logger) ClientBaseOption {
	return func(c *ClientBase) { c.logger = logger }
}

// NewClientBase builds a client for one configured tool server.
func NewClientBase(server string, cfg config.ServerConfig, opts ...ClientBaseOption) *ClientBase {
	c := &ClientBase{
		server:  server,
		retry:   DefaultRetryConfig(),
		timeout: transport.DefaultCallTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.transport = transport.NewClient(server, cfg.Command, cfg.Args, cfg.Env, transport.WithLogger(c.logger))
	return c
}

// Server returns the tool-server name.
func (c *ClientBase) Server() string {
	return c.server
}

// Start launches the child process. Starting a running client is a no-op.
func (c *ClientBase) Start(ctx context.Context) error {
	if c.transport.Running() {
		return nil
	}
	return c.transport.Start(ctx)
}

// Stop shuts the child process down.
func (c *ClientBase) Stop(grace time.Duration) error {
	return c.transport.Stop(grace)
}

// listToolsResult is the tools/list response shape.
type listToolsResult struct {
	Tools []struct {
		Name string `json:"name"`
	} `json:"tools"`
}

// ListAvailableTools queries the server's tool catalog.
func (c *ClientBase) ListAvailableTools(ctx context.Context) ([]string, error) {
	resp, err := c.transport.Call(ctx, "tools/list", map[string]any{}, c.timeout)
	if err != nil {
		return nil, classifyCallError(c.server, "tools/list", err)
	}

	var result listToolsResult
	if err := resp.Decode(&result); err != nil {
		return nil, NewFatalError(fmt.Errorf("decode tool catalog from %s: %w", c.server, err))
	}

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	return names, nil
}

// HealthCheck probes the server with a bounded catalog request.
func (c *ClientBase) HealthCheck(ctx context.Context) bool {
	if !c.transport.Running() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	resp, err := c.transport.Call(probeCtx, "tools/list", map[string]any{}, healthCheckTimeout)
	if err != nil {
		c.logger.Debug("Health check failed", "server", c.server, "error", err)
		return false
	}
	var result listToolsResult
	return resp.Decode(&result) == nil
}

// CallTool invokes one tool via tools/call, retrying transient failures with
// exponential backoff. Fatal errors return immediately.
func (c *ClientBase) CallTool(ctx context.Context, tool string, args map[string]any, opts ...CallOption) (*Response, error) {
	options := callOptions{timeout: c.timeout}
	for _, opt := range opts {
		opt(&options)
	}
	retry := c.retry
	if options.retry != nil {
		retry = *options.retry
	}

	params := map[string]any{
		"name":      tool,
		"arguments": args,
	}

	var lastErr error
	for attempt := 0; attempt <= retry.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := retry.Backoff(attempt)
			c.logger.Warn("Tool call failed, retrying",
				"server", c.server,
				"tool", tool,
				"attempt", attempt,
				"max_retries", retry.MaxRetries,
				"backoff", backoff,
				"error", lastErr)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}

			// A dead process cannot serve the retry; bring it back first.
			if !c.transport.Running() {
				if err := c.transport.Start(ctx); err != nil {
					lastErr = classifyCallError(c.server, tool, err)
					continue
				}
			}
		}

		resp, err := c.transport.Call(ctx, "tools/call", params, options.timeout)
		if err == nil {
			return c.normalize(tool, resp)
		}

		classified := classifyCallError(c.server, tool, err)
		if IsFatal(classified) {
			return nil, classified
		}
		lastErr = classified
	}

	return nil, fmt.Errorf("tool %s/%s: retries exhausted: %w", c.server, tool, lastErr)
}

// normalize converts a transport response into a tool response. Enveloped
// results flagged isError become tool errors.
func (c *ClientBase) normalize(tool string, resp *transport.Response) (*Response, error) {
	text, _ := resp.Text()
	if resp.IsError() {
		return nil, NewFatalError(&ToolError{
			Server:  c.server,
			Tool:    tool,
			Message: strings.TrimSpace(text),
		})
	}
	return &Response{Text: text, Raw: resp.Raw}, nil
}
