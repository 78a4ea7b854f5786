package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360studio/dbworkflow/tools"
)

// ClientProvider resolves a tool client by server name. The coordinator's
// Client method satisfies it.
type ClientProvider func(ctx context.Context, server string) (tools.Client, error)

// Context is the shared state of one workflow execution. Step results are
// written by the engine only; shared values are an open map steps namespace
// by their own id; clients are lazily resolved tool clients reused across
// steps. A mutex guards mutation because sibling steps may write disjoint
// keys concurrently — concurrent writes to the same key are a programming
// error, not something the engine arbitrates.
type Context struct {
	mu          sync.RWMutex
	stepResults map[string]any
	shared      map[string]any
	clients     map[string]tools.Client
	provider    ClientProvider
}

// NewContext creates an empty execution context.
func NewContext() *Context {
	return &Context{
		stepResults: map[string]any{},
		shared:      map[string]any{},
		clients:     map[string]tools.Client{},
	}
}

// SetClientProvider wires lazy tool-client resolution.
func (c *Context) SetClientProvider(provider ClientProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = provider
}

// Client returns the tool client for server, resolving it on first use.
func (c *Context) Client(ctx context.Context, server string) (tools.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[server]; ok {
		return client, nil
	}
	if c.provider == nil {
		return nil, fmt.Errorf("no client provider configured (server %s)", server)
	}

	client, err := c.provider(ctx, server)
	if err != nil {
		return nil, err
	}
	c.clients[server] = client
	return client, nil
}

// RegisterClient stores a client under a server name, for tests and for
// pre-started clients.
func (c *Context) RegisterClient(server string, client tools.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[server] = client
}

// setStepResult records a step's value. Engine use only.
func (c *Context) setStepResult(id string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepResults[id] = value
}

// StepResult returns the recorded value of a completed step.
func (c *Context) StepResult(id string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.stepResults[id]
	return value, ok
}

// SetShared writes a shared value. Keys should be namespaced by step id.
func (c *Context) SetShared(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shared[key] = value
}

// Shared reads a shared value.
func (c *Context) Shared(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.shared[key]
	return value, ok
}

// SharedString reads a shared value as a string, empty when absent or not a
// string.
func (c *Context) SharedString(key string) string {
	value, ok := c.Shared(key)
	if !ok {
		return ""
	}
	s, _ := value.(string)
	return s
}

// SharedKeys returns every shared key currently set.
func (c *Context) SharedKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.shared))
	for key := range c.shared {
		keys = append(keys, key)
	}
	return keys
}
