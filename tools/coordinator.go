package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/dbworkflow/config"
)

// Well-known tool-server names under the ovr_ convention.
const (
	ServerPacker     = "ovr_repomix"
	ServerHost       = "ovr_github"
	ServerChat       = "ovr_slack"
	ServerFilesystem = "ovr_filesystem"
)

// Coordinator owns the long-lived tool clients for one workflow run. Clients
// start lazily on first use and are shared across steps; each client
// serializes its own protocol, so sharing is safe.
type Coordinator struct {
	configs    map[string]config.ServerConfig
	retry      RetryConfig
	logger     *slog.Logger
	transcript *Transcript

	mu      sync.Mutex
	clients map[string]Client
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger passed to every client.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// WithCoordinatorRetry sets the retry policy passed to every client.
func WithCoordinatorRetry(retry RetryConfig) CoordinatorOption {
	return func(c *Coordinator) { c.retry = retry }
}

// WithTranscript records every tool call of every client to the transcript.
func WithTranscript(t *Transcript) CoordinatorOption {
	return func(c *Coordinator) { c.transcript = t }
}

// NewCoordinator builds a coordinator over the loaded server configuration.
func NewCoordinator(configs map[string]config.ServerConfig, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		configs: configs,
		retry:   DefaultRetryConfig(),
		logger:  slog.Default(),
		clients: map[string]Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Servers returns the configured server names in sorted order.
func (c *Coordinator) Servers() []string {
	names := make([]string, 0, len(c.configs))
	for name := range c.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Client returns the named client, starting its process on first use.
func (c *Coordinator) Client(ctx context.Context, name string) (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[name]; ok {
		return client, nil
	}

	cfg, ok := c.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: server %s not configured", config.ErrMalformedConfig, name)
	}

	var client Client = NewClientBase(name, cfg,
		WithRetryConfig(c.retry),
		WithClientLogger(c.logger))
	if c.transcript != nil {
		client = NewRecordingClient(client, c.transcript, c.logger)
	}

	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	c.clients[name] = client

	c.logger.Debug("Tool client started", "server", name)
	return client, nil
}

// Packer returns the typed repository-packer client.
func (c *Coordinator) Packer(ctx context.Context) (*PackerClient, error) {
	client, err := c.Client(ctx, ServerPacker)
	if err != nil {
		return nil, err
	}
	return NewPackerClient(client), nil
}

// Host returns the typed source-host client.
func (c *Coordinator) Host(ctx context.Context) (*HostClient, error) {
	client, err := c.Client(ctx, ServerHost)
	if err != nil {
		return nil, err
	}
	return NewHostClient(client), nil
}

// Chat returns the typed chat client. Chat is advisory: when the server is
// not configured or fails to start, a disabled client is returned whose
// calls all report soft failure.
func (c *Coordinator) Chat(ctx context.Context) *ChatClient {
	client, err := c.Client(ctx, ServerChat)
	if err != nil {
		c.logger.Warn("Chat server unavailable, notifications disabled", "error", err)
		return NewChatClient(nil)
	}
	return NewChatClient(client)
}

// Filesystem returns the typed filesystem client.
func (c *Coordinator) Filesystem(ctx context.Context) (*FilesystemClient, error) {
	client, err := c.Client(ctx, ServerFilesystem)
	if err != nil {
		return nil, err
	}
	return NewFilesystemClient(client), nil
}

// HealthCheck probes every started client. The result maps server name to
// health; servers never started are omitted.
func (c *Coordinator) HealthCheck(ctx context.Context) map[string]bool {
	c.mu.Lock()
	clients := make(map[string]Client, len(c.clients))
	for name, client := range c.clients {
		clients[name] = client
	}
	c.mu.Unlock()

	health := make(map[string]bool, len(clients))
	for name, client := range clients {
		health[name] = client.HealthCheck(ctx)
	}
	return health
}

// StopAll shuts every started client down, sharing the grace period.
func (c *Coordinator) StopAll(grace time.Duration) {
	c.mu.Lock()
	clients := make([]Client, 0, len(c.clients))
	for _, client := range c.clients {
		clients = append(clients, client)
	}
	c.clients = map[string]Client{}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(cl Client) {
			defer wg.Done()
			if err := cl.Stop(grace); err != nil {
				c.logger.Warn("Tool client stop failed", "server", cl.Server(), "error", err)
			}
		}(client)
	}
	wg.Wait()
}
