package metrics

import (
	"context"
	"time"

	"github.com/c360studio/dbworkflow/tools"
)

// InstrumentedClient wraps a tools.Client and records every CallTool
// invocation on a Collector. All other methods pass through.
type InstrumentedClient struct {
	inner     tools.Client
	collector *Collector
}

// InstrumentClient wraps a client with call metrics. A nil collector returns
// the client unchanged.
func InstrumentClient(inner tools.Client, collector *Collector) tools.Client {
	if collector == nil {
		return inner
	}
	return &InstrumentedClient{inner: inner, collector: collector}
}

// Server delegates to the inner client.
func (i *InstrumentedClient) Server() string { return i.inner.Server() }

// Start delegates to the inner client.
func (i *InstrumentedClient) Start(ctx context.Context) error { return i.inner.Start(ctx) }

// ListAvailableTools delegates to the inner client.
func (i *InstrumentedClient) ListAvailableTools(ctx context.Context) ([]string, error) {
	return i.inner.ListAvailableTools(ctx)
}

// HealthCheck delegates to the inner client.
func (i *InstrumentedClient) HealthCheck(ctx context.Context) bool { return i.inner.HealthCheck(ctx) }

// Stop delegates to the inner client.
func (i *InstrumentedClient) Stop(grace time.Duration) error { return i.inner.Stop(grace) }

// CallTool times the inner call and records its outcome.
func (i *InstrumentedClient) CallTool(ctx context.Context, tool string, args map[string]any, opts ...tools.CallOption) (*tools.Response, error) {
	start := time.Now()
	resp, err := i.inner.CallTool(ctx, tool, args, opts...)
	i.collector.RecordToolCall(i.inner.Server(), tool, err, time.Since(start))
	return resp, err
}
