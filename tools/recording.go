package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// MaxRecordedParamsLength is the max length for serialized parameters stored
// in a transcript record.
const MaxRecordedParamsLength = 1000

// MaxRecordedResultLength is the max length for result content stored in a
// transcript record.
const MaxRecordedResultLength = 2000

// CallRecord is one recorded tool call, written as a JSON line.
type CallRecord struct {
	Server      string    `json:"server"`
	Tool        string    `json:"tool"`
	Parameters  string    `json:"parameters"`
	Result      string    `json:"result,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// Transcript appends call records to a file, one JSON object per line.
type Transcript struct {
	mu   sync.Mutex
	file *os.File
}

// OpenTranscript opens (appending) the transcript file.
func OpenTranscript(path string) (*Transcript, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Transcript{file: file}, nil
}

// Append writes one record.
func (t *Transcript) Append(record CallRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err = t.file.Write(data)
	return err
}

// Close closes the transcript file.
func (t *Transcript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// RecordingClient wraps a Client and records each CallTool invocation to a
// transcript. All other methods pass through.
type RecordingClient struct {
	inner      Client
	transcript *Transcript
	logger     *slog.Logger
}

// NewRecordingClient wraps a client with call recording.
func NewRecordingClient(inner Client, transcript *Transcript, logger *slog.Logger) *RecordingClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingClient{inner: inner, transcript: transcript, logger: logger}
}

// Server delegates to the inner client.
func (r *RecordingClient) Server() string { return r.inner.Server() }

// Start delegates to the inner client.
func (r *RecordingClient) Start(ctx context.Context) error { return r.inner.Start(ctx) }

// ListAvailableTools delegates to the inner client.
func (r *RecordingClient) ListAvailableTools(ctx context.Context) ([]string, error) {
	return r.inner.ListAvailableTools(ctx)
}

// HealthCheck delegates to the inner client.
func (r *RecordingClient) HealthCheck(ctx context.Context) bool { return r.inner.HealthCheck(ctx) }

// Stop delegates to the inner client.
func (r *RecordingClient) Stop(grace time.Duration) error { return r.inner.Stop(grace) }

// CallTool runs the inner call and records it.
func (r *RecordingClient) CallTool(ctx context.Context, tool string, args map[string]any, opts ...CallOption) (*Response, error) {
	startedAt := time.Now()
	resp, callErr := r.inner.CallTool(ctx, tool, args, opts...)
	completedAt := time.Now()

	record := CallRecord{
		Server:      r.inner.Server(),
		Tool:        tool,
		Parameters:  truncateJSON(args, MaxRecordedParamsLength),
		Status:      "success",
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
	}
	if callErr != nil {
		record.Status = "error"
		record.Error = callErr.Error()
	} else if resp != nil {
		preview := resp.Text
		if preview == "" {
			preview = string(resp.Raw)
		}
		if len(preview) > MaxRecordedResultLength {
			preview = preview[:MaxRecordedResultLength] + "..."
		}
		record.Result = preview
	}

	if err := r.transcript.Append(record); err != nil {
		r.logger.Warn("Failed to record tool call",
			"server", record.Server,
			"tool", tool,
			"error", err)
	}

	return resp, callErr
}

// truncateJSON marshals a map to JSON and truncates to maxLen.
func truncateJSON(m map[string]any, maxLen int) string {
	if m == nil {
		return "{}"
	}

	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}

	s := string(data)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
