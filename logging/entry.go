// Package logging implements the structured logging subsystem: one logger
// per workflow run, fanning entries out to a rotating JSON-lines file sink,
// an ANSI console sink, and an optional NATS event mirror for live UIs.
package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// severity orders levels for console filtering.
func (l Level) severity() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	case LevelCritical:
		return 4
	default:
		return 1
	}
}

// IsValid returns true if the level is a known value.
func (l Level) IsValid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	default:
		return false
	}
}

// ParseLevel converts a string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return Level(s)
	case "WARN":
		return LevelWarning
	default:
		return LevelInfo
	}
}

// Entry is one immutable log record. The file sink writes entries as one
// JSON object per line; entries round-trip losslessly through ReadEntries
// modulo secret redaction applied at write time.
type Entry struct {
	// Timestamp is epoch seconds with sub-second precision.
	Timestamp float64 `json:"timestamp"`

	// WorkflowID identifies the run that emitted the entry.
	WorkflowID string `json:"workflow_id"`

	// Level is the severity.
	Level Level `json:"level"`

	// Component names the emitting component (e.g. "engine", "tools.packer").
	Component string `json:"component"`

	// Message is the human-readable text.
	Message string `json:"message"`

	// Data carries free-form key-value context.
	Data map[string]any `json:"data,omitempty"`

	// Payload carries a structured table/tree/metrics/progress value.
	Payload *Payload `json:"payload,omitempty"`

	// StepIndex is set for entries scoped to a workflow step.
	StepIndex *int `json:"step_index,omitempty"`

	// DurationMS is set for entries that report a completed operation.
	DurationMS *float64 `json:"duration_ms,omitempty"`
}

// now returns the current time as epoch seconds.
func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// ReadEntries parses JSON-lines log output back into entries. It is the
// audit-side counterpart of the file sink.
func ReadEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return entries, nil
}
