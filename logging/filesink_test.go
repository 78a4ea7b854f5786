package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSinkWritesJSONLines(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "dbworkflow.log")

	sink, err := NewFileSink(path, 0, 0)
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		err := sink.Write(Entry{
			Timestamp:  now(),
			WorkflowID: "wf-1",
			Level:      LevelInfo,
			Component:  "test",
			Message:    fmt.Sprintf("entry %d", i),
		})
		if err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	entries, err := ReadEntries(f)
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[1].Message != "entry 1" {
		t.Errorf("expected entry 1, got %s", entries[1].Message)
	}
}

func TestFileSinkRotation(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "dbworkflow.log")

	// Tiny limit so every entry forces a rotation.
	sink, err := NewFileSink(path, 150, 3)
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		err := sink.Write(Entry{
			Timestamp:  now(),
			WorkflowID: "wf-rotate",
			Level:      LevelInfo,
			Component:  "test",
			Message:    fmt.Sprintf("rotation entry %02d with padding to cross the limit", i),
		})
		if err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Active file plus shifted backups, capped at backupCount.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected active log file: %v", err)
	}
	backups := 0
	for i := 1; i <= 3; i++ {
		if _, err := os.Stat(fmt.Sprintf("%s.%d", path, i)); err == nil {
			backups++
		}
	}
	if backups == 0 {
		t.Error("expected at least one backup after rotation")
	}
	if _, err := os.Stat(path + ".4"); err == nil {
		t.Error("backup beyond backupCount should not exist")
	}
}

func TestFileSinkRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "dbworkflow.log")

	sink, err := NewFileSink(path, 0, 0)
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}

	idx := 2
	ms := 123.0
	original := Entry{
		Timestamp:  1700000000.25,
		WorkflowID: "wf-rt",
		Level:      LevelWarning,
		Component:  "rules",
		Message:    "rule skipped",
		Data:       map[string]any{"rule_id": "py-raise", "attempts": float64(2)},
		StepIndex:  &idx,
		DurationMS: &ms,
	}
	if err := sink.Write(original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	sink.Close()

	f, _ := os.Open(path)
	defer f.Close()
	entries, err := ReadEntries(f)
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	got := entries[0]
	if got.Timestamp != original.Timestamp ||
		got.WorkflowID != original.WorkflowID ||
		got.Level != original.Level ||
		got.Component != original.Component ||
		got.Message != original.Message {
		t.Errorf("scalar fields did not round-trip: %+v", got)
	}
	if got.Data["rule_id"] != "py-raise" || got.Data["attempts"] != float64(2) {
		t.Errorf("data did not round-trip: %v", got.Data)
	}
	if got.StepIndex == nil || *got.StepIndex != 2 {
		t.Errorf("step index did not round-trip: %v", got.StepIndex)
	}
	if got.DurationMS == nil || *got.DurationMS != 123.0 {
		t.Errorf("duration did not round-trip: %v", got.DurationMS)
	}
}
