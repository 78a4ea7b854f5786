package logging

import (
	"strings"
	"testing"
)

func TestConsoleSinkFiltersByLevel(t *testing.T) {
	var buf strings.Builder
	sink := NewConsoleSink(&buf, LevelWarning, false)

	sink.Write(Entry{Timestamp: now(), Level: LevelInfo, Component: "x", Message: "hidden"})
	sink.Write(Entry{Timestamp: now(), Level: LevelError, Component: "x", Message: "visible"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("INFO entry should be filtered below WARNING")
	}
	if !strings.Contains(out, "visible") {
		t.Error("ERROR entry should be rendered")
	}
}

func TestConsoleSinkRendersDataPairs(t *testing.T) {
	var buf strings.Builder
	sink := NewConsoleSink(&buf, LevelDebug, false)

	sink.Write(Entry{
		Timestamp: now(),
		Level:     LevelInfo,
		Component: "tools.packer",
		Message:   "Packed repository",
		Data:      map[string]any{"files": 12, "archive": "/tmp/pack.xml"},
	})

	out := buf.String()
	if !strings.Contains(out, "[tools.packer]") {
		t.Errorf("expected component tag, got %q", out)
	}
	if !strings.Contains(out, "archive=/tmp/pack.xml") || !strings.Contains(out, "files=12") {
		t.Errorf("expected data pairs, got %q", out)
	}
}

func TestConsoleSinkRendersTree(t *testing.T) {
	var buf strings.Builder
	sink := NewConsoleSink(&buf, LevelDebug, false)

	sink.Write(Entry{
		Timestamp: now(),
		Level:     LevelInfo,
		Component: "discovery",
		Payload: NewTree("Matches by type", Tree{
			"infrastructure": Tree{"main.tf": 3},
			"python":         Tree{"db.py": 7},
		}),
	})

	out := buf.String()
	if !strings.Contains(out, "├─ infrastructure") {
		t.Errorf("expected branch glyph, got %q", out)
	}
	if !strings.Contains(out, "└─ python") {
		t.Errorf("expected last-branch glyph, got %q", out)
	}
	if !strings.Contains(out, "db.py: 7") {
		t.Errorf("expected leaf value, got %q", out)
	}
}

func TestConsoleSinkRendersTable(t *testing.T) {
	var buf strings.Builder
	sink := NewConsoleSink(&buf, LevelDebug, false)

	sink.Write(Entry{
		Timestamp: now(),
		Level:     LevelInfo,
		Component: "qa",
		Payload: NewTable("QA checks",
			[]string{"CHECK", "RESULT"},
			[][]string{
				{"no residual references", "pass"},
				{"rule compliance", "pass"},
			},
			nil),
	})

	out := buf.String()
	if !strings.Contains(out, "QA checks") {
		t.Errorf("expected title, got %q", out)
	}
	if !strings.Contains(out, "CHECK") || !strings.Contains(out, "RESULT") {
		t.Errorf("expected headers, got %q", out)
	}
	if !strings.Contains(out, "no residual references  pass") {
		t.Errorf("expected padded row, got %q", out)
	}
}

func TestConsoleSinkRendersProgressBar(t *testing.T) {
	var buf strings.Builder
	sink := NewConsoleSink(&buf, LevelDebug, false)

	percent := 50.0
	current, total := 5, 10
	rate := 2.5
	eta := 2.0
	sink.Write(Entry{
		Timestamp: now(),
		Level:     LevelInfo,
		Component: "progress",
		Payload: &Payload{
			Kind:  PayloadProgress,
			Title: "process_repositories",
			Progress: &ProgressPayload{
				StepName:   "process_repositories",
				Status:     ProgressRunning,
				Percent:    &percent,
				Current:    &current,
				Total:      &total,
				Rate:       &rate,
				ETASeconds: &eta,
			},
		},
	})

	out := buf.String()
	if !strings.Contains(out, "██████████░░░░░░░░░░") {
		t.Errorf("expected half-filled 20-char bar, got %q", out)
	}
	if !strings.Contains(out, "50.0%") || !strings.Contains(out, "(5/10)") {
		t.Errorf("expected percent and counts, got %q", out)
	}
	if !strings.Contains(out, "2.5/s") || !strings.Contains(out, "ETA 2s") {
		t.Errorf("expected rate and ETA, got %q", out)
	}
}

func TestConsoleSinkColorToggle(t *testing.T) {
	var colored strings.Builder
	NewConsoleSink(&colored, LevelDebug, true).Write(Entry{
		Timestamp: now(), Level: LevelError, Component: "x", Message: "boom",
	})
	if !strings.Contains(colored.String(), "\x1b[31m") {
		t.Error("expected ANSI red for ERROR with color on")
	}

	var plain strings.Builder
	NewConsoleSink(&plain, LevelDebug, false).Write(Entry{
		Timestamp: now(), Level: LevelError, Component: "x", Message: "boom",
	})
	if strings.Contains(plain.String(), "\x1b[") {
		t.Error("expected no ANSI codes with color off")
	}
}
