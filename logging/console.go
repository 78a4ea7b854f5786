package logging

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// ANSI color codes by level.
const (
	ansiReset   = "\x1b[0m"
	ansiDim     = "\x1b[90m"
	ansiCyan    = "\x1b[36m"
	ansiYellow  = "\x1b[33m"
	ansiRed     = "\x1b[31m"
	ansiMagenta = "\x1b[35m"
)

// progressBarWidth is the character width of rendered progress bars.
const progressBarWidth = 20

// ConsoleSink renders entries for humans: colored levels, tree glyphs for
// nested structures, block-character progress bars. Progress updates emit a
// fresh line each time; the sink never redraws.
type ConsoleSink struct {
	mu       sync.Mutex
	w        io.Writer
	minLevel Level
	color    bool
}

// NewConsoleSink writes human-readable output to w, filtering entries below
// minLevel.
func NewConsoleSink(w io.Writer, minLevel Level, color bool) *ConsoleSink {
	if !minLevel.IsValid() {
		minLevel = LevelInfo
	}
	return &ConsoleSink{w: w, minLevel: minLevel, color: color}
}

// Write renders one entry.
func (s *ConsoleSink) Write(entry Entry) error {
	if entry.Level.severity() < s.minLevel.severity() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Payload != nil {
		return s.renderPayload(entry)
	}

	var b strings.Builder
	ts := time.Unix(0, int64(entry.Timestamp*1e9)).Format("15:04:05")
	b.WriteString(s.paint(ansiDim, ts))
	b.WriteByte(' ')
	b.WriteString(s.paint(levelColor(entry.Level), fmt.Sprintf("%-8s", entry.Level)))
	b.WriteString(s.paint(ansiDim, "["+entry.Component+"] "))
	b.WriteString(entry.Message)

	if len(entry.Data) > 0 {
		keys := sortedKeys(entry.Data)
		for _, k := range keys {
			b.WriteString(s.paint(ansiDim, fmt.Sprintf(" %s=", k)))
			b.WriteString(fmt.Sprintf("%v", entry.Data[k]))
		}
	}
	if entry.DurationMS != nil {
		b.WriteString(s.paint(ansiDim, fmt.Sprintf(" (%.0fms)", *entry.DurationMS)))
	}

	_, err := fmt.Fprintln(s.w, b.String())
	return err
}

// Close is a no-op; the sink does not own the writer.
func (s *ConsoleSink) Close() error { return nil }

// renderPayload dispatches on payload kind. Callers hold the mutex.
func (s *ConsoleSink) renderPayload(entry Entry) error {
	p := entry.Payload
	switch p.Kind {
	case PayloadTable:
		return s.renderTable(p)
	case PayloadTree:
		return s.renderTree(p)
	case PayloadMetrics:
		return s.renderMetrics(p)
	case PayloadProgress:
		return s.renderProgress(p)
	default:
		_, err := fmt.Fprintf(s.w, "%s\n", p.Title)
		return err
	}
}

func (s *ConsoleSink) renderTable(p *Payload) error {
	var b strings.Builder
	b.WriteString("📋 " + p.Title + "\n")

	t := p.Table
	if t == nil || len(t.Headers) == 0 {
		_, err := fmt.Fprint(s.w, b.String())
		return err
	}

	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = len(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	b.WriteString("  ")
	for i, h := range t.Headers {
		b.WriteString(pad(h, widths[i]))
		if i < len(t.Headers)-1 {
			b.WriteString("  ")
		}
	}
	b.WriteByte('\n')

	b.WriteString("  ")
	for i := range t.Headers {
		b.WriteString(strings.Repeat("─", widths[i]))
		if i < len(t.Headers)-1 {
			b.WriteString("  ")
		}
	}
	b.WriteByte('\n')

	for _, row := range t.Rows {
		b.WriteString("  ")
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			b.WriteString(pad(cell, widths[i]))
			if i < len(row)-1 && i < len(widths)-1 {
				b.WriteString("  ")
			}
		}
		b.WriteByte('\n')
	}

	_, err := fmt.Fprint(s.w, b.String())
	return err
}

func (s *ConsoleSink) renderTree(p *Payload) error {
	var b strings.Builder
	b.WriteString("🌲 " + p.Title + "\n")
	writeTree(&b, p.Tree, "")
	_, err := fmt.Fprint(s.w, b.String())
	return err
}

// writeTree renders a nested mapping with ├─ and └─ glyphs, keys sorted for
// deterministic output.
func writeTree(b *strings.Builder, tree Tree, indent string) {
	keys := sortedKeys(tree)
	for i, key := range keys {
		last := i == len(keys)-1
		glyph, childIndent := "├─", indent+"│  "
		if last {
			glyph, childIndent = "└─", indent+"   "
		}

		switch child := tree[key].(type) {
		case Tree:
			fmt.Fprintf(b, "%s%s %s\n", indent, glyph, key)
			writeTree(b, child, childIndent)
		case map[string]any:
			fmt.Fprintf(b, "%s%s %s\n", indent, glyph, key)
			writeTree(b, Tree(child), childIndent)
		case nil:
			fmt.Fprintf(b, "%s%s %s\n", indent, glyph, key)
		default:
			fmt.Fprintf(b, "%s%s %s: %v\n", indent, glyph, key, child)
		}
	}
}

func (s *ConsoleSink) renderMetrics(p *Payload) error {
	var b strings.Builder
	b.WriteString("📊 " + p.Title + "\n")
	for _, key := range sortedKeys(p.Metrics) {
		fmt.Fprintf(&b, "  %s: %v\n", key, p.Metrics[key])
	}
	_, err := fmt.Fprint(s.w, b.String())
	return err
}

func (s *ConsoleSink) renderProgress(p *Payload) error {
	pr := p.Progress
	if pr == nil {
		return nil
	}

	var b strings.Builder
	switch pr.Status {
	case ProgressStarted:
		b.WriteString("├─ " + pr.StepName + " started")
		if pr.Total != nil {
			fmt.Fprintf(&b, " (0/%d)", *pr.Total)
		}
	case ProgressRunning:
		b.WriteString("├─ " + pr.StepName + " ")
		b.WriteString(renderBar(pr))
	case ProgressCompleted:
		b.WriteString("└─ " + pr.StepName + " completed")
		if pr.Current != nil && pr.Total != nil {
			fmt.Fprintf(&b, " (%d/%d)", *pr.Current, *pr.Total)
		}
	case ProgressFailed:
		b.WriteString("└─ " + s.paint(ansiRed, pr.StepName+" failed"))
	}

	_, err := fmt.Fprintln(s.w, b.String())
	return err
}

// renderBar draws a block-character bar with percent, counts, rate, and ETA.
func renderBar(pr *ProgressPayload) string {
	percent := 0.0
	if pr.Percent != nil {
		percent = *pr.Percent
	}
	filled := int(percent / 100 * progressBarWidth)
	if filled > progressBarWidth {
		filled = progressBarWidth
	}
	if filled < 0 {
		filled = 0
	}

	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(strings.Repeat("█", filled))
	b.WriteString(strings.Repeat("░", progressBarWidth-filled))
	b.WriteByte(']')
	fmt.Fprintf(&b, " %.1f%%", percent)
	if pr.Current != nil && pr.Total != nil {
		fmt.Fprintf(&b, " (%d/%d)", *pr.Current, *pr.Total)
	}
	if pr.Rate != nil && *pr.Rate > 0 {
		fmt.Fprintf(&b, " %.1f/s", *pr.Rate)
	}
	if pr.ETASeconds != nil {
		fmt.Fprintf(&b, " ETA %.0fs", *pr.ETASeconds)
	}
	return b.String()
}

// paint wraps s in an ANSI color when colors are enabled.
func (s *ConsoleSink) paint(color, text string) string {
	if !s.color {
		return text
	}
	return color + text + ansiReset
}

func levelColor(level Level) string {
	switch level {
	case LevelDebug:
		return ansiDim
	case LevelInfo:
		return ansiCyan
	case LevelWarning:
		return ansiYellow
	case LevelError:
		return ansiRed
	case LevelCritical:
		return ansiMagenta
	default:
		return ansiReset
	}
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
