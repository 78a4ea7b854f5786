package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultLogPath is the workflow log file written when no override is given.
const DefaultLogPath = "dbworkflow.log"

// Logger is the per-workflow structured logger. It fans entries out to the
// file sink (everything), the console sink (filtered, human-rendered), and
// the optional event mirror.
type Logger struct {
	workflowID string
	file       *FileSink
	console    *ConsoleSink
	mirror     *EventMirror
	secrets    []string

	mu       sync.Mutex
	progress map[string]*progressState
}

type progressState struct {
	total       int
	current     int
	lastCurrent int
	lastTime    time.Time
	startedAt   time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithFileSink attaches a rotating file sink.
func WithFileSink(file *FileSink) Option {
	return func(l *Logger) { l.file = file }
}

// WithConsoleSink attaches a console sink.
func WithConsoleSink(console *ConsoleSink) Option {
	return func(l *Logger) { l.console = console }
}

// WithEventMirror attaches the NATS event mirror.
func WithEventMirror(mirror *EventMirror) Option {
	return func(l *Logger) { l.mirror = mirror }
}

// WithSecretValues registers values masked in every sink. Masking is by
// value so secrets embedded in URLs or connection strings are caught too.
func WithSecretValues(values []string) Option {
	return func(l *Logger) { l.secrets = append(l.secrets, values...) }
}

// New creates the logger for one workflow run. Without options it logs to
// the default file and a colored stderr console.
func New(workflowID string, opts ...Option) (*Logger, error) {
	l := &Logger{
		workflowID: workflowID,
		progress:   map[string]*progressState{},
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.file == nil && l.console == nil {
		file, err := NewFileSink(DefaultLogPath, DefaultMaxBytes, DefaultBackupCount)
		if err != nil {
			return nil, err
		}
		l.file = file
		l.console = NewConsoleSink(os.Stderr, LevelInfo, true)
	}
	return l, nil
}

// Close shuts down all sinks.
func (l *Logger) Close() error {
	var firstErr error
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			firstErr = err
		}
	}
	if l.mirror != nil {
		if err := l.mirror.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WorkflowID returns the id this logger is scoped to.
func (l *Logger) WorkflowID() string {
	return l.workflowID
}

// Log emits one entry to every sink.
func (l *Logger) Log(level Level, component, message string, data map[string]any) {
	l.emit(Entry{
		Timestamp:  now(),
		WorkflowID: l.workflowID,
		Level:      level,
		Component:  component,
		Message:    message,
		Data:       data,
	}, false)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(component, message string, data map[string]any) {
	l.Log(LevelDebug, component, message, data)
}

// Info logs at INFO level.
func (l *Logger) Info(component, message string, data map[string]any) {
	l.Log(LevelInfo, component, message, data)
}

// Warning logs at WARNING level.
func (l *Logger) Warning(component, message string, data map[string]any) {
	l.Log(LevelWarning, component, message, data)
}

// Error logs at ERROR level.
func (l *Logger) Error(component, message string, data map[string]any) {
	l.Log(LevelError, component, message, data)
}

// Critical logs at CRITICAL level.
func (l *Logger) Critical(component, message string, data map[string]any) {
	l.Log(LevelCritical, component, message, data)
}

// FileOnly emits an entry to the file sink and mirror, skipping the console.
// Used for detail dumps that would drown a human (full parameter listings,
// per-file diagnostics).
func (l *Logger) FileOnly(level Level, component, message string, data map[string]any) {
	l.emit(Entry{
		Timestamp:  now(),
		WorkflowID: l.workflowID,
		Level:      level,
		Component:  component,
		Message:    message,
		Data:       data,
	}, true)
}

// StepStart logs the start of a workflow step.
func (l *Logger) StepStart(stepIndex int, stepID, name string) {
	idx := stepIndex
	l.emit(Entry{
		Timestamp:  now(),
		WorkflowID: l.workflowID,
		Level:      LevelInfo,
		Component:  "engine",
		Message:    "Step started: " + name,
		Data:       map[string]any{"step_id": stepID},
		StepIndex:  &idx,
	}, false)
}

// StepComplete logs the completion of a workflow step with its duration.
func (l *Logger) StepComplete(stepIndex int, stepID, name, status string, duration time.Duration) {
	idx := stepIndex
	ms := float64(duration.Milliseconds())
	level := LevelInfo
	if status == "failed" {
		level = LevelError
	}
	l.emit(Entry{
		Timestamp:  now(),
		WorkflowID: l.workflowID,
		Level:      level,
		Component:  "engine",
		Message:    "Step " + status + ": " + name,
		Data:       map[string]any{"step_id": stepID, "status": status},
		StepIndex:  &idx,
		DurationMS: &ms,
	}, false)
}

// LogTable emits a table payload.
func (l *Logger) LogTable(component string, payload *Payload) {
	l.emitPayload(component, payload)
}

// LogTree emits a tree payload.
func (l *Logger) LogTree(component string, payload *Payload) {
	l.emitPayload(component, payload)
}

// LogMetrics emits a metrics payload.
func (l *Logger) LogMetrics(component string, payload *Payload) {
	l.emitPayload(component, payload)
}

func (l *Logger) emitPayload(component string, payload *Payload) {
	l.emit(Entry{
		Timestamp:  now(),
		WorkflowID: l.workflowID,
		Level:      LevelInfo,
		Component:  component,
		Message:    payload.Title,
		Payload:    payload,
	}, false)
}

// StartStep begins progress tracking for a named step.
func (l *Logger) StartStep(name string, total int) {
	l.mu.Lock()
	l.progress[name] = &progressState{
		total:     total,
		lastTime:  time.Now(),
		startedAt: time.Now(),
	}
	l.mu.Unlock()

	t := total
	l.emitProgress(name, &ProgressPayload{
		StepName: name,
		Status:   ProgressStarted,
		Total:    &t,
	})
}

// UpdateProgress records a progress update. Rate is recomputed from the
// delta since the previous update; ETA from the remaining count and rate.
func (l *Logger) UpdateProgress(name string, current, total int) {
	l.mu.Lock()
	state, ok := l.progress[name]
	if !ok {
		state = &progressState{lastTime: time.Now(), startedAt: time.Now()}
		l.progress[name] = state
	}
	nowT := time.Now()
	elapsed := nowT.Sub(state.lastTime).Seconds()

	var rate float64
	if elapsed > 0 {
		rate = float64(current-state.lastCurrent) / elapsed
	}
	state.lastCurrent = current
	state.lastTime = nowT
	state.current = current
	if total > 0 {
		state.total = total
	}
	total = state.total
	l.mu.Unlock()

	payload := &ProgressPayload{
		StepName: name,
		Status:   ProgressRunning,
		Current:  &current,
		Total:    &total,
	}
	if total > 0 {
		percent := float64(current) / float64(total) * 100
		payload.Percent = &percent
	}
	if rate > 0 {
		payload.Rate = &rate
		eta := float64(total-current) / rate
		if eta >= 0 {
			payload.ETASeconds = &eta
		}
	}

	l.emitProgress(name, payload)
}

// CompleteStep finishes progress tracking with a terminal status.
func (l *Logger) CompleteStep(name string, status ProgressStatus) {
	l.mu.Lock()
	state := l.progress[name]
	delete(l.progress, name)
	l.mu.Unlock()

	payload := &ProgressPayload{StepName: name, Status: status}
	if state != nil {
		c, t := state.current, state.total
		payload.Current = &c
		payload.Total = &t
	}
	l.emitProgress(name, payload)
}

func (l *Logger) emitProgress(name string, payload *ProgressPayload) {
	l.emit(Entry{
		Timestamp:  now(),
		WorkflowID: l.workflowID,
		Level:      LevelInfo,
		Component:  "progress",
		Message:    name,
		Payload:    &Payload{Kind: PayloadProgress, Title: name, Progress: payload},
	}, false)
}

// emit masks secrets and writes the entry to the sinks. Sink failures are
// deliberately swallowed: logging must never take the pipeline down.
func (l *Logger) emit(entry Entry, fileOnly bool) {
	entry = l.mask(entry)

	if l.file != nil {
		_ = l.file.Write(entry)
	}
	if l.mirror != nil {
		_ = l.mirror.Write(entry)
	}
	if !fileOnly && l.console != nil {
		_ = l.console.Write(entry)
	}
}

// mask replaces registered secret values wherever they appear in the entry.
func (l *Logger) mask(entry Entry) Entry {
	if len(l.secrets) == 0 {
		return entry
	}

	entry.Message = l.maskString(entry.Message)
	if len(entry.Data) > 0 {
		masked := make(map[string]any, len(entry.Data))
		for k, v := range entry.Data {
			if s, ok := v.(string); ok {
				masked[k] = l.maskString(s)
			} else {
				masked[k] = v
			}
		}
		entry.Data = masked
	}
	return entry
}

func (l *Logger) maskString(s string) string {
	for _, secret := range l.secrets {
		if secret != "" && strings.Contains(s, secret) {
			s = strings.ReplaceAll(s, secret, redactValue(secret))
		}
	}
	return s
}

// redactValue matches config.Redact without importing it: first 4 + last 4.
func redactValue(value string) string {
	if len(value) <= 8 {
		return "********"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

// Slog returns a *slog.Logger whose records flow through this logger's
// sinks, for packages that speak slog.
func (l *Logger) Slog(component string) *slog.Logger {
	return slog.New(&slogBridge{logger: l, component: component})
}

// slogBridge adapts slog records into entries.
type slogBridge struct {
	logger    *Logger
	component string
	attrs     []slog.Attr
	group     string
}

func (h *slogBridge) Enabled(_ context.Context, _ slog.Level) bool {
	// The sinks filter; the bridge forwards everything.
	return true
}

func (h *slogBridge) Handle(_ context.Context, record slog.Record) error {
	data := map[string]any{}
	for _, attr := range h.attrs {
		data[h.key(attr.Key)] = attr.Value.Any()
	}
	record.Attrs(func(attr slog.Attr) bool {
		data[h.key(attr.Key)] = attr.Value.Any()
		return true
	})
	if len(data) == 0 {
		data = nil
	}

	h.logger.Log(slogLevel(record.Level), h.component, record.Message, data)
	return nil
}

func (h *slogBridge) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func (h *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &slogBridge{logger: h.logger, component: h.component, attrs: merged, group: h.group}
}

func (h *slogBridge) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &slogBridge{logger: h.logger, component: h.component, attrs: h.attrs, group: group}
}

func slogLevel(level slog.Level) Level {
	switch {
	case level < slog.LevelInfo:
		return LevelDebug
	case level < slog.LevelWarn:
		return LevelInfo
	case level < slog.LevelError:
		return LevelWarning
	default:
		return LevelError
	}
}
