// Package commands provides the dbworkflow subcommands. Each command file
// registers itself via init(); the entrypoint attaches the registry to the
// cobra root.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/spf13/cobra"

	"github.com/c360studio/dbworkflow/config"
	"github.com/c360studio/dbworkflow/logging"
	"github.com/c360studio/dbworkflow/tools"
)

var (
	registryMu sync.Mutex
	registry   []*cobra.Command
)

// register adds a subcommand to the global registry.
func register(cmd *cobra.Command) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, cmd)
}

// AddTo attaches every registered subcommand to root, sorted by name.
func AddTo(root *cobra.Command) {
	registryMu.Lock()
	defer registryMu.Unlock()

	sorted := make([]*cobra.Command, len(registry))
	copy(sorted, registry)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })
	for _, cmd := range sorted {
		root.AddCommand(cmd)
	}
}

// Globals holds the persistent flag values shared by every subcommand.
type Globals struct {
	ConfigPath  string
	LogFile     string
	LogLevel    string
	EventsURL   string
	MetricsAddr string
	Transcript  string
}

var globals Globals

// BindGlobals declares the persistent flags on the root command.
func BindGlobals(root *cobra.Command) {
	f := root.PersistentFlags()
	f.StringVar(&globals.ConfigPath, "config", "", "tool-server configuration file (mcpServers)")
	f.StringVar(&globals.LogFile, "log-file", "dbworkflow.log", "structured JSON log file")
	f.StringVar(&globals.LogLevel, "log-level", "info", "console log level (debug, info, warn, error)")
	f.StringVar(&globals.EventsURL, "events-url", "", "NATS URL mirroring log events (optional)")
	f.StringVar(&globals.MetricsAddr, "metrics-addr", "", "address for the Prometheus /metrics listener (optional)")
	f.StringVar(&globals.Transcript, "transcript", "", "tool-call transcript file, one JSON object per line (optional)")
}

// ExitError carries a process exit code through cobra's error return.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// consoleLevel maps the --log-level flag to the structured-log sink level.
func consoleLevel(name string) logging.Level {
	switch name {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarning
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// newLogger assembles the run logger from the global flags: rotating JSON
// file sink, stderr console sink, and an optional NATS event mirror. The
// returned closer flushes every sink.
func newLogger(workflowID string) (*logging.Logger, func(), error) {
	opts := []logging.Option{
		logging.WithConsoleSink(logging.NewConsoleSink(os.Stderr, consoleLevel(globals.LogLevel), false)),
	}

	if globals.LogFile != "" {
		file, err := logging.NewFileSink(globals.LogFile, logging.DefaultMaxBytes, logging.DefaultBackupCount)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		opts = append(opts, logging.WithFileSink(file))
	}
	if globals.EventsURL != "" {
		mirror, err := logging.NewEventMirror(globals.EventsURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect event mirror: %w", err)
		}
		opts = append(opts, logging.WithEventMirror(mirror))
	}

	logger, err := logging.New(workflowID, opts...)
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Close() }, nil
}

// newCoordinator loads the tool-server configuration and builds the
// coordinator, with transcript recording when --transcript is set.
func newCoordinator(logger *slog.Logger) (*tools.Coordinator, func(), error) {
	if globals.ConfigPath == "" {
		return nil, nil, fmt.Errorf("%w: --config", config.ErrMissingParameter)
	}

	servers, err := config.LoadServers(globals.ConfigPath, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := []tools.CoordinatorOption{tools.WithCoordinatorLogger(logger)}
	closer := func() {}
	if globals.Transcript != "" {
		transcript, err := tools.OpenTranscript(globals.Transcript)
		if err != nil {
			return nil, nil, fmt.Errorf("open transcript: %w", err)
		}
		opts = append(opts, tools.WithTranscript(transcript))
		closer = func() { _ = transcript.Close() }
	}

	return tools.NewCoordinator(servers, opts...), closer, nil
}
