package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "tools [server]",
		Short: "Start tool servers and report their tools and health",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server := ""
			if len(args) == 1 {
				server = args[0]
			}
			return inspectTools(cmd, server)
		},
	}
	register(cmd)
}

// inspectTools starts the named server (or every configured one), lists its
// tools, and probes health.
func inspectTools(cmd *cobra.Command, server string) error {
	logger, closeLogger, err := newLogger("tools-inspect")
	if err != nil {
		return &ExitError{Code: exitConfig, Err: err}
	}
	defer closeLogger()

	coordinator, closeTranscript, err := newCoordinator(logger.Slog("tools"))
	if err != nil {
		return &ExitError{Code: exitConfig, Err: err}
	}
	defer closeTranscript()
	defer coordinator.StopAll(coordinatorGrace)

	names := coordinator.Servers()
	if server != "" {
		names = []string{server}
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	failures := 0
	for _, name := range names {
		client, err := coordinator.Client(ctx, name)
		if err != nil {
			failures++
			fmt.Fprintf(out, "%s: start failed: %v\n", name, err)
			continue
		}

		healthy := client.HealthCheck(ctx)
		available, err := client.ListAvailableTools(ctx)
		if err != nil {
			failures++
			fmt.Fprintf(out, "%s: healthy=%t, list tools failed: %v\n", name, healthy, err)
			continue
		}
		fmt.Fprintf(out, "%s: healthy=%t, %d tools\n", name, healthy, len(available))
		if len(available) > 0 {
			fmt.Fprintf(out, "  %s\n", strings.Join(available, ", "))
		}
	}

	if failures > 0 {
		return &ExitError{Code: exitPartial, Err: fmt.Errorf("%d of %d servers degraded", failures, len(names))}
	}
	return nil
}
