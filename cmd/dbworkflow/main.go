// Package main provides the dbworkflow binary entry point.
// Dbworkflow decommissions databases across repositories: it discovers
// references through packed repository archives, rewrites them on dedicated
// branches, opens pull requests, and verifies the result.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/dbworkflow/commands"
)

const appName = "dbworkflow"

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}

	var exitErr *commands.ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(exitErr.Code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Database decommissioning workflows",
		Long: `Dbworkflow runs database decommissioning across source repositories.

It discovers references to a database in packed repository archives,
rewrites them with source-type-aware rules on a dedicated branch, opens
pull requests, posts chat notifications, and verifies the result with
quality-assurance checks.

Repository access, packing, and chat go through tool servers configured
in an mcpServers file (see --config).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cmd.Name() != "version" {
				printBanner()
			}
		},
	}

	commands.BindGlobals(cmd)
	commands.AddTo(cmd)
	return cmd
}

func printBanner() {
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║           Dbworkflow v"+commands.Version+"                  ║")
	fmt.Fprintln(os.Stderr, "║      Database Decommissioning Workflows       ║")
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════════════╝")
}
