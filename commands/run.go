package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/c360studio/dbworkflow/config"
	"github.com/c360studio/dbworkflow/decommission"
	"github.com/c360studio/dbworkflow/metrics"
	"github.com/c360studio/dbworkflow/rules"
	"github.com/c360studio/dbworkflow/workflow"
)

// coordinatorGrace bounds how long tool-server children get to exit.
const coordinatorGrace = 30 * time.Second

func init() {
	var (
		database   string
		repos      []string
		rulesFile  string
		fallback   bool
		baseBranch string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Decommission a database across repositories",
		Long: `Run the decommission pipeline: discover references to the database in
each repository, rewrite them on a dedicated branch, open pull requests,
and verify the result.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecommission(cmd.Context(), database, repos, rulesFile, fallback, baseBranch)
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "database name to decommission (required)")
	cmd.Flags().StringSliceVar(&repos, "repos", nil, "target repository URLs (required)")
	cmd.Flags().StringVar(&rulesFile, "rules", "", "YAML rule overlay file (optional)")
	cmd.Flags().BoolVar(&fallback, "fallback", false, "use the rule-less fallback processor (local output, no commits)")
	cmd.Flags().StringVar(&baseBranch, "base-branch", "main", "branch pull requests target")

	register(cmd)
}

// Exit codes for run.
const (
	exitOK        = 0
	exitConfig    = 1
	exitPartial   = 2
	exitCancelled = 3
)

func runDecommission(ctx context.Context, database string, repos []string, rulesFile string, fallback bool, baseBranch string) error {
	workflowID := uuid.NewString()

	logger, closeLogger, err := newLogger(workflowID)
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

	opts := []decommission.PipelineOption{
		decommission.WithCoordinator(coordinator),
		decommission.WithPipelineLogger(logger),
		decommission.WithWorkflowID(workflowID),
		decommission.WithBaseBranch(baseBranch),
	}
	if fallback {
		opts = append(opts, decommission.WithFallbackProcessor())
	}
	if rulesFile != "" {
		overlay, err := rules.LoadOverlay(rulesFile)
		if err != nil {
			return &ExitError{Code: exitConfig, Err: err}
		}
		opts = append(opts, decommission.WithRulesEngine(rules.NewEngine(rules.WithOverlay(overlay))))
	}

	if globals.MetricsAddr != "" {
		collector := metrics.NewCollector("")
		server, err := metrics.NewServer(globals.MetricsAddr, collector)
		if err != nil {
			return &ExitError{Code: exitConfig, Err: fmt.Errorf("metrics listener: %w", err)}
		}
		go func() { _ = server.Serve() }()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
		opts = append(opts, decommission.WithObserver(collector))
	}

	pipeline, err := decommission.NewPipeline(database, repos, opts...)
	if err != nil {
		return &ExitError{Code: exitConfig, Err: err}
	}

	result, summary, err := pipeline.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return &ExitError{Code: exitCancelled, Err: err}
	case err != nil && config.IsConfigurationError(err):
		return &ExitError{Code: exitConfig, Err: err}
	case err != nil:
		return &ExitError{Code: exitPartial, Err: err}
	}

	if summary != nil {
		fmt.Printf("Decommissioned %s: %d repositories, %d files modified, %d pull requests (%.0f%% success)\n",
			database, summary.ReposProcessed, summary.FilesModified, summary.PullRequests, summary.SuccessRate)
	}

	if result.Status != workflow.StatusCompleted || (summary != nil && summary.ReposFailed > 0) {
		return &ExitError{Code: exitPartial, Err: fmt.Errorf("run finished %s", result.Status)}
	}
	return nil
}
