package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/dbworkflow/decommission"
	"github.com/c360studio/dbworkflow/rules"
)

func init() {
	var (
		database  string
		repos     []string
		rulesFile string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Build the workflow and report its plan without executing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePlan(cmd, database, repos, rulesFile)
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "database name to decommission (required)")
	cmd.Flags().StringSliceVar(&repos, "repos", nil, "target repository URLs (required)")
	cmd.Flags().StringVar(&rulesFile, "rules", "", "YAML rule overlay file (optional)")

	register(cmd)
}

// validatePlan dry-runs the setup: pipeline construction, overlay parsing,
// DAG build and topological ordering. Nothing executes and no tool server
// starts.
func validatePlan(cmd *cobra.Command, database string, repos []string, rulesFile string) error {
	opts := []decommission.PipelineOption{}
	if rulesFile != "" {
		overlay, err := rules.LoadOverlay(rulesFile)
		if err != nil {
			return &ExitError{Code: exitConfig, Err: err}
		}
		opts = append(opts, decommission.WithRulesEngine(rules.NewEngine(rules.WithOverlay(overlay))))
		fmt.Fprintf(cmd.OutOrStdout(), "Rule overlay: %s (%d rules)\n", rulesFile, len(overlay))
	}

	pipeline, err := decommission.NewPipeline(database, repos, opts...)
	if err != nil {
		return &ExitError{Code: exitConfig, Err: err}
	}

	wf, _, err := pipeline.Build()
	if err != nil {
		return &ExitError{Code: exitConfig, Err: err}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Workflow: %s\n", wf.Config.Name)
	fmt.Fprintf(out, "Database: %s\n", database)
	fmt.Fprintf(out, "Repositories: %s\n", strings.Join(repos, ", "))
	fmt.Fprintf(out, "Branch: %s\n", pipeline.Branch())
	fmt.Fprintln(out, "Plan:")
	for i, id := range wf.Order() {
		step := wf.Steps[id]
		line := fmt.Sprintf("  %d. %s (%s)", i+1, step.Name, id)
		if len(step.DependsOn) > 0 {
			line += " after " + strings.Join(step.DependsOn, ", ")
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
