package decommission

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/dbworkflow/classify"
	"github.com/c360studio/dbworkflow/repopack"
	"github.com/c360studio/dbworkflow/workflow"
)

// QA check names.
const (
	CheckResidualReferences = "no_residual_references"
	CheckRuleCompliance     = "rule_compliance"
	CheckServiceIntegrity   = "service_integrity"
)

// stepQualityAssurance fans out the three QA checks over the accumulated
// repository results. It runs regardless of how repository processing went:
// an aborted run still reports its residual state.
func stepQualityAssurance(ctx context.Context, wctx *workflow.Context, params map[string]any) (any, error) {
	p, err := pipelineFrom(wctx)
	if err != nil {
		return nil, err
	}

	database, _ := params["database"].(string)

	var results []RepositoryResult
	if v, ok := wctx.Shared(sharedResultsKey); ok {
		results, _ = v.([]RepositoryResult)
	}

	qa := &QAResult{Checks: make([]CheckResult, 3)}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		qa.Checks[0] = p.checkResidualReferences(gctx, results, database)
		return nil
	})
	g.Go(func() error {
		qa.Checks[1] = checkRuleCompliance(results)
		return nil
	})
	g.Go(func() error {
		qa.Checks[2] = p.checkServiceIntegrity(gctx, results)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	qa.computeScore()
	wctx.SetShared(sharedQAKey, qa)

	p.logInfo("qa", "Quality assurance finished", map[string]any{
		"score":     qa.Score,
		"residual":  string(qa.Checks[0].Status),
		"rules":     string(qa.Checks[1].Status),
		"integrity": string(qa.Checks[2].Status),
	})
	return qa, nil
}

// checkResidualReferences re-packs each decommissioned branch and greps for
// the database identifier. References surviving outside comment lines fail
// the check; a run that modified nothing passes trivially.
func (p *Pipeline) checkResidualReferences(ctx context.Context, results []RepositoryResult, database string) CheckResult {
	check := CheckResult{Name: CheckResidualReferences, Status: CheckPass}

	packer, err := p.packerClient(ctx)
	if err != nil {
		check.Status = CheckWarning
		check.Detail = fmt.Sprintf("packer unavailable: %v", err)
		return check
	}

	residual := 0
	for _, r := range results {
		if r.Branch == "" || r.FilesModified == 0 {
			continue
		}

		pack, err := packer.PackRemoteRepository(ctx, branchRef(r.RepoURL, r.Branch), nil, nil)
		if err != nil {
			check.Status = CheckWarning
			check.Detail = fmt.Sprintf("re-pack %s: %v", r.RepoURL, err)
			continue
		}

		matches, err := packer.GrepPackedOutput(ctx, pack.ArchivePath, repopack.IdentifierPattern(database).String(), 0)
		if err != nil {
			check.Status = CheckWarning
			check.Detail = fmt.Sprintf("grep %s: %v", r.RepoURL, err)
			continue
		}
		for _, m := range matches {
			if isExpectedResidual(m.Path, m.Line) {
				continue
			}
			residual++
		}
	}

	if residual > 0 {
		check.Status = CheckFail
		check.Detail = fmt.Sprintf("%d live references remain", residual)
	}
	return check
}

// isExpectedResidual reports whether a surviving reference is one the
// rewrites intentionally leave behind: commented lines, the fail-fast guard
// naming the decommissioned database, and documentation prose (which gets a
// notice, not a deletion).
func isExpectedResidual(path, line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"#", "//", "--", "<!--", "*", "/*"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	if strings.Contains(strings.ToLower(line), "decommission") {
		return true
	}
	return classify.Classify(path, nil).Type == classify.Documentation
}

// checkRuleCompliance verifies that every matched file received a commit.
func checkRuleCompliance(results []RepositoryResult) CheckResult {
	check := CheckResult{Name: CheckRuleCompliance, Status: CheckPass}

	missing := 0
	for _, r := range results {
		modified := map[string]bool{}
		for _, path := range r.ModifiedPaths {
			modified[path] = true
		}
		for _, path := range r.MatchedPaths {
			if !modified[path] {
				missing++
			}
		}
	}
	if missing > 0 {
		check.Status = CheckFail
		check.Detail = fmt.Sprintf("%d matched files without a commit", missing)
	}
	return check
}

// checkServiceIntegrity confirms the repositories still resolve structurally.
// Advisory: failures downgrade to a warning, never a fail.
func (p *Pipeline) checkServiceIntegrity(ctx context.Context, results []RepositoryResult) CheckResult {
	check := CheckResult{Name: CheckServiceIntegrity, Status: CheckPass}

	host, err := p.hostClient(ctx)
	if err != nil {
		check.Status = CheckWarning
		check.Detail = fmt.Sprintf("host unavailable: %v", err)
		return check
	}

	for _, r := range results {
		if r.Owner == "" || r.FilesModified == 0 {
			continue
		}
		if _, err := host.AnalyzeRepoStructure(ctx, r.Owner, r.Repo); err != nil {
			check.Status = CheckWarning
			check.Detail = fmt.Sprintf("analyze %s/%s: %v", r.Owner, r.Repo, err)
			p.logWarning("qa", "Service integrity check degraded", map[string]any{
				"repo":  r.RepoURL,
				"error": err.Error(),
			})
		}
	}
	return check
}
