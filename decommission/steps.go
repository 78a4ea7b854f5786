package decommission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/dbworkflow/classify"
	"github.com/c360studio/dbworkflow/discovery"
	"github.com/c360studio/dbworkflow/logging"
	"github.com/c360studio/dbworkflow/repopack"
	"github.com/c360studio/dbworkflow/workflow"
)

// stepValidateEnvironment resolves the environment snapshot, warms up the
// tool clients, and logs an environment summary.
func stepValidateEnvironment(ctx context.Context, wctx *workflow.Context, params map[string]any) (any, error) {
	p, err := pipelineFrom(wctx)
	if err != nil {
		return nil, err
	}

	snapshot, err := p.params.Snapshot(
		[]string{ParamHostToken},
		map[string]string{
			ParamChatToken:   "",
			ParamChatChannel: DefaultChannel,
			ParamCacheDir:    "tests/tmp/cache",
		},
	)
	if err != nil {
		return nil, err
	}
	wctx.SetShared(sharedEnvKey, snapshot)

	if _, err := p.packerClient(ctx); err != nil {
		return nil, fmt.Errorf("packer unavailable: %w", err)
	}
	if _, err := p.hostClient(ctx); err != nil {
		return nil, fmt.Errorf("host unavailable: %w", err)
	}
	chat := p.chatClient(ctx)

	database, _ := params["database"].(string)
	repos, _ := params["repos"].([]string)

	p.logInfo("environment", "Environment validated", map[string]any{
		"database":     database,
		"repositories": len(repos),
		"parameters":   snapshot.Len(),
		"secrets":      snapshot.SecretCount(),
		"chat_enabled": chat.Enabled(),
	})

	return map[string]any{
		"database":     database,
		"repositories": len(repos),
		"chat_enabled": chat.Enabled(),
	}, nil
}

// stepProcessRepositories runs the per-repository pipeline sequentially.
// Repository failures are recorded in their results, never returned: the QA
// step always runs over whatever accumulated.
func stepProcessRepositories(ctx context.Context, wctx *workflow.Context, params map[string]any) (any, error) {
	p, err := pipelineFrom(wctx)
	if err != nil {
		return nil, err
	}

	database, _ := params["database"].(string)
	repos, _ := params["repos"].([]string)

	results := make([]RepositoryResult, 0, len(repos))
	for _, repoURL := range repos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, p.processRepository(ctx, wctx, repoURL, database))
	}
	wctx.SetShared(sharedResultsKey, results)

	modified := 0
	failed := 0
	for _, r := range results {
		modified += r.FilesModified
		if r.Failed() {
			failed++
		}
	}
	return map[string]any{
		"repositories":   len(results),
		"failed":         failed,
		"files_modified": modified,
	}, nil
}

// processRepository packs, discovers, rewrites, and announces one repository.
func (p *Pipeline) processRepository(ctx context.Context, wctx *workflow.Context, repoURL, database string) RepositoryResult {
	result := RepositoryResult{RepoURL: repoURL}

	fail := func(stage string, err error) RepositoryResult {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", stage, err))
		p.logError("pipeline", "Repository stage failed", map[string]any{
			"repo":  repoURL,
			"stage": stage,
			"error": err.Error(),
		})
		return result
	}

	owner, repo, err := parseRepoURL(repoURL)
	if err != nil {
		return fail("parse", err)
	}
	result.Owner, result.Repo = owner, repo

	packer, err := p.packerClient(ctx)
	if err != nil {
		return fail("packer", err)
	}
	pack, err := packer.PackRemoteRepository(ctx, repoURL, nil, nil)
	if err != nil {
		return fail("pack", err)
	}

	extraction, err := p.extractor.Extract(ctx, pack.ArchivePath, database)
	if err != nil {
		return fail("extract", err)
	}

	report, err := p.discoverer.Discover(ctx, pack.ArchivePath, database)
	if err != nil {
		return fail("discover", err)
	}

	result.FilesMatched = len(extraction.MatchedFiles)
	result.DiscoverySummary = summarizeDiscovery(report)
	for i := range extraction.MatchedFiles {
		mf := &extraction.MatchedFiles[i]
		c := classify.Classify(mf.OriginalPath, []byte(mf.Content))
		mf.SourceType = c.Type
		mf.Confidence = c.Confidence
		mf.FrameworkHints = c.FrameworkHints
		result.MatchedPaths = append(result.MatchedPaths, mf.OriginalPath)
	}

	if result.FilesMatched == 0 {
		p.logInfo("pipeline", "No references found", map[string]any{
			"repo":     repoURL,
			"database": database,
		})
		p.notify(ctx, wctx, &result, fmt.Sprintf(
			"No %s references in %s; nothing to do.", database, repoURL))
		return result
	}

	if p.fallback {
		p.rewriteFallback(extraction, database, &result)
	} else {
		p.rewriteWithRules(ctx, extraction, database, owner, repo, &result)
	}

	p.announce(ctx, wctx, &result, database)
	return result
}

// rewriteWithRules commits per-file rewrites on a fresh branch and opens a
// pull request.
func (p *Pipeline) rewriteWithRules(ctx context.Context, extraction *repopack.ExtractionResult, database, owner, repo string, result *RepositoryResult) {
	host, err := p.hostClient(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("host: %v", err))
		return
	}

	branch := p.Branch()
	if err := host.CreateBranch(ctx, owner, repo, p.baseBranch, branch); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("branch: %v", err))
		return
	}
	result.Branch = branch

	var outcomes []string
	for _, mf := range extraction.MatchedFiles {
		ref, fr, err := p.engine.ApplyAndCommit(ctx, host, owner, repo, branch, mf, database)
		switch {
		case err != nil:
			// Rule errors skip the file; the run continues.
			result.Errors = append(result.Errors, fmt.Sprintf("commit %s: %v", mf.OriginalPath, err))
			outcomes = append(outcomes, fmt.Sprintf("- `%s` — failed: %v", mf.OriginalPath, err))
		case fr.Skipped:
			outcomes = append(outcomes, fmt.Sprintf("- `%s` — already decommissioned", mf.OriginalPath))
		default:
			result.FilesModified++
			result.ModifiedPaths = append(result.ModifiedPaths, mf.OriginalPath)
			outcomes = append(outcomes, fmt.Sprintf("- `%s` (%s) — %d lines, commit %s",
				mf.OriginalPath, fr.SourceType, fr.LinesChanged, ref.SHA))
		}
	}

	if result.FilesModified == 0 {
		return
	}

	title := fmt.Sprintf("Decommission %s", database)
	body := fmt.Sprintf("Removes `%s` references.\n\nFiles:\n%s", database, strings.Join(outcomes, "\n"))
	prURL, err := host.CreatePullRequest(ctx, owner, repo, title, branch, p.baseBranch, body)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("pull request: %v", err))
		return
	}
	result.PullRequestURL = prURL
}

// rewriteFallback processes the quarantined copies with the rule-less
// strategy table, writing a local sibling tree instead of committing.
func (p *Pipeline) rewriteFallback(extraction *repopack.ExtractionResult, database string, result *RepositoryResult) {
	tree, err := p.processor.ProcessTree(extraction.QuarantineRoot, database)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("fallback: %v", err))
		return
	}
	result.FilesModified = len(tree.Processed)
	result.ModifiedPaths = tree.Processed
}

// announce posts the repository outcome to the chat channel. Failures become
// warnings on the result, never errors.
func (p *Pipeline) announce(ctx context.Context, wctx *workflow.Context, result *RepositoryResult, database string) {
	text := fmt.Sprintf("Decommission %s in %s: %d matched, %d modified",
		database, result.RepoURL, result.FilesMatched, result.FilesModified)
	if result.PullRequestURL != "" {
		text += " — " + result.PullRequestURL
	}
	p.notify(ctx, wctx, result, text)
}

// notify delivers one chat message with soft-failure handling.
func (p *Pipeline) notify(ctx context.Context, wctx *workflow.Context, result *RepositoryResult, text string) {
	chat := p.chatClient(ctx)
	if !chat.Enabled() {
		return
	}

	channel := DefaultChannel
	if v, ok := wctx.Shared(sharedEnvKey); ok {
		if snapshot, ok := v.(interface{ Get(string) string }); ok {
			if c := snapshot.Get(ParamChatChannel); c != "" {
				channel = c
			}
		}
	}

	if res := chat.PostMessage(ctx, channel, text, ""); !res.OK {
		result.ChatWarning = res.Error
		p.logWarning("chat", "Notification failed", map[string]any{
			"repo":  result.RepoURL,
			"error": res.Error,
		})
	}
}

// summarizeDiscovery condenses a discovery report.
func summarizeDiscovery(report *discovery.Report) *DiscoverySummary {
	summary := &DiscoverySummary{
		TotalFiles:    report.TotalFiles,
		MatchedFiles:  len(report.Files),
		TotalFindings: report.TotalFindings(),
	}
	if len(report.Files) > 0 {
		summary.ByType = map[classify.SourceType]int{}
		for st, files := range report.ByType() {
			summary.ByType[st] = len(files)
		}
	}
	return summary
}

// stepWorkflowSummary aggregates the run into the final metrics payload.
func stepWorkflowSummary(ctx context.Context, wctx *workflow.Context, params map[string]any) (any, error) {
	p, err := pipelineFrom(wctx)
	if err != nil {
		return nil, err
	}

	database, _ := params["database"].(string)
	summary := &Summary{
		Database:   database,
		WorkflowID: p.workflowID,
	}

	if v, ok := wctx.Shared(sharedResultsKey); ok {
		if results, ok := v.([]RepositoryResult); ok {
			summary.Repositories = results
		}
	}
	if v, ok := wctx.Shared(sharedQAKey); ok {
		if qa, ok := v.(*QAResult); ok {
			summary.QA = qa
		}
	}
	if v, ok := wctx.Shared(sharedStartKey); ok {
		if start, ok := v.(time.Time); ok {
			summary.DurationSeconds = time.Since(start).Seconds()
		}
	}

	for _, r := range summary.Repositories {
		summary.ReposProcessed++
		if r.Failed() {
			summary.ReposFailed++
		}
		summary.FilesMatched += r.FilesMatched
		summary.FilesModified += r.FilesModified
		if r.PullRequestURL != "" {
			summary.PullRequests++
		}
		if r.ChatWarning != "" {
			summary.ChatFailures++
		}
	}
	if summary.ReposProcessed > 0 {
		summary.SuccessRate = float64(summary.ReposProcessed-summary.ReposFailed) /
			float64(summary.ReposProcessed) * 100
	}

	wctx.SetShared(sharedSummaryKey, summary)

	if p.logger != nil {
		p.logger.LogMetrics("summary", logging.NewMetrics("Decommission run", map[string]any{
			"database":       summary.Database,
			"repositories":   summary.ReposProcessed,
			"repos_failed":   summary.ReposFailed,
			"files_matched":  summary.FilesMatched,
			"files_modified": summary.FilesModified,
			"pull_requests":  summary.PullRequests,
			"chat_failures":  summary.ChatFailures,
			"qa_score":       qaScore(summary.QA),
			"duration_s":     summary.DurationSeconds,
			"success_rate":   summary.SuccessRate,
		}))
	}
	return summary, nil
}

func qaScore(qa *QAResult) float64 {
	if qa == nil {
		return 0
	}
	return qa.Score
}
