// Package decommission is the concrete pipeline: it composes the workflow
// engine, tool clients, discovery, and the rules engine into the four-step
// run that removes a database's references from a fleet of repositories.
package decommission

import "github.com/c360studio/dbworkflow/classify"

// DiscoverySummary condenses a discovery report for result records and chat
// notifications.
type DiscoverySummary struct {
	TotalFiles    int                         `json:"total_files"`
	MatchedFiles  int                         `json:"matched_files"`
	TotalFindings int                         `json:"total_findings"`
	ByType        map[classify.SourceType]int `json:"by_type,omitempty"`
}

// RepositoryResult is the outcome for one repository.
type RepositoryResult struct {
	RepoURL string `json:"repo_url"`
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
	Branch  string `json:"branch,omitempty"`

	FilesMatched  int      `json:"files_matched"`
	FilesModified int      `json:"files_modified"`
	MatchedPaths  []string `json:"matched_paths,omitempty"`
	ModifiedPaths []string `json:"modified_paths,omitempty"`

	DiscoverySummary *DiscoverySummary `json:"discovery_summary,omitempty"`
	PullRequestURL   string            `json:"pull_request_url,omitempty"`
	ChatWarning      string            `json:"chat_warning,omitempty"`
	Errors           []string          `json:"errors,omitempty"`
}

// Failed reports whether the repository run hit a hard error.
func (r *RepositoryResult) Failed() bool {
	return len(r.Errors) > 0
}

// CheckStatus is the verdict of one quality-assurance check.
type CheckStatus string

const (
	CheckPass    CheckStatus = "pass"
	CheckWarning CheckStatus = "warning"
	CheckFail    CheckStatus = "fail"
)

// CheckResult is one QA check outcome.
type CheckResult struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// QAResult aggregates the three QA checks.
type QAResult struct {
	Checks []CheckResult `json:"checks"`

	// Score is 0-100: pass counts 1, warning ½, fail 0.
	Score float64 `json:"score"`
}

// computeScore derives the combined score from the checks.
func (q *QAResult) computeScore() {
	if len(q.Checks) == 0 {
		q.Score = 0
		return
	}
	total := 0.0
	for _, c := range q.Checks {
		switch c.Status {
		case CheckPass:
			total += 1
		case CheckWarning:
			total += 0.5
		}
	}
	q.Score = total / float64(len(q.Checks)) * 100
}

// Check returns the named check, nil when absent.
func (q *QAResult) Check(name string) *CheckResult {
	for i := range q.Checks {
		if q.Checks[i].Name == name {
			return &q.Checks[i]
		}
	}
	return nil
}

// Summary is the final aggregate emitted by the workflow_summary step.
type Summary struct {
	Database     string             `json:"database"`
	WorkflowID   string             `json:"workflow_id"`
	Repositories []RepositoryResult `json:"repositories"`

	ReposProcessed int `json:"repos_processed"`
	ReposFailed    int `json:"repos_failed"`
	FilesMatched   int `json:"files_matched"`
	FilesModified  int `json:"files_modified"`
	PullRequests   int `json:"pull_requests"`
	ChatFailures   int `json:"chat_failures"`

	QA              *QAResult `json:"qa,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	SuccessRate     float64   `json:"success_rate"`
}
