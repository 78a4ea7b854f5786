package decommission

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/dbworkflow/config"
	"github.com/c360studio/dbworkflow/discovery"
	"github.com/c360studio/dbworkflow/logging"
	"github.com/c360studio/dbworkflow/repopack"
	"github.com/c360studio/dbworkflow/rules"
	"github.com/c360studio/dbworkflow/tools"
	"github.com/c360studio/dbworkflow/workflow"
)

// Shared-value keys. Keys are namespaced per step so concurrent writes to
// the same key cannot happen.
const (
	sharedPipelineKey = "decommission/pipeline"
	sharedEnvKey      = "validate_environment/snapshot"
	sharedResultsKey  = "process_repositories/results"
	sharedQAKey       = "quality_assurance/result"
	sharedSummaryKey  = "workflow_summary/summary"
	sharedStartKey    = "decommission/started_at"
)

// Environment parameter names.
const (
	ParamHostToken   = "GITHUB_TOKEN"
	ParamChatToken   = "SLACK_BOT_TOKEN"
	ParamChatChannel = "SLACK_CHANNEL"
	ParamCacheDir    = "CACHE_DIR"
)

// DefaultChannel receives the run notifications when SLACK_CHANNEL is unset.
const DefaultChannel = "#database-decommission"

// Pipeline owns everything one decommission run needs. Step bodies are named
// package-level functions; they reach the pipeline through the workflow
// context's shared values and receive their inputs via the parameters map.
type Pipeline struct {
	database   string
	repos      []string
	fallback   bool
	workflowID string
	baseBranch string

	coordinator *tools.Coordinator
	packer      *tools.PackerClient
	host        *tools.HostClient
	chat        *tools.ChatClient

	engine     *rules.Engine
	extractor  *repopack.Extractor
	discoverer *discovery.Engine
	processor  *Processor
	params     *config.Params
	logger     *logging.Logger
	observer   workflow.Observer
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithCoordinator wires the tool-server coordinator; typed clients resolve
// from it lazily unless overridden by WithClients.
func WithCoordinator(c *tools.Coordinator) PipelineOption {
	return func(p *Pipeline) { p.coordinator = c }
}

// WithClients injects typed clients directly, bypassing the coordinator.
func WithClients(packer *tools.PackerClient, host *tools.HostClient, chat *tools.ChatClient) PipelineOption {
	return func(p *Pipeline) {
		p.packer = packer
		p.host = host
		p.chat = chat
	}
}

// WithRulesEngine overrides the default rule packs.
func WithRulesEngine(e *rules.Engine) PipelineOption {
	return func(p *Pipeline) { p.engine = e }
}

// WithFallbackProcessor switches file rewriting to the rule-less processor.
func WithFallbackProcessor() PipelineOption {
	return func(p *Pipeline) { p.fallback = true }
}

// WithParams sets the parameter resolver.
func WithParams(params *config.Params) PipelineOption {
	return func(p *Pipeline) { p.params = params }
}

// WithPipelineLogger attaches a structured logger.
func WithPipelineLogger(logger *logging.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// WithWorkflowID pins the run id (and thereby the branch name).
func WithWorkflowID(id string) PipelineOption {
	return func(p *Pipeline) { p.workflowID = id }
}

// WithBaseBranch sets the branch PRs target.
func WithBaseBranch(branch string) PipelineOption {
	return func(p *Pipeline) { p.baseBranch = branch }
}

// WithObserver attaches an execution observer to the built workflow.
func WithObserver(observer workflow.Observer) PipelineOption {
	return func(p *Pipeline) { p.observer = observer }
}

// WithDiscoveryEngine overrides the default discovery calibration.
func WithDiscoveryEngine(e *discovery.Engine) PipelineOption {
	return func(p *Pipeline) { p.discoverer = e }
}

// WithExtractor overrides the reference extractor.
func WithExtractor(e *repopack.Extractor) PipelineOption {
	return func(p *Pipeline) { p.extractor = e }
}

// NewPipeline builds a pipeline for one database across the given
// repositories.
func NewPipeline(database string, repos []string, opts ...PipelineOption) (*Pipeline, error) {
	if strings.TrimSpace(database) == "" {
		return nil, fmt.Errorf("%w: database name", config.ErrMissingParameter)
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("%w: target repositories", config.ErrMissingParameter)
	}

	p := &Pipeline{
		database:   database,
		repos:      repos,
		workflowID: uuid.NewString(),
		baseBranch: "main",
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.engine == nil {
		p.engine = rules.NewEngine()
	}
	if p.extractor == nil {
		p.extractor = repopack.NewExtractor()
	}
	if p.discoverer == nil {
		engine, err := discovery.NewEngine()
		if err != nil {
			return nil, err
		}
		p.discoverer = engine
	}
	if p.processor == nil {
		p.processor = NewProcessor()
	}
	if p.params == nil {
		params, err := config.LoadParams()
		if err != nil {
			return nil, err
		}
		p.params = params
	}
	return p, nil
}

// WorkflowID returns the run id.
func (p *Pipeline) WorkflowID() string {
	return p.workflowID
}

// Branch returns the working branch derived from the run id.
func (p *Pipeline) Branch() string {
	return rules.BranchName(p.database, p.workflowID)
}

// Build composes the four-step workflow and its context.
func (p *Pipeline) Build() (*workflow.Workflow, *workflow.Context, error) {
	cfg := workflow.DefaultConfig("decommission-" + p.database)
	cfg.Description = "Decommission database " + p.database
	// Repository failures are accumulated, never fatal: QA must run over
	// whatever the run produced.
	cfg.StopOnError = false

	params := map[string]any{
		"database": p.database,
		"repos":    p.repos,
	}

	wf, err := workflow.New(cfg.Name).
		WithConfig(cfg).
		CustomStep("validate_environment", "Validate environment", stepValidateEnvironment, params).
		CustomStep("process_repositories", "Process repositories", stepProcessRepositories, params,
			workflow.DependsOn("validate_environment")).
		CustomStep("quality_assurance", "Quality assurance", stepQualityAssurance, params,
			workflow.DependsOn("process_repositories")).
		CustomStep("workflow_summary", "Workflow summary", stepWorkflowSummary, params,
			workflow.DependsOn("quality_assurance")).
		Build()
	if err != nil {
		return nil, nil, err
	}
	if p.logger != nil {
		wf = wf.WithLogger(p.logger)
	}
	if p.observer != nil {
		wf = wf.WithObserver(p.observer)
	}

	wctx := workflow.NewContext()
	wctx.SetShared(sharedPipelineKey, p)
	wctx.SetShared(sharedStartKey, time.Now())
	if p.coordinator != nil {
		wctx.SetClientProvider(p.coordinator.Client)
	}
	return wf, wctx, nil
}

// Run builds and executes the pipeline, returning the engine result and the
// final summary.
func (p *Pipeline) Run(ctx context.Context) (*workflow.Result, *Summary, error) {
	wf, wctx, err := p.Build()
	if err != nil {
		return nil, nil, err
	}

	result, err := wf.Execute(ctx, wctx)
	if err != nil {
		return nil, nil, err
	}

	var summary *Summary
	if v, ok := wctx.Shared(sharedSummaryKey); ok {
		summary, _ = v.(*Summary)
	}
	return result, summary, nil
}

// pipelineFrom recovers the pipeline handle stored in the context.
func pipelineFrom(wctx *workflow.Context) (*Pipeline, error) {
	v, ok := wctx.Shared(sharedPipelineKey)
	if !ok {
		return nil, fmt.Errorf("pipeline not attached to workflow context")
	}
	p, ok := v.(*Pipeline)
	if !ok {
		return nil, fmt.Errorf("unexpected pipeline value %T", v)
	}
	return p, nil
}

// packerClient resolves the packer, lazily via the coordinator when needed.
func (p *Pipeline) packerClient(ctx context.Context) (*tools.PackerClient, error) {
	if p.packer != nil {
		return p.packer, nil
	}
	if p.coordinator == nil {
		return nil, fmt.Errorf("no packer client configured")
	}
	packer, err := p.coordinator.Packer(ctx)
	if err != nil {
		return nil, err
	}
	p.packer = packer
	return packer, nil
}

// hostClient resolves the host client.
func (p *Pipeline) hostClient(ctx context.Context) (*tools.HostClient, error) {
	if p.host != nil {
		return p.host, nil
	}
	if p.coordinator == nil {
		return nil, fmt.Errorf("no host client configured")
	}
	host, err := p.coordinator.Host(ctx)
	if err != nil {
		return nil, err
	}
	p.host = host
	return host, nil
}

// chatClient resolves the chat client; absence yields a disabled client,
// never an error.
func (p *Pipeline) chatClient(ctx context.Context) *tools.ChatClient {
	if p.chat != nil {
		return p.chat
	}
	if p.coordinator == nil {
		p.chat = tools.NewChatClient(nil)
		return p.chat
	}
	p.chat = p.coordinator.Chat(ctx)
	return p.chat
}

// parseRepoURL splits a repository URL into owner and name.
func parseRepoURL(repoURL string) (owner, repo string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")

	var path string
	if strings.Contains(trimmed, "://") {
		u, perr := url.Parse(trimmed)
		if perr != nil {
			return "", "", fmt.Errorf("parse repository url %q: %w", repoURL, perr)
		}
		path = strings.Trim(u.Path, "/")
	} else if at := strings.Index(trimmed, ":"); at > 0 && strings.Contains(trimmed[:at], "@") {
		// scp-style git@host:owner/repo
		path = strings.Trim(trimmed[at+1:], "/")
	} else {
		path = strings.Trim(trimmed, "/")
	}

	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("repository url %q has no owner/name", repoURL)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

// branchRef appends a branch to a repository URL the way code hosts address
// refs, for re-packing the decommissioned branch.
func branchRef(repoURL, branch string) string {
	return strings.TrimRight(repoURL, "/") + "/tree/" + branch
}

func (p *Pipeline) logInfo(component, message string, data map[string]any) {
	if p.logger != nil {
		p.logger.Info(component, message, data)
	}
}

func (p *Pipeline) logWarning(component, message string, data map[string]any) {
	if p.logger != nil {
		p.logger.Warning(component, message, data)
	}
}

func (p *Pipeline) logError(component, message string, data map[string]any) {
	if p.logger != nil {
		p.logger.Error(component, message, data)
	}
}
