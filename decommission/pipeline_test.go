package decommission

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/dbworkflow/repopack"
	"github.com/c360studio/dbworkflow/rules"
	"github.com/c360studio/dbworkflow/tools"
	"github.com/c360studio/dbworkflow/workflow"
)

// fakeClient serves tool calls from an in-process handler.
type fakeClient struct {
	server string
	handle func(tool string, args map[string]any) (any, error)
}

func (f *fakeClient) Server() string                   { return f.server }
func (f *fakeClient) Start(context.Context) error      { return nil }
func (f *fakeClient) HealthCheck(context.Context) bool { return true }
func (f *fakeClient) Stop(time.Duration) error         { return nil }
func (f *fakeClient) ListAvailableTools(context.Context) ([]string, error) {
	return nil, nil
}

func (f *fakeClient) CallTool(_ context.Context, tool string, args map[string]any, _ ...tools.CallOption) (*tools.Response, error) {
	result, err := f.handle(tool, args)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &tools.Response{Raw: data}, nil
}

// fakeHostState is an in-memory code host: one repository, base files,
// branch overlays, commits, pull requests, and chat posts.
type fakeHostState struct {
	mu       sync.Mutex
	url      string
	files    map[string]string
	branches map[string]map[string]string
	commits  []string
	prs      []map[string]any
	posts    []string

	chatDown   bool
	analyzeErr error

	archiveDir string
	archiveSeq int
}

func newFakeHost(t *testing.T, url string, files map[string]string) *fakeHostState {
	t.Helper()
	return &fakeHostState{
		url:        url,
		files:      files,
		branches:   map[string]map[string]string{},
		archiveDir: t.TempDir(),
	}
}

// snapshotFiles returns the repository content at a branch (base overlaid
// with the branch's commits).
func (s *fakeHostState) snapshotFiles(branch string) map[string]string {
	merged := map[string]string{}
	for path, content := range s.files {
		merged[path] = content
	}
	if overlay, ok := s.branches[branch]; ok {
		for path, content := range overlay {
			merged[path] = content
		}
	}
	return merged
}

func (s *fakeHostState) packerHandler(tool string, args map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch tool {
	case "pack_remote_repository":
		url, _ := args["url"].(string)
		branch := ""
		if base, ref, found := strings.Cut(url, "/tree/"); found {
			url, branch = base, ref
		}
		if url != s.url {
			return nil, fmt.Errorf("unknown repository %q", url)
		}

		archive := &repopack.Archive{URL: url, PackedAt: "2025-06-01T00:00:00Z"}
		for path, content := range s.snapshotFiles(branch) {
			archive.Files = append(archive.Files, repopack.File{Path: path, Content: content})
		}

		s.archiveSeq++
		path := filepath.Join(s.archiveDir, fmt.Sprintf("pack-%d.xml", s.archiveSeq))
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		if err := repopack.Write(f, archive); err != nil {
			f.Close()
			return nil, err
		}
		f.Close()
		return map[string]any{"archive_path": path, "file_count": len(archive.Files)}, nil

	case "grep_packed_output":
		archivePath, _ := args["outputFile"].(string)
		pattern, _ := args["pattern"].(string)
		archive, err := repopack.ParseFile(archivePath)
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}

		var matches []map[string]any
		for _, file := range archive.TextFiles() {
			for i, line := range strings.Split(file.Content, "\n") {
				if re.MatchString(line) {
					matches = append(matches, map[string]any{
						"path":        file.Path,
						"line_number": i + 1,
						"line":        line,
					})
				}
			}
		}
		return map[string]any{"matches": matches}, nil
	}
	return nil, fmt.Errorf("unexpected packer tool %q", tool)
}

func (s *fakeHostState) hostHandler(tool string, args map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch tool {
	case "create_branch":
		branch, _ := args["branch"].(string)
		s.branches[branch] = map[string]string{}
		return map[string]any{"ref": "refs/heads/" + branch}, nil

	case "create_or_update_file":
		branch, _ := args["branch"].(string)
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)
		message, _ := args["message"].(string)
		if _, ok := s.branches[branch]; !ok {
			return nil, fmt.Errorf("unknown branch %q", branch)
		}
		s.branches[branch][path] = content
		s.commits = append(s.commits, message)
		return map[string]any{"commit": map[string]any{"sha": fmt.Sprintf("sha%04d", len(s.commits))}}, nil

	case "create_pull_request":
		s.prs = append(s.prs, args)
		return map[string]any{"html_url": fmt.Sprintf("https://example.com/pr/%d", len(s.prs))}, nil

	case "analyze_repo_structure":
		if s.analyzeErr != nil {
			return nil, s.analyzeErr
		}
		return map[string]any{"languages": map[string]int{"Python": 1}}, nil
	}
	return nil, fmt.Errorf("unexpected host tool %q", tool)
}

func (s *fakeHostState) chatHandler(tool string, args map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tool != "post_message" {
		return nil, fmt.Errorf("unexpected chat tool %q", tool)
	}
	if s.chatDown {
		return map[string]any{"ok": false}, nil
	}
	text, _ := args["text"].(string)
	s.posts = append(s.posts, text)
	return map[string]any{"ok": true, "ts": fmt.Sprintf("%d", len(s.posts))}, nil
}

func newTestPipeline(t *testing.T, state *fakeHostState, database string, opts ...PipelineOption) *Pipeline {
	t.Helper()
	t.Setenv("GITHUB_TOKEN", "tok-0123456789")

	base := []PipelineOption{
		WithClients(
			tools.NewPackerClient(&fakeClient{server: tools.ServerPacker, handle: state.packerHandler}),
			tools.NewHostClient(&fakeClient{server: tools.ServerHost, handle: state.hostHandler}),
			tools.NewChatClient(&fakeClient{server: tools.ServerChat, handle: state.chatHandler}),
		),
		WithWorkflowID("wf-fixed"),
		WithExtractor(repopack.NewExtractor(repopack.WithQuarantineRoot(t.TempDir()))),
		WithRulesEngine(rules.NewEngine(rules.WithHeader(rules.Header{
			Date:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			Strategy: "contextual-rules",
			Ticket:   "DBA-1234",
			Contact:  "dba-team",
		}))),
	}

	p, err := NewPipeline(database, []string{state.url}, append(base, opts...)...)
	require.NoError(t, err)
	return p
}

func TestPipelineHappyPath(t *testing.T) {
	state := newFakeHost(t, "https://example.com/acme/app", map[string]string{
		"app/db.py": strings.Join([]string{
			"def connect_to_postgres_air():",
			"    return connect(\"postgres_air\")",
		}, "\n"),
		"README.md": "Just an app.\n",
	})
	p := newTestPipeline(t, state, "postgres_air")

	result, summary, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Equal(t, 100.0, result.SuccessRate)

	require.Len(t, summary.Repositories, 1)
	repo := summary.Repositories[0]
	assert.Equal(t, 1, repo.FilesMatched)
	assert.Equal(t, 1, repo.FilesModified)
	assert.True(t, strings.HasPrefix(repo.Branch, "decommission-postgres_air-"))
	assert.Equal(t, "https://example.com/pr/1", repo.PullRequestURL)
	assert.Empty(t, repo.Errors)

	// The committed rewrite carries the banner and the injected raise.
	require.Len(t, state.commits, 1)
	assert.Equal(t, "decommission(python): remove postgres_air references from app/db.py", state.commits[0])
	committed := state.branches[repo.Branch]["app/db.py"]
	assert.Contains(t, committed, "DATABASE DECOMMISSIONED")
	assert.Contains(t, committed, "raise RuntimeError(")
	assert.Contains(t, committed, "# return connect")

	require.NotNil(t, summary.QA)
	assert.Equal(t, 100.0, summary.QA.Score)
	assert.Equal(t, CheckPass, summary.QA.Check(CheckResidualReferences).Status)
	assert.Equal(t, 100.0, summary.SuccessRate)
}

func TestPipelineNoMatches(t *testing.T) {
	state := newFakeHost(t, "https://example.com/acme/app", map[string]string{
		"app/db.py": "return connect(\"postgres_air\")\n",
	})
	p := newTestPipeline(t, state, "nonexistent")

	result, summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, result.Status)
	require.Len(t, summary.Repositories, 1)
	assert.Equal(t, 0, summary.Repositories[0].FilesModified)
	assert.Empty(t, summary.Repositories[0].PullRequestURL)
	assert.Empty(t, state.commits)
	assert.Empty(t, state.prs)
	assert.Equal(t, CheckPass, summary.QA.Check(CheckResidualReferences).Status)
}

func TestPipelineMixedSources(t *testing.T) {
	state := newFakeHost(t, "https://example.com/acme/platform", map[string]string{
		"infra/main.tf": strings.Join([]string{
			`resource "aws_db_instance" "postgres_air" {`,
			`  name = "postgres_air"`,
			`}`,
		}, "\n"),
		"chart/values.yaml": "database: postgres_air\n",
		"app/dao.py":        "DATABASE_URL = \"postgresql://db:5432/postgres_air\"\n",
		"README.md":         "The app reads from postgres_air nightly.\n",
	})
	p := newTestPipeline(t, state, "postgres_air")

	result, summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, result.Status)
	require.Len(t, summary.Repositories, 1)
	repo := summary.Repositories[0]
	assert.Equal(t, 4, repo.FilesMatched)
	assert.Equal(t, 4, repo.FilesModified)
	require.Len(t, state.commits, 4)

	branch := state.branches[repo.Branch]
	tokens := map[string]string{
		"infra/main.tf":     "#",
		"chart/values.yaml": "#",
		"app/dao.py":        "#",
		"README.md":         "<!--",
	}
	for path, token := range tokens {
		content, ok := branch[path]
		require.True(t, ok, "missing commit for %s", path)
		assert.True(t, strings.HasPrefix(content, token+" DATABASE DECOMMISSIONED"),
			"%s banner must use token %q", path, token)
		assert.Equal(t, 1, strings.Count(content, "DATABASE DECOMMISSIONED"),
			"%s banner must appear once", path)
	}

	assert.NotNil(t, summary.QA)
	assert.Equal(t, CheckPass, summary.QA.Check(CheckResidualReferences).Status)
	assert.Equal(t, CheckPass, summary.QA.Check(CheckRuleCompliance).Status)
}

func TestPipelineChatOutage(t *testing.T) {
	state := newFakeHost(t, "https://example.com/acme/app", map[string]string{
		"conf/app.yaml": "database: postgres_air\n",
	})
	state.chatDown = true
	p := newTestPipeline(t, state, "postgres_air")

	result, summary, err := p.Run(context.Background())
	require.NoError(t, err)

	// An unreachable chat channel never fails the run.
	assert.Equal(t, workflow.StatusCompleted, result.Status)
	_, failed, _ := result.Counts()
	assert.Zero(t, failed)

	assert.Equal(t, 1, summary.ChatFailures)
	require.Len(t, summary.Repositories, 1)
	assert.NotEmpty(t, summary.Repositories[0].ChatWarning)
	assert.Equal(t, 1, summary.Repositories[0].FilesModified)
}

func TestPipelineServiceIntegrityAdvisory(t *testing.T) {
	state := newFakeHost(t, "https://example.com/acme/app", map[string]string{
		"conf/app.yaml": "database: postgres_air\n",
	})
	state.analyzeErr = fmt.Errorf("analysis backend offline")
	p := newTestPipeline(t, state, "postgres_air")

	result, summary, err := p.Run(context.Background())
	require.NoError(t, err)

	// analyze_repo_structure failure degrades to a warning, never blocks.
	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Equal(t, CheckWarning, summary.QA.Check(CheckServiceIntegrity).Status)
	assert.NotEmpty(t, summary.Repositories[0].PullRequestURL)
	assert.InDelta(t, (1+1+0.5)/3.0*100, summary.QA.Score, 1e-9)
}

func TestPipelineFallbackProcessor(t *testing.T) {
	state := newFakeHost(t, "https://example.com/acme/app", map[string]string{
		"conf/app.yaml": "database: postgres_air\n",
	})
	quarantine := t.TempDir()
	p := newTestPipeline(t, state, "postgres_air",
		WithFallbackProcessor(),
		WithExtractor(repopack.NewExtractor(repopack.WithQuarantineRoot(quarantine))),
	)

	result, summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, result.Status)
	require.Len(t, summary.Repositories, 1)
	assert.Equal(t, 1, summary.Repositories[0].FilesModified)

	// No commits, no PR: the fallback writes a local sibling tree instead.
	assert.Empty(t, state.commits)
	assert.Empty(t, state.prs)
	out := filepath.Join(quarantine, "postgres_air"+DecommissionedSuffix, "conf", "app.yaml")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# database: postgres_air")
}

func TestPipelineMissingHostToken(t *testing.T) {
	state := newFakeHost(t, "https://example.com/acme/app", map[string]string{
		"a.py": "postgres_air\n",
	})
	p := newTestPipeline(t, state, "postgres_air")
	os.Unsetenv("GITHUB_TOKEN")

	result, _, err := p.Run(context.Background())
	require.NoError(t, err)

	// validate_environment fails; everything downstream is skipped.
	assert.Equal(t, workflow.StatusPartial, result.Status)
	completed, failed, skipped := result.Counts()
	assert.Zero(t, completed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 3, skipped)
}

func TestPipelineRejectsEmptyInputs(t *testing.T) {
	_, err := NewPipeline("", []string{"https://example.com/a/b"})
	assert.Error(t, err)

	_, err = NewPipeline("db", nil)
	assert.Error(t, err)
}

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		in    string
		owner string
		repo  string
		ok    bool
	}{
		{"https://github.com/acme/app", "acme", "app", true},
		{"https://github.com/acme/app.git", "acme", "app", true},
		{"https://github.com/acme/app/", "acme", "app", true},
		{"git@github.com:acme/app.git", "acme", "app", true},
		{"acme/app", "acme", "app", true},
		{"https://github.com/acme", "", "", false},
	}

	for _, tt := range tests {
		owner, repo, err := parseRepoURL(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.owner, owner, tt.in)
		assert.Equal(t, tt.repo, repo, tt.in)
	}
}
