package tools

import (
	"context"
	"fmt"
	"strings"
)

// HostClient talks to the source-code host (branches, commits, pull
// requests). The server's catalog has no dedicated "get repository" tool;
// repository lookup routes through SearchRepositories.
type HostClient struct {
	client Client
}

// NewHostClient wraps a client bound to the host server.
func NewHostClient(client Client) *HostClient {
	return &HostClient{client: client}
}

// Repository is one search result.
type Repository struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
}

// RepoStructure summarizes a repository's layout.
type RepoStructure struct {
	Languages    map[string]int `json:"languages"`
	FileTree     []string       `json:"file_tree"`
	Dependencies []string       `json:"dependencies"`
}

// CommitRef identifies one created or updated commit.
type CommitRef struct {
	SHA    string `json:"sha"`
	Path   string `json:"path"`
	Branch string `json:"branch"`
}

// requireArgs returns a fatal error naming every blank argument.
func requireArgs(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) > 0 {
		return NewFatalError(fmt.Errorf("missing required arguments: %s", strings.Join(missing, ", ")))
	}
	return nil
}

// SearchRepositories searches the host for repositories matching query.
func (h *HostClient) SearchRepositories(ctx context.Context, query string) ([]Repository, error) {
	if err := requireArgs("query", query); err != nil {
		return nil, err
	}

	resp, err := h.client.CallTool(ctx, "search_repositories", map[string]any{"query": query})
	if err != nil {
		return nil, err
	}

	var repos []Repository
	if err := resp.Decode(&repos); err == nil {
		return repos, nil
	}
	var wrapped struct {
		Items []Repository `json:"items"`
	}
	if err := resp.Decode(&wrapped); err != nil {
		return nil, NewFatalError(fmt.Errorf("decode repository search: %w", err))
	}
	return wrapped.Items, nil
}

// AnalyzeRepoStructure returns the repository's languages, file tree, and
// dependency listing. Advisory: callers treat failure as a warning.
func (h *HostClient) AnalyzeRepoStructure(ctx context.Context, owner, repo string) (*RepoStructure, error) {
	if err := requireArgs("owner", owner, "repo", repo); err != nil {
		return nil, err
	}

	resp, err := h.client.CallTool(ctx, "analyze_repo_structure", map[string]any{
		"owner": owner,
		"repo":  repo,
	})
	if err != nil {
		return nil, err
	}

	var structure RepoStructure
	if err := resp.Decode(&structure); err != nil {
		return nil, NewFatalError(fmt.Errorf("decode repo structure: %w", err))
	}
	return &structure, nil
}

// GetFileContents fetches one file at an optional ref.
func (h *HostClient) GetFileContents(ctx context.Context, owner, repo, path, ref string) (string, error) {
	if err := requireArgs("owner", owner, "repo", repo, "path", path); err != nil {
		return "", err
	}

	args := map[string]any{"owner": owner, "repo": repo, "path": path}
	if ref != "" {
		args["ref"] = ref
	}

	resp, err := h.client.CallTool(ctx, "get_file_contents", args)
	if err != nil {
		return "", err
	}
	if resp.Text != "" {
		return resp.Text, nil
	}
	var wrapped struct {
		Content string `json:"content"`
	}
	if err := resp.Decode(&wrapped); err != nil {
		return "", NewFatalError(fmt.Errorf("decode file contents: %w", err))
	}
	return wrapped.Content, nil
}

// CreateOrUpdateFile commits one file to a branch.
func (h *HostClient) CreateOrUpdateFile(ctx context.Context, owner, repo, path, content, message, branch string) (*CommitRef, error) {
	if err := requireArgs("owner", owner, "repo", repo, "path", path, "message", message, "branch", branch); err != nil {
		return nil, err
	}

	resp, err := h.client.CallTool(ctx, "create_or_update_file", map[string]any{
		"owner":   owner,
		"repo":    repo,
		"path":    path,
		"content": content,
		"message": message,
		"branch":  branch,
	})
	if err != nil {
		return nil, err
	}

	ref := &CommitRef{Path: path, Branch: branch}
	var wrapped struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
		SHA string `json:"sha"`
	}
	if err := resp.Decode(&wrapped); err == nil {
		ref.SHA = wrapped.Commit.SHA
		if ref.SHA == "" {
			ref.SHA = wrapped.SHA
		}
	}
	return ref, nil
}

// CreateBranch creates a branch from an existing ref.
func (h *HostClient) CreateBranch(ctx context.Context, owner, repo, fromRef, newBranch string) error {
	if err := requireArgs("owner", owner, "repo", repo, "from_ref", fromRef, "new_branch", newBranch); err != nil {
		return err
	}

	_, err := h.client.CallTool(ctx, "create_branch", map[string]any{
		"owner":       owner,
		"repo":        repo,
		"from_branch": fromRef,
		"branch":      newBranch,
	})
	return err
}

// CreatePullRequest opens a pull request and returns its URL.
func (h *HostClient) CreatePullRequest(ctx context.Context, owner, repo, title, head, base, body string) (string, error) {
	if err := requireArgs("owner", owner, "repo", repo, "title", title, "head", head, "base", base); err != nil {
		return "", err
	}

	resp, err := h.client.CallTool(ctx, "create_pull_request", map[string]any{
		"owner": owner,
		"repo":  repo,
		"title": title,
		"head":  head,
		"base":  base,
		"body":  body,
	})
	if err != nil {
		return "", err
	}

	var wrapped struct {
		HTMLURL string `json:"html_url"`
		URL     string `json:"url"`
	}
	if err := resp.Decode(&wrapped); err != nil {
		return "", NewFatalError(fmt.Errorf("decode pull request: %w", err))
	}
	if wrapped.HTMLURL != "" {
		return wrapped.HTMLURL, nil
	}
	return wrapped.URL, nil
}
