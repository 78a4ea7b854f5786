package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PackerClient packs repositories into single-file archives and greps the
// packed output.
type PackerClient struct {
	client Client
}

// NewPackerClient wraps a client bound to the packer server.
func NewPackerClient(client Client) *PackerClient {
	return &PackerClient{client: client}
}

// PackResult describes one produced archive.
type PackResult struct {
	ArchivePath string `json:"archive_path"`
	FileCount   int    `json:"file_count"`
	TotalSize   int64  `json:"total_size"`
}

// GrepMatch is one line matched inside a packed archive.
type GrepMatch struct {
	Path         string   `json:"path"`
	LineNumber   int      `json:"line_number"`
	Line         string   `json:"line"`
	ContextLines []string `json:"context_lines,omitempty"`
}

// validateGlobs rejects malformed glob patterns before they reach the server.
func validateGlobs(kind string, globs []string) error {
	for _, glob := range globs {
		if !doublestar.ValidatePattern(glob) {
			return NewFatalError(fmt.Errorf("invalid %s glob: %q", kind, glob))
		}
	}
	return nil
}

// PackRemoteRepository packs a remote repository by URL.
func (p *PackerClient) PackRemoteRepository(ctx context.Context, url string, includes, excludes []string) (*PackResult, error) {
	if strings.TrimSpace(url) == "" {
		return nil, NewFatalError(fmt.Errorf("repository url is required"))
	}
	if err := validateGlobs("include", includes); err != nil {
		return nil, err
	}
	if err := validateGlobs("exclude", excludes); err != nil {
		return nil, err
	}

	args := map[string]any{"url": url}
	if len(includes) > 0 {
		args["include"] = strings.Join(includes, ",")
	}
	if len(excludes) > 0 {
		args["exclude"] = strings.Join(excludes, ",")
	}

	resp, err := p.client.CallTool(ctx, "pack_remote_repository", args)
	if err != nil {
		return nil, err
	}

	var result PackResult
	if err := resp.Decode(&result); err != nil {
		return nil, NewFatalError(fmt.Errorf("decode pack result: %w", err))
	}
	if result.ArchivePath == "" {
		return nil, NewFatalError(fmt.Errorf("pack result missing archive path"))
	}
	return &result, nil
}

// PackCodebase packs a local directory.
func (p *PackerClient) PackCodebase(ctx context.Context, localPath string, compress bool, topFilesLength int) (*PackResult, error) {
	if strings.TrimSpace(localPath) == "" {
		return nil, NewFatalError(fmt.Errorf("local path is required"))
	}

	args := map[string]any{
		"directory": localPath,
		"compress":  compress,
	}
	if topFilesLength > 0 {
		args["topFilesLength"] = topFilesLength
	}

	resp, err := p.client.CallTool(ctx, "pack_codebase", args)
	if err != nil {
		return nil, err
	}

	var result PackResult
	if err := resp.Decode(&result); err != nil {
		return nil, NewFatalError(fmt.Errorf("decode pack result: %w", err))
	}
	return &result, nil
}

// GrepPackedOutput searches a packed archive for a pattern.
func (p *PackerClient) GrepPackedOutput(ctx context.Context, archivePath, pattern string, contextLines int) ([]GrepMatch, error) {
	if strings.TrimSpace(archivePath) == "" {
		return nil, NewFatalError(fmt.Errorf("archive path is required"))
	}
	if pattern == "" {
		return nil, NewFatalError(fmt.Errorf("pattern is required"))
	}

	args := map[string]any{
		"outputFile": archivePath,
		"pattern":    pattern,
	}
	if contextLines > 0 {
		args["contextLines"] = contextLines
	}

	resp, err := p.client.CallTool(ctx, "grep_packed_output", args)
	if err != nil {
		return nil, err
	}

	// Servers reply either with a bare list or a wrapper object.
	var matches []GrepMatch
	if err := resp.Decode(&matches); err == nil {
		return matches, nil
	}
	var wrapped struct {
		Matches []GrepMatch `json:"matches"`
	}
	if err := resp.Decode(&wrapped); err != nil {
		return nil, NewFatalError(fmt.Errorf("decode grep result: %w", err))
	}
	return wrapped.Matches, nil
}
