package tools

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// FilesystemClient operates on the tool server's single allowed root (the
// working directory). Paths that escape the root are rejected client-side
// before the call; the server enforces the same boundary.
type FilesystemClient struct {
	client Client
}

// NewFilesystemClient wraps a client bound to the filesystem server.
func NewFilesystemClient(client Client) *FilesystemClient {
	return &FilesystemClient{client: client}
}

// DirEntry is one directory listing entry.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// validatePath rejects absolute paths and parent-directory escapes.
func validatePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return NewFatalError(fmt.Errorf("path is required"))
	}
	if path.IsAbs(p) {
		return NewFatalError(fmt.Errorf("absolute path %q outside allowed root", p))
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return NewFatalError(fmt.Errorf("path %q escapes allowed root", p))
	}
	return nil
}

// ReadFile reads one file under the allowed root.
func (f *FilesystemClient) ReadFile(ctx context.Context, p string) (string, error) {
	if err := validatePath(p); err != nil {
		return "", err
	}

	resp, err := f.client.CallTool(ctx, "read_file", map[string]any{"path": p})
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

// WriteFile writes one file under the allowed root.
func (f *FilesystemClient) WriteFile(ctx context.Context, p, content string) error {
	if err := validatePath(p); err != nil {
		return err
	}
	_, err := f.client.CallTool(ctx, "write_file", map[string]any{
		"path":    p,
		"content": content,
	})
	return err
}

// ListDirectory lists one directory under the allowed root.
func (f *FilesystemClient) ListDirectory(ctx context.Context, p string) ([]DirEntry, error) {
	if err := validatePath(p); err != nil {
		return nil, err
	}

	resp, err := f.client.CallTool(ctx, "list_directory", map[string]any{"path": p})
	if err != nil {
		return nil, err
	}

	var entries []DirEntry
	if err := resp.Decode(&entries); err == nil {
		return entries, nil
	}
	var wrapped struct {
		Entries []DirEntry `json:"entries"`
	}
	if err := resp.Decode(&wrapped); err != nil {
		return nil, NewFatalError(fmt.Errorf("decode directory listing: %w", err))
	}
	return wrapped.Entries, nil
}

// CreateDirectory creates a directory (and parents) under the allowed root.
func (f *FilesystemClient) CreateDirectory(ctx context.Context, p string) error {
	if err := validatePath(p); err != nil {
		return err
	}
	_, err := f.client.CallTool(ctx, "create_directory", map[string]any{"path": p})
	return err
}

// SearchFiles searches for a name pattern under the given directory.
func (f *FilesystemClient) SearchFiles(ctx context.Context, p, pattern string) ([]string, error) {
	if err := validatePath(p); err != nil {
		return nil, err
	}
	if pattern == "" {
		return nil, NewFatalError(fmt.Errorf("pattern is required"))
	}

	resp, err := f.client.CallTool(ctx, "search_files", map[string]any{
		"path":    p,
		"pattern": pattern,
	})
	if err != nil {
		return nil, err
	}

	var paths []string
	if err := resp.Decode(&paths); err == nil {
		return paths, nil
	}
	var wrapped struct {
		Matches []string `json:"matches"`
	}
	if err := resp.Decode(&wrapped); err != nil {
		return nil, NewFatalError(fmt.Errorf("decode search result: %w", err))
	}
	return wrapped.Matches, nil
}

// MoveFile renames a file within the allowed root.
func (f *FilesystemClient) MoveFile(ctx context.Context, source, destination string) error {
	if err := validatePath(source); err != nil {
		return err
	}
	if err := validatePath(destination); err != nil {
		return err
	}
	_, err := f.client.CallTool(ctx, "move_file", map[string]any{
		"source":      source,
		"destination": destination,
	})
	return err
}
