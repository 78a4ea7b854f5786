package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory Client returning canned responses per tool.
type fakeClient struct {
	server    string
	responses map[string]*Response
	errs      map[string]error
	calls     []fakeCall
}

type fakeCall struct {
	tool string
	args map[string]any
}

func newFakeClient(server string) *fakeClient {
	return &fakeClient{
		server:    server,
		responses: map[string]*Response{},
		errs:      map[string]error{},
	}
}

func (f *fakeClient) respondJSON(tool, raw string) {
	f.responses[tool] = &Response{Raw: json.RawMessage(raw)}
}

func (f *fakeClient) respondText(tool, text string) {
	f.responses[tool] = &Response{Text: text, Raw: json.RawMessage(`{}`)}
}

func (f *fakeClient) Server() string                  { return f.server }
func (f *fakeClient) Start(context.Context) error     { return nil }
func (f *fakeClient) HealthCheck(context.Context) bool { return true }
func (f *fakeClient) Stop(time.Duration) error        { return nil }

func (f *fakeClient) ListAvailableTools(context.Context) ([]string, error) {
	names := make([]string, 0, len(f.responses))
	for name := range f.responses {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeClient) CallTool(_ context.Context, tool string, args map[string]any, _ ...CallOption) (*Response, error) {
	f.calls = append(f.calls, fakeCall{tool: tool, args: args})
	if err, ok := f.errs[tool]; ok {
		return nil, err
	}
	if resp, ok := f.responses[tool]; ok {
		return resp, nil
	}
	return nil, NewFatalError(&ToolError{Server: f.server, Tool: tool, Message: "unknown tool"})
}

func TestPackerPackRemoteRepository(t *testing.T) {
	fake := newFakeClient(ServerPacker)
	fake.respondJSON("pack_remote_repository", `{"archive_path":"/tmp/pack.xml","file_count":12,"total_size":4096}`)
	packer := NewPackerClient(fake)

	result, err := packer.PackRemoteRepository(context.Background(), "https://example.com/acme/app", []string{"**/*.py"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/pack.xml", result.ArchivePath)
	assert.Equal(t, 12, result.FileCount)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, "https://example.com/acme/app", fake.calls[0].args["url"])
	assert.Equal(t, "**/*.py", fake.calls[0].args["include"])
}

func TestPackerValidation(t *testing.T) {
	packer := NewPackerClient(newFakeClient(ServerPacker))

	_, err := packer.PackRemoteRepository(context.Background(), "", nil, nil)
	require.Error(t, err)
	assert.True(t, IsFatal(err))

	_, err = packer.PackRemoteRepository(context.Background(), "https://x", []string{"[bad"}, nil)
	require.Error(t, err)
	assert.True(t, IsFatal(err))

	_, err = packer.GrepPackedOutput(context.Background(), "", "db", 2)
	require.Error(t, err)
}

func TestHostCreatePullRequest(t *testing.T) {
	fake := newFakeClient(ServerHost)
	fake.respondJSON("create_pull_request", `{"html_url":"https://example.com/acme/app/pull/7"}`)
	host := NewHostClient(fake)

	url, err := host.CreatePullRequest(context.Background(), "acme", "app", "title", "head", "main", "body")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/acme/app/pull/7", url)
}

func TestHostArgumentValidation(t *testing.T) {
	host := NewHostClient(newFakeClient(ServerHost))

	_, err := host.CreateOrUpdateFile(context.Background(), "acme", "", "p", "c", "m", "b")
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Contains(t, err.Error(), "repo")

	err = host.CreateBranch(context.Background(), "", "app", "main", "new")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner")
}

func TestHostSearchRepositoriesWrappedShape(t *testing.T) {
	fake := newFakeClient(ServerHost)
	fake.respondJSON("search_repositories", `{"items":[{"owner":"acme","name":"app","default_branch":"main"}]}`)
	host := NewHostClient(fake)

	repos, err := host.SearchRepositories(context.Background(), "acme/app")
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "acme", repos[0].Owner)
	assert.Equal(t, "main", repos[0].DefaultBranch)
}

func TestChatFailsSoftly(t *testing.T) {
	fake := newFakeClient(ServerChat)
	fake.errs["post_message"] = NewTransientError(errors.New("chat is down"))
	chat := NewChatClient(fake)

	result := chat.PostMessage(context.Background(), "#ops", "hello", "")
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "chat is down")
}

func TestChatDisabled(t *testing.T) {
	chat := NewChatClient(nil)
	assert.False(t, chat.Enabled())

	result := chat.PostMessage(context.Background(), "#ops", "hello", "")
	assert.False(t, result.OK)
	assert.Equal(t, "chat disabled", result.Error)

	_, result = chat.ListChannels(context.Background())
	assert.False(t, result.OK)
}

func TestChatPostMessage(t *testing.T) {
	fake := newFakeClient(ServerChat)
	fake.respondJSON("post_message", `{"ok":true,"ts":"171234.5678"}`)
	chat := NewChatClient(fake)

	result := chat.PostMessage(context.Background(), "#ops", "done", "")
	assert.True(t, result.OK)
	assert.Equal(t, "171234.5678", result.TS)

	// Replies thread through the same tool.
	result = chat.ReplyToThread(context.Background(), "#ops", result.TS, "follow-up")
	assert.True(t, result.OK)
	require.Len(t, fake.calls, 2)
	assert.Equal(t, "171234.5678", fake.calls[1].args["thread_ts"])
}

func TestFilesystemPathValidation(t *testing.T) {
	fs := NewFilesystemClient(newFakeClient(ServerFilesystem))

	_, err := fs.ReadFile(context.Background(), "/etc/passwd")
	require.Error(t, err)
	assert.True(t, IsFatal(err))

	_, err = fs.ReadFile(context.Background(), "../outside.txt")
	require.Error(t, err)

	err = fs.MoveFile(context.Background(), "a.txt", "../../b.txt")
	require.Error(t, err)
}

func TestFilesystemReadFile(t *testing.T) {
	fake := newFakeClient(ServerFilesystem)
	fake.respondText("read_file", "contents here")
	fs := NewFilesystemClient(fake)

	content, err := fs.ReadFile(context.Background(), "dir/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "contents here", content)
}
