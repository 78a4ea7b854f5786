package tools

import (
	"context"
	"fmt"
)

// ChatClient posts advisory notifications. It fails softly: every method
// returns a ChatResult and never a hard error, because a chat outage must
// not block the pipeline. A nil inner client yields a disabled ChatClient
// whose calls all report "chat disabled".
type ChatClient struct {
	client Client
}

// NewChatClient wraps a client bound to the chat server. client may be nil.
func NewChatClient(client Client) *ChatClient {
	return &ChatClient{client: client}
}

// ChatResult is the soft-failure result shape of every chat operation.
type ChatResult struct {
	OK    bool   `json:"ok"`
	TS    string `json:"ts,omitempty"`
	Error string `json:"error,omitempty"`
}

// Channel is one chat channel.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is one history entry.
type Message struct {
	TS   string `json:"ts"`
	User string `json:"user"`
	Text string `json:"text"`
}

// Enabled reports whether a chat server is wired at all.
func (c *ChatClient) Enabled() bool {
	return c.client != nil
}

// call wraps CallTool with soft-failure semantics.
func (c *ChatClient) call(ctx context.Context, tool string, args map[string]any) (*Response, ChatResult) {
	if c.client == nil {
		return nil, ChatResult{OK: false, Error: "chat disabled"}
	}
	resp, err := c.client.CallTool(ctx, tool, args)
	if err != nil {
		return nil, ChatResult{OK: false, Error: err.Error()}
	}
	return resp, ChatResult{OK: true}
}

// ListChannels lists the visible channels.
func (c *ChatClient) ListChannels(ctx context.Context) ([]Channel, ChatResult) {
	resp, result := c.call(ctx, "list_channels", map[string]any{})
	if !result.OK {
		return nil, result
	}

	var channels []Channel
	if err := resp.Decode(&channels); err == nil {
		return channels, result
	}
	var wrapped struct {
		Channels []Channel `json:"channels"`
	}
	if err := resp.Decode(&wrapped); err != nil {
		return nil, ChatResult{OK: false, Error: fmt.Sprintf("decode channels: %v", err)}
	}
	return wrapped.Channels, result
}

// PostMessage posts text to a channel, optionally into a thread.
func (c *ChatClient) PostMessage(ctx context.Context, channel, text, threadTS string) ChatResult {
	args := map[string]any{"channel": channel, "text": text}
	if threadTS != "" {
		args["thread_ts"] = threadTS
	}

	resp, result := c.call(ctx, "post_message", args)
	if !result.OK {
		return result
	}

	var wrapped struct {
		OK bool   `json:"ok"`
		TS string `json:"ts"`
	}
	if err := resp.Decode(&wrapped); err == nil {
		if !wrapped.OK && wrapped.TS == "" {
			return ChatResult{OK: false, Error: "server reported not ok"}
		}
		result.TS = wrapped.TS
	}
	return result
}

// ReplyToThread posts a reply into an existing thread.
func (c *ChatClient) ReplyToThread(ctx context.Context, channel, threadTS, text string) ChatResult {
	return c.PostMessage(ctx, channel, text, threadTS)
}

// AddReaction adds an emoji reaction to a message.
func (c *ChatClient) AddReaction(ctx context.Context, channel, ts, emoji string) ChatResult {
	_, result := c.call(ctx, "add_reaction", map[string]any{
		"channel":   channel,
		"timestamp": ts,
		"name":      emoji,
	})
	return result
}

// GetChannelHistory fetches recent messages.
func (c *ChatClient) GetChannelHistory(ctx context.Context, channel string, limit int) ([]Message, ChatResult) {
	args := map[string]any{"channel": channel}
	if limit > 0 {
		args["limit"] = limit
	}

	resp, result := c.call(ctx, "get_channel_history", args)
	if !result.OK {
		return nil, result
	}

	var messages []Message
	if err := resp.Decode(&messages); err == nil {
		return messages, result
	}
	var wrapped struct {
		Messages []Message `json:"messages"`
	}
	if err := resp.Decode(&wrapped); err != nil {
		return nil, ChatResult{OK: false, Error: fmt.Sprintf("decode history: %v", err)}
	}
	return wrapped.Messages, result
}
