package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/VINIA6/CHATAI/internal/retry"
)

// CreateTalk starts a conversation seeded with message and returns the talk
// with its full persisted message list. Timeouts are retried per the
// client's retry policy.
func (c *Client) CreateTalk(ctx context.Context, message string) (*CreateTalkResponse, error) {
	return retry.Do(ctx, c.retry, func(ctx context.Context) (*CreateTalkResponse, error) {
		var out CreateTalkResponse
		err := c.do(ctx, call{
			method: http.MethodPost,
			path:   "/talk",
			body:   map[string]string{"message": message},
			out:    &out,
		})
		if err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// AppendMessage adds a user message to an existing talk and returns the
// updated full message list. Timeouts are retried.
func (c *Client) AppendMessage(ctx context.Context, talkID, content string) ([]WireMessage, error) {
	return retry.Do(ctx, c.retry, func(ctx context.Context) ([]WireMessage, error) {
		var out messagesResponse
		err := c.do(ctx, call{
			method: http.MethodPost,
			path:   "/message",
			body: map[string]string{
				"talk_id": talkID,
				"content": content,
				"type":    "user",
			},
			out: &out,
		})
		if err != nil {
			return nil, err
		}
		return out.Messages, nil
	})
}

func (c *Client) RenameTalk(ctx context.Context, talkID, name string) (*TalkDescriptor, error) {
	var out struct {
		Talk TalkDescriptor `json:"talk"`
	}
	err := c.do(ctx, call{
		method: http.MethodPut,
		path:   "/talk",
		body:   map[string]string{"talk_id": talkID, "name": name},
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	if out.Talk.TalkID == "" {
		out.Talk.TalkID = talkID
	}
	if out.Talk.Name == "" {
		out.Talk.Name = name
	}
	return &out.Talk, nil
}

// DeleteTalk soft-deletes a conversation.
func (c *Client) DeleteTalk(ctx context.Context, talkID string) error {
	return c.do(ctx, call{
		method: http.MethodDelete,
		path:   "/talk",
		query:  url.Values{"talk_id": {talkID}},
	})
}

// ListTalks returns the caller's conversations. A body that is not a JSON
// array yields an empty list.
func (c *Client) ListTalks(ctx context.Context) ([]WireTalk, error) {
	var raw json.RawMessage
	if err := c.do(ctx, call{method: http.MethodGet, path: "/talk-user", out: &raw}); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		c.log.Warn("talk list response is not an array, treating as empty")
		return []WireTalk{}, nil
	}

	var talks []WireTalk
	if err := json.Unmarshal(trimmed, &talks); err != nil {
		return nil, &Error{Kind: KindDecode, Message: "Invalid response from server.", Err: err}
	}
	return talks, nil
}

func (c *Client) MessagesByTalk(ctx context.Context, talkID string) ([]WireMessage, error) {
	var out []WireMessage
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/messages-by-talk",
		query:  url.Values{"talk_id": {talkID}},
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
