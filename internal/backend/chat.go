package backend

import (
	"context"
	"io"
	"net/http"
)

// Chat sends a single-shot message and returns the complete reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var out ChatResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/chat",
		body:   req,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ChatStream opens the streaming endpoint. A non-2xx status is returned as
// an error before any byte is read; otherwise the caller must close the
// returned body.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	resp, err := c.send(ctx, c.stream, call{
		method: http.MethodPost,
		path:   "/chat/stream",
		body:   req,
		accept: "text/event-stream",
	})
	if err != nil {
		return nil, err
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &Error{Kind: KindDecode, Status: resp.StatusCode, Message: "Response body is not readable."}
	}
	return resp.Body, nil
}
