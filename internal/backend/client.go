// Package backend is the HTTP client for the ChatAI backend API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/VINIA6/CHATAI/internal/retry"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout  = 120 * time.Second
	maxResponseSize = 8 * 1024 * 1024
	maxErrorBody    = 64 * 1024
)

// SessionSource provides the bearer token for authenticated calls and is
// cleared when the backend rejects it.
type SessionSource interface {
	// Token returns the current token, or "" if absent or expired.
	Token(ctx context.Context) string
	Clear(ctx context.Context) error
}

type Options struct {
	BaseURL string
	// Timeout caps request/response calls. For streams it only caps the
	// wait for response headers.
	Timeout time.Duration
	// Retry applies to CreateTalk and AppendMessage. The zero value means
	// retry.DefaultPolicy(); set Delay with MaxRetries 0 to disable retries.
	Retry    retry.Policy
	Sessions SessionSource
	Logger   logrus.FieldLogger

	// HTTPClient overrides the request/response client. Streams always use
	// a client without an overall timeout.
	HTTPClient *http.Client

	// OnUnauthorized is called after a 401 cleared the session.
	OnUnauthorized func()
}

type Client struct {
	baseURL        string
	http           *http.Client
	stream         *http.Client
	retry          retry.Policy
	sessions       SessionSource
	log            logrus.FieldLogger
	onUnauthorized func()
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	policy := opts.Retry
	if policy.MaxRetries == 0 && policy.Delay == 0 {
		policy = retry.DefaultPolicy()
	}

	c := &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		http:           hc,
		stream:         &http.Client{Transport: streamTransport(hc.Transport, timeout)},
		retry:          policy,
		sessions:       opts.Sessions,
		log:            log,
		onUnauthorized: opts.OnUnauthorized,
	}
	if c.retry.Retryable == nil {
		c.retry.Retryable = retry.IsTimeout
	}
	userHook := c.retry.OnRetry
	c.retry.OnRetry = func(attempt int, err error) {
		c.log.WithError(err).WithField("attempt", attempt).Warn("backend timeout, retrying")
		if userHook != nil {
			userHook(attempt, err)
		}
	}
	return c
}

// streamTransport bounds the wait for response headers only, so a backend
// that never answers fails with a timeout while long bodies still stream.
func streamTransport(rt http.RoundTripper, timeout time.Duration) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	t, ok := rt.(*http.Transport)
	if !ok {
		return rt
	}
	t = t.Clone()
	t.ResponseHeaderTimeout = timeout
	return t
}

type call struct {
	method    string
	path      string
	query     url.Values
	body      any
	out       any
	accept    string
	anonymous bool
}

// do performs a single request/response call. It never retries.
func (c *Client) do(ctx context.Context, cl call) error {
	resp, err := c.send(ctx, c.http, cl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if cl.out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return transportError(err)
	}
	if err := json.Unmarshal(body, cl.out); err != nil {
		return &Error{Kind: KindDecode, Status: resp.StatusCode, Message: "Invalid response from server.", Err: err}
	}
	return nil
}

// send issues the request and returns the response only for 2xx statuses.
// The caller owns the returned body.
func (c *Client) send(ctx context.Context, hc *http.Client, cl call) (*http.Response, error) {
	u := c.baseURL + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s: %w", cl.method, cl.path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", cl.method, cl.path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cl.accept != "" {
		req.Header.Set("Accept", cl.accept)
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if !cl.anonymous && c.sessions != nil {
		if token := c.sessions.Token(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := hc.Do(req)
	log := c.log.WithFields(logrus.Fields{"method": cl.method, "path": cl.path})
	if err != nil {
		log.WithError(err).WithField("cost", time.Since(start)).Debug("backend request failed")
		return nil, transportError(err)
	}
	log.WithFields(logrus.Fields{"status": resp.StatusCode, "cost": time.Since(start)}).Debug("backend response")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := statusError(resp.StatusCode, raw)

	if e.Kind == KindUnauthorized && !cl.anonymous {
		c.unauthorized(ctx)
	}
	return nil, e
}

func (c *Client) unauthorized(ctx context.Context) {
	c.log.Warn("backend rejected session, clearing it")
	if c.sessions != nil {
		if err := c.sessions.Clear(ctx); err != nil {
			c.log.WithError(err).Error("clear session")
		}
	}
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}
