// Copyright 2024 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client implements the HTTP clients for the Buckets, Results and
// Pipelines backends. Every client shares a pooled transport, injects the
// workflow identification headers, and wraps mutating calls in a jittered
// retry policy with an overall deadline.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/abcxyz/pkg/logging"
	"github.com/chimefrb/workflow/pkg/version"
)

const (
	// DefaultTimeout is the per-request deadline.
	DefaultTimeout = 15 * time.Second

	// MinTimeout and MaxTimeout bound the configurable request deadline.
	MinTimeout = 500 * time.Millisecond
	MaxTimeout = 60 * time.Second

	// retryDeadline bounds the total time spent retrying one operation.
	retryDeadline = 30 * time.Second

	userAgent = "workflow-client"
)

var (
	// ErrInvalidRequest marks a 4xx response. Never retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrTransient marks a 5xx response or a network failure. Retryable.
	ErrTransient = errors.New("transient failure")
)

// Options configures a backend client.
type Options struct {
	// BaseURL of the backend service.
	BaseURL string

	// Timeout is the per-request deadline, clamped to [MinTimeout,
	// MaxTimeout]. Zero means DefaultTimeout.
	Timeout time.Duration

	// Token is the access token. When TokenHeader is set it is emitted as
	// the x-access-token header on every request.
	Token string

	// TokenHeader controls whether the token is sent. It is enabled when
	// the workspace declares auth.type=token with auth.provider=github.
	TokenHeader bool
}

// Client is the shared HTTP plumbing under the backend clients.
type Client struct {
	baseURL     string
	timeout     time.Duration
	token       string
	tokenHeader bool
	httpClient  *http.Client
}

// New creates a client bound to a backend baseurl. A missing token is
// logged once when the workspace demands token auth.
func New(ctx context.Context, opts *Options) (*Client, error) {
	if opts == nil || opts.BaseURL == "" {
		return nil, fmt.Errorf("baseurl is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid baseurl %q: %w", opts.BaseURL, err)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout < MinTimeout {
		timeout = MinTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	if opts.TokenHeader && opts.Token == "" {
		logging.FromContext(ctx).WarnContext(ctx, "access token not found, workspace requires it",
			"baseurl", opts.BaseURL)
	}

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		timeout:     timeout,
		token:       opts.Token,
		tokenHeader: opts.TokenHeader,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// BaseURL returns the backend baseurl the client is bound to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do issues one request. body is JSON-encoded when non-nil; a 2xx response
// is decoded into out when out is non-nil. 4xx maps to ErrInvalidRequest,
// 5xx and transport errors map to ErrTransient.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Workflow-Core-Version", version.Version)
	req.Header.Set("X-Workflow-Client-Arch", runtime.GOARCH)
	req.Header.Set("X-Workflow-Client-OS", runtime.GOOS)
	req.Header.Set("X-Workflow-Client-Platform", runtime.Version())
	if c.tokenHeader && c.token != "" {
		req.Header.Set("x-access-token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %s", ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fallthrough to decode
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s %s: %d %s", ErrInvalidRequest, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s %s: %d %s", ErrTransient, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// withRetry runs f under the standard retry policy: random 0.5-1.5s
// jittered backoff with a 30s overall deadline, re-raising the last error
// when the deadline elapses. 4xx responses are never retried.
func (c *Client) withRetry(ctx context.Context, f func(ctx context.Context) error) error {
	backoff := retry.WithJitter(500*time.Millisecond, retry.NewConstant(time.Second))
	backoff = retry.WithMaxDuration(retryDeadline, backoff)

	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := f(ctx); err != nil {
			if errors.Is(err, ErrInvalidRequest) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		return err
	}
	return nil
}
